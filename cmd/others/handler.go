package others

import (
	"fmt"
	"sort"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	defer stack.Close()

	o := gc.New()
	stack.VMs.RegisterGC(o)
	stack.Gateway.RegisterGC(o)
	removed, err := o.Run(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, id := range removed[name] {
			fmt.Printf("%s\t%s\n", name, id)
		}
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed")
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
