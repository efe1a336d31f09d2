package requests

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/namespace"
	reqstore "github.com/projecteru2/hatchery/requests"
	"github.com/projecteru2/hatchery/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Submit(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	user, err := cmdcore.Identity(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	defer stack.Close()
	store, err := reqstore.Open(conf.RequestDBPath())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	meta, err := stack.VMs.Specs(ctx, user, args[0])
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	sub := reqstore.Submission{
		Username: user,
		VMName:   meta.Name,
		Current:  reqstore.Current{RAMMB: meta.MemoryMB, CPU: meta.CPUs},
	}
	sub.RAM, _ = cmd.Flags().GetString("ram")
	sub.CPU, _ = cmd.Flags().GetInt("cpu")
	sub.Storage, _ = cmd.Flags().GetString("storage")
	sub.Reason, _ = cmd.Flags().GetString("reason")

	req, err := store.Submit(ctx, sub)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Println(req.ID)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	user, err := cmdcore.Identity(cmd)
	if err != nil {
		return err
	}
	store, err := reqstore.Open(conf.RequestDBPath())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	var f reqstore.Filter
	if !namespace.NewStaticPolicy(conf.Admins).IsAdmin(user) {
		f.Username = user
	}
	status, _ := cmd.Flags().GetString("status")
	f.Status = types.RequestStatus(status)

	reqs, err := store.List(ctx, f)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("No requests found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	_, _ = fmt.Fprintln(w, "ID\tUSER\tVM\tRAM\tCPU\tSTORAGE\tSTATUS\tCREATED\tREASON")
	for _, r := range reqs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\t%d -> %d\t%dG\t%s\t%s\t%s\n",
			r.ID,
			r.Username,
			r.VMName,
			reqstore.HumanMB(r.CurrentRAMMB), reqstore.HumanMB(r.RequestedRAMMB),
			r.CurrentCPU, r.RequestedCPU,
			r.RequestedStorageGB,
			r.Status,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Reason,
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Approve(cmd *cobra.Command, args []string) error {
	return h.decide(cmd, args[0], types.RequestApproved)
}

func (h Handler) Reject(cmd *cobra.Command, args []string) error {
	return h.decide(cmd, args[0], types.RequestRejected)
}

func (h Handler) decide(cmd *cobra.Command, id string, status types.RequestStatus) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	user, err := cmdcore.Identity(cmd)
	if err != nil {
		return err
	}
	if !namespace.NewStaticPolicy(conf.Admins).IsAdmin(user) {
		return fmt.Errorf("%s may not review requests: %w", user, types.ErrUnauthorized)
	}
	store, err := reqstore.Open(conf.RequestDBPath())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	notes, _ := cmd.Flags().GetString("notes")
	req, err := store.Decide(ctx, id, status, notes)
	if err != nil {
		return fmt.Errorf("%s: %w", status, err)
	}
	log.WithFunc("cmd.decide").Infof(ctx, "request %s by %s for %s: %s", req.ID, req.Username, req.VMName, req.Status)
	return nil
}
