package server

import (
	"context"
	"fmt"
	"net"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/projecteru2/hatchery/api"
	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/lock"
	"github.com/projecteru2/hatchery/lock/flock"
	"github.com/projecteru2/hatchery/requests"
	"github.com/projecteru2/hatchery/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

// Serve runs until the command context is cancelled. Only one server may
// run per host: display sessions live in its memory.
func (h Handler) Serve(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		conf.Listen = listen
	}
	logger := log.WithFunc("cmd.serve")

	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	defer stack.Close()

	busy := fmt.Errorf("another server holds %s: %w", conf.ServerLockPath(), types.ErrBusy)
	return lock.WithTryLock(ctx, flock.New(conf.ServerLockPath()), busy, func() error {
		reqs, err := requests.Open(conf.RequestDBPath())
		if err != nil {
			return err
		}
		defer reqs.Close() //nolint:errcheck

		n, err := stack.Gateway.Reap(ctx)
		if err != nil {
			logger.Warnf(ctx, "reap display proxies: %v", err)
		} else if n > 0 {
			logger.Infof(ctx, "reaped %d display proxies left by a previous run", n)
		}
		// warm the network and provider checks
		go func() {
			if err := stack.VMs.Prerequisites(ctx); err != nil {
				logger.Warnf(ctx, "host prerequisites: %v", err)
			}
		}()

		ln, err := net.Listen("tcp", conf.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", conf.Listen, err)
		}
		defer stack.Gateway.CloseAll(context.WithoutCancel(ctx))
		return api.New(conf, stack.VMs, reqs).Serve(ctx, ln)
	})
}
