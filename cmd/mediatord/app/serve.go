// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raniksyn/mediator/pkg/gateway"
	"github.com/raniksyn/mediator/pkg/toolserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and the tool server in one process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			if err := rt.bootstrap(ctx); err != nil {
				return err
			}
			ts := toolserver.New(rt.cfg, rt.pipelineDeps())
			gw := gateway.New(rt.cfg, rt.users, rt.tokens, rt.sessions, rt.engine, rt.tel)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ts.Serve(ctx) })
			g.Go(func() error { return gw.Serve(ctx) })
			return g.Wait()
		})
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run only the client-facing gateway tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			if err := rt.bootstrap(ctx); err != nil {
				return err
			}
			return gateway.New(rt.cfg, rt.users, rt.tokens, rt.sessions, rt.engine, rt.tel).Serve(ctx)
		})
	},
}

var toolServerCmd = &cobra.Command{
	Use:   "toolserver",
	Short: "Run only the tool server tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
			return toolserver.New(rt.cfg, rt.pipelineDeps()).Serve(ctx)
		})
	},
}

// withRuntime loads configuration, wires the runtime, and runs fn until
// the process receives an interrupt.
func withRuntime(parent context.Context, fn func(context.Context, *runtime) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	return fn(ctx, rt)
}
