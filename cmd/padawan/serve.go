package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nstogner/padawan/pkg/server"
	"github.com/nstogner/padawan/pkg/telemetry"
	"github.com/nstogner/padawan/pkg/tools"
)

func serveCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mission API and the built-in tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			setupLogging(cfg.Log, os.Stderr)
			ctx := cmd.Context()

			tracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx); err != nil {
					slog.Warn("Failed to flush traces", "error", err)
				}
			}()

			rt, err := newRuntime(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := tools.DefaultRegistry()
			opts := []server.Option{
				server.WithTools(&tools.Handler{Registry: reg, Root: cfg.Workspace.Root}),
				server.WithMetrics(rt.metrics),
			}
			if rt.index != nil {
				opts = append(opts, server.WithReportIndex(rt.index))
			}
			srv := server.New(server.Config{
				Addr:            cfg.Server.Addr,
				AllowOrigins:    cfg.Server.AllowOrigins,
				DefaultMaxSteps: cfg.Mission.DefaultMaxSteps,
				DefaultModel:    cfg.LLM.Model,
			}, rt.store, rt.controller, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return registerBuiltinTools(gctx, rt.store, reg)
			})
			g.Go(func() error {
				return srv.Run(gctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
