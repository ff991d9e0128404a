package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debugbridge/internal/admin"
	"debugbridge/internal/jobs"
	"debugbridge/internal/logging"
	"debugbridge/internal/mcpserver"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCmd() *cobra.Command {
	var stdio bool
	var adminListen string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the game process and serve tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := logging.FromContext(ctx)

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			if adminListen != "" {
				cfg.Admin.Listen = adminListen
			}
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := rt.Close(closeCtx); err != nil {
					logger.Warn("shutdown", "err", err)
				}
			}()

			// The heartbeat keeps retrying, so a remote that is not up yet is
			// not fatal.
			if err := rt.client.ConnectWithRetry(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("remote not reachable, tools will fail until it is", "url", cfg.RemoteURL(), "err", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return ignoreCancel(rt.client.RunHeartbeat(gctx))
			})
			if cfg.Admin.Listen != "" {
				handler := admin.NewRouter(admin.Options{
					Orchestrator:   rt.orch,
					Status:         rt.client,
					Events:         rt.hub,
					Logger:         logger.With("component", "admin"),
					Token:          cfg.Admin.Token,
					AllowedOrigins: cfg.Admin.AllowedOrigins,
					Version:        version,
				})
				g.Go(func() error { return admin.Serve(gctx, cfg.Admin.Listen, handler) })
			}
			if cfg.Jobs.Enabled {
				consumer := jobs.NewConsumer(rt.redis, rt.orch, jobs.Options{
					Stream:    cfg.Jobs.Stream,
					Group:     cfg.Jobs.Group,
					Consumer:  cfg.Jobs.Consumer,
					KeyPrefix: cfg.Redis.KeyPrefix,
					ResultTTL: cfg.Jobs.ResultTTL,
					Logger:    logger.With("component", "jobs"),
				})
				g.Go(func() error { return consumer.Run(gctx) })
			}
			if stdio {
				srv := mcpserver.New(mcpserver.Options{
					Version:      version,
					Orchestrator: rt.orch,
					Status:       rt.client,
					Logger:       logger.With("component", "mcp"),
				})
				g.Go(func() error {
					// The client closing stdin ends the whole process.
					defer stop()
					return ignoreCancel(srv.Run(gctx))
				})
			}
			if !stdio && cfg.Admin.Listen == "" && !cfg.Jobs.Enabled {
				logger.Warn("no surface enabled; only keeping the remote connection alive")
			}
			return g.Wait()
		},
	}
	c.Flags().BoolVar(&stdio, "stdio", true, "serve MCP over stdin/stdout")
	c.Flags().StringVar(&adminListen, "admin-listen", "", "admin HTTP listen address (overrides admin.listen)")
	return c
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
