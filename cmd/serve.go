package cmd

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brian-mwirigi/codesession/internal/server"
	"github.com/brian-mwirigi/codesession/internal/session"
)

var serveOpts struct {
	addr         string
	recoverEvery time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only dashboard API",
	Long: `Serve session data and spend rollups as JSON over HTTP until interrupted.
The address, bearer token and rate limit come from the [server] config table;
--addr overrides the address. With --recover-every, stale sessions are
recovered on that interval while serving.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Server.Addr
		if serveOpts.addr != "" {
			addr = serveOpts.addr
		}
		if serveOpts.recoverEvery < 0 {
			return session.InvalidInput("--recover-every must not be negative")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			srv := server.New(a.store, server.Options{
				Token:     cfg.Server.Token,
				RateLimit: cfg.Server.RateLimit,
				Logger:    logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, addr) })
			if serveOpts.recoverEvery > 0 {
				g.Go(func() error { return recoverLoop(gctx, a, serveOpts.recoverEvery) })
			}
			if !jsonOutput {
				printf(cmd, "Serving on http://%s (Ctrl-C to stop).\n", addr)
			}
			return g.Wait()
		})
	},
}

// recoverLoop ends stale sessions every interval until ctx is done.
func recoverLoop(ctx context.Context, a *app, every time.Duration) error {
	maxAge := time.Duration(cfg.StaleAfter)
	c := cron.New()
	_, err := c.AddFunc("@every "+every.String(), func() {
		recovered, err := a.ctl.Recover(ctx, maxAge)
		if err != nil {
			logger.Warn("periodic recovery failed", "error", err)
			return
		}
		if len(recovered) > 0 {
			logger.Info("periodic recovery", "sessions", len(recovered))
		}
	})
	if err != nil {
		return session.InvalidInput("invalid --recover-every: %v", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.addr, "addr", "", "listen address (default: server.addr from config)")
	f.DurationVar(&serveOpts.recoverEvery, "recover-every", 0, "recover stale sessions on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
