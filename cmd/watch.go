package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// endCheckInterval is how often a watching process checks whether its
// session was ended by another process.
var endCheckInterval = 5 * time.Second

var errSessionEnded = errors.New("session ended")

var watchSession int64

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Record file changes and commits for the active session until it ends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				s   *session.Session
				err error
			)
			if watchSession > 0 {
				s, err = a.store.GetSession(ctx, watchSession)
			} else {
				s, err = a.ctl.Active(ctx, a.dir)
			}
			if err != nil {
				return err
			}
			if !s.Active() {
				return session.InvalidInput("session %d is not active", s.ID)
			}
			return runWatch(ctx, cmd, a, s)
		})
	},
}

// runWatch tracks s until ctx is canceled or the session is ended elsewhere.
// Observers are always unregistered on return.
func runWatch(ctx context.Context, cmd *cobra.Command, a *app, s *session.Session) error {
	if err := a.ctl.Track(ctx, s); err != nil {
		return err
	}
	defer a.registry.Unregister(s.ID)
	if !jsonOutput {
		printf(cmd, "Watching session #%d in %s (Ctrl-C to stop).\n", s.ID, s.WorkDir)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Pick up commits made before the first scheduled poll.
		a.registry.Poll(s.ID)
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(endCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
			cur, err := a.store.GetSession(gctx, s.ID)
			if err != nil {
				logger.Warn("checking session state", "session_id", s.ID, "error", err)
				continue
			}
			if !cur.Active() {
				return errSessionEnded
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errSessionEnded) {
		if !jsonOutput {
			printf(cmd, "Session #%d ended; stopped watching.\n", s.ID)
		}
		return nil
	}
	return err
}

func init() {
	watchCmd.Flags().Int64Var(&watchSession, "session", 0, "session id (default: the active session in this directory)")
	rootCmd.AddCommand(watchCmd)
}
