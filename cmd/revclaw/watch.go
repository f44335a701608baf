package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/revclaw/internal/cron"
	"github.com/basket/revclaw/internal/memory"
)

// runWatchCommand keeps the index synchronized with the append log. It
// rebuilds whenever the log file changes on disk, which covers git pull,
// rebase, and branch switches. With a backfill schedule configured it also
// runs the embedding repair job.
func runWatchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := openRuntime(ctx, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	// The first rebuild happens up front so a stale index never serves a
	// search while we wait for the first file event.
	if err := rt.store.Rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initial rebuild: %v\n", err)
		return 1
	}

	watcher := memory.NewWatcher(rt.store, rt.cfg.LogPath(), rt.logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}

	if expr := rt.cfg.Embedding.BackfillSchedule; expr != "" {
		sched, err := cron.NewScheduler(cron.Config{
			Store:    rt.store,
			CronExpr: expr,
			Logger:   rt.logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "backfill schedule: %v\n", err)
			return 1
		}
		sched.Start(ctx)
		defer sched.Stop()
		rt.logger.Info("backfill scheduled", "cron", expr)
	}

	rt.logger.Info("watching memory log", "path", rt.cfg.LogPath())
	<-ctx.Done()
	rt.logger.Info("watch stopped")
	return 0
}
