// Package cron runs the embedding backfill on a schedule: records saved
// while the embedding server was unreachable get their vectors repaired in
// the background, so search quality recovers without human action.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// batchSize bounds how many records one firing repairs.
const batchSize = 50

// Backfiller is the slice of the memory façade the scheduler needs.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (int, error)
}

// Config holds the dependencies for the backfill scheduler.
type Config struct {
	Store    Backfiller
	CronExpr string
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires the backfill whenever the cron expression comes due.
type Scheduler struct {
	store    Backfiller
	schedule cronlib.Schedule
	logger   *slog.Logger
	interval time.Duration
	nextRun  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler for the given cron expression.
func NewScheduler(cfg Config) (*Scheduler, error) {
	schedule, err := cronParser.Parse(cfg.CronExpr)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		schedule: schedule,
		logger:   logger,
		interval: interval,
		nextRun:  schedule.Next(time.Now()),
	}, nil
}

// Start begins the scheduler loop in a background goroutine. The loop stops
// when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("backfill scheduler started", "next_run", s.nextRun)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("backfill scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(s.nextRun) {
				continue
			}
			s.fire(ctx, now)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	repaired, err := s.store.Backfill(ctx, batchSize)
	if err != nil {
		s.logger.Error("backfill failed", "error", err)
	} else if repaired > 0 {
		s.logger.Info("backfill repaired embeddings", "records", repaired)
	}
	s.nextRun = s.schedule.Next(now)
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
