package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type cycler interface {
	Sync(ctx context.Context) error
}

// runSchedule runs a sync cycle on every tick of expr until ctx is done.
// A tick that fires while the previous cycle still runs is skipped.
func runSchedule(ctx context.Context, logger *slog.Logger, s cycler, expr string, loc *time.Location) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := s.Sync(ctx); err != nil {
			logger.Error("Sync cycle failed", "error", err)
		}
	}))

	logger.Info("Starting scheduler.", "schedule", expr, "next", schedule.Next(time.Now().In(loc)))
	c.Start()
	<-ctx.Done()

	logger.Info("Stopping scheduler.")
	<-c.Stop().Done()
	return nil
}
