package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"schoolcal/internal/models"
)

const progressInterval = 2 * time.Second

// groupBySlot partitions actions by the slot they touch, keeping the
// reconciler's order inside each group and the order of first appearance
// across groups.
func groupBySlot(actions []models.Action) [][]models.Action {
	var groups [][]models.Action
	index := make(map[models.Slot]int)
	for _, a := range actions {
		i, ok := index[a.Slot()]
		if !ok {
			i = len(groups)
			index[a.Slot()] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

// apply executes actions against the calendar with a bounded pool of workers.
//
// Actions sharing a slot run in order on one worker, so a replacement's
// Delete lands before its Create. When an action in a slot fails, the rest of
// that slot is skipped and left for the next cycle. Failures are not retried.
func (s *Syncer) apply(ctx context.Context, logger *slog.Logger, actions []models.Action) (applied, failed int, err error) {
	if len(actions) == 0 {
		logger.Info("Calendar is up to date.")
		return 0, 0, nil
	}

	if s.opts.DryRun {
		for _, a := range actions {
			logger.Info(fmt.Sprintf("[DRY RUN] Would %s event", a.Kind), "title", a.Title(), "slot", a.Slot())
			s.metrics.ObserveAction(a.Kind.String(), "dry_run")
		}
		return 0, 0, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	prog := newProgress(logger, len(actions), progressInterval)

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, group := range groupBySlot(actions) {
		g.Go(func() error {
			for i, a := range group {
				if err := s.applyOne(ctx, logger, a); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					prog.record(false)
					for _, skipped := range group[i+1:] {
						s.metrics.ObserveAction(skipped.Kind.String(), "skipped")
						prog.record(false)
					}
					return nil
				}
				prog.record(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	done, failed := prog.finish()
	return done - failed, failed, errors.Join(errs...)
}

func (s *Syncer) applyOne(ctx context.Context, logger *slog.Logger, a models.Action) error {
	if err := ctx.Err(); err != nil {
		s.metrics.ObserveAction(a.Kind.String(), "skipped")
		return err
	}
	if err := s.calendar.ApplyAction(ctx, a); err != nil {
		s.metrics.ObserveAction(a.Kind.String(), "failed")
		logger.Error("Failed to apply action", "action", a.Kind, "title", a.Title(), "slot", a.Slot(), "error", err)
		return fmt.Errorf("failed to %s %q at %s: %w", a.Kind, a.Title(), a.Slot(), err)
	}
	s.metrics.ObserveAction(a.Kind.String(), "ok")
	logger.Debug("Applied action", "action", a.Kind, "title", a.Title(), "slot", a.Slot())
	return nil
}
