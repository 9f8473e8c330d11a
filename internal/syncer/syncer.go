package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"schoolcal/internal/metrics"
	"schoolcal/internal/models"
	"schoolcal/internal/reconcile"
	"schoolcal/internal/timetable"
)

// LessonSource delivers the raw timetable.
type LessonSource interface {
	FetchRawLessons(ctx context.Context, from, to time.Time) ([]models.RawLesson, error)
}

// Calendar is the calendar being mirrored into.
type Calendar interface {
	FetchRemoteEvents(ctx context.Context, from, to time.Time) ([]models.RemoteEvent, error)
	ApplyAction(ctx context.Context, a models.Action) error
}

// Options tunes a Syncer.
type Options struct {
	Exclusion    timetable.Exclusion
	Days         int            // Lookahead window in days
	Reminder     time.Duration  // Alarm lead time
	Location     *time.Location // Zone defining the start of the day
	Workers      int            // Concurrent calendar writes
	FetchTimeout time.Duration  // Bound on each fetch
	DryRun       bool
	ReportFile   string // Where to write the last cycle's report; empty disables it
}

// Report is the serializable outcome of one cycle.
type Report struct {
	Cycle       string            `json:"cycle"`
	GeneratedAt time.Time         `json:"generated_at"`
	Window      models.Interval   `json:"window"`
	Actions     []models.Action   `json:"actions"`
	FreeTime    []models.Interval `json:"free_time"`
	Applied     int               `json:"applied"`
	Failed      int               `json:"failed"`
	DryRun      bool              `json:"dry_run"`
}

// Syncer orchestrates the synchronization from the school portal to a calendar.
type Syncer struct {
	logger   *slog.Logger
	source   LessonSource
	calendar Calendar
	opts     Options
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSyncer creates a new Syncer. m may be nil.
func NewSyncer(logger *slog.Logger, source LessonSource, cal Calendar, opts Options, m *metrics.Metrics) (*Syncer, error) {
	if source == nil || cal == nil {
		return nil, errors.New("syncer needs a lesson source and a calendar")
	}
	if opts.Days <= 0 {
		return nil, fmt.Errorf("lookahead must be positive, got %d days", opts.Days)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Syncer{
		logger:   logger,
		source:   source,
		calendar: cal,
		opts:     opts,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Sync performs a full synchronization cycle.
func (s *Syncer) Sync(ctx context.Context) error {
	started := s.now()
	cycle := uuid.NewString()
	logger := s.logger.With("cycle", cycle)
	logger.Info("Starting sync cycle.")

	report, err := s.sync(ctx, logger)
	if report != nil {
		report.Cycle = cycle
	}
	s.metrics.ObserveCycle(err, s.now().Sub(started))
	if report != nil && s.opts.ReportFile != "" {
		if werr := saveReport(s.opts.ReportFile, report); werr != nil {
			logger.Error("Failed to save cycle report", "file", s.opts.ReportFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	logger.Info("Sync cycle finished.", "actions", len(report.Actions), "applied", report.Applied, "duration", s.now().Sub(started))
	return nil
}

func (s *Syncer) sync(ctx context.Context, logger *slog.Logger) (*Report, error) {
	now := s.now()
	window := timetable.Window(now, s.opts.Location, s.opts.Days)

	report, err := s.plan(ctx, logger, window, now)
	if err != nil {
		return nil, err
	}

	applied, failed, err := s.apply(ctx, logger, report.Actions)
	report.Applied, report.Failed = applied, failed
	if err != nil {
		return report, fmt.Errorf("%d of %d calendar actions failed: %w", failed, len(report.Actions), err)
	}
	return report, nil
}

// plan fetches both sides and computes the actions for one window.
func (s *Syncer) plan(ctx context.Context, logger *slog.Logger, window models.Interval, now time.Time) (*Report, error) {
	raw, err := s.fetchLessons(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lessons: %w", err)
	}
	s.metrics.SetStage("raw", len(raw))

	lessons, rejected := timetable.Normalize(raw, s.opts.Exclusion)
	for _, rerr := range rejected {
		logger.Warn("Rejected lesson record", "error", rerr)
	}
	s.metrics.SetStage("lessons", len(lessons))

	blocks, err := timetable.Compress(lessons)
	if err != nil {
		return nil, fmt.Errorf("failed to compress lessons: %w", err)
	}
	if n := timetable.CountOverlaps(blocks); n > 0 {
		logger.Warn("Timetable contains overlapping blocks", "pairs", n)
	}
	s.metrics.SetStage("blocks", len(blocks))

	free := timetable.Gaps(blocks, window)
	s.metrics.SetStage("free", len(free))
	events := reconcile.NewEvents(blocks, s.opts.Reminder)
	logger.Info("Computed schedule.", "lessons", len(lessons), "rejected", len(rejected), "blocks", len(blocks), "free", len(free))

	// Reconciling against a partial snapshot would delete or duplicate events.
	remote, err := s.fetchRemote(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar events: %w", err)
	}
	s.metrics.SetStage("remote", len(remote))

	actions, err := reconcile.Reconcile(events, free, remote, now)
	if err != nil {
		var ambiguous []error
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			ambiguous = joined.Unwrap()
		} else {
			ambiguous = []error{err}
		}
		for _, aerr := range ambiguous {
			logger.Error("Skipping ambiguous time slot", "error", aerr)
		}
		s.metrics.AddAmbiguousSlots(len(ambiguous))
	}

	return &Report{
		GeneratedAt: now,
		Window:      window,
		Actions:     actions,
		FreeTime:    free,
		DryRun:      s.opts.DryRun,
	}, nil
}

// Clear deletes every event in the sync window.
func (s *Syncer) Clear(ctx context.Context) error {
	logger := s.logger.With("cycle", uuid.NewString())
	window := timetable.Window(s.now(), s.opts.Location, s.opts.Days)

	remote, err := s.fetchRemote(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to fetch calendar events: %w", err)
	}
	actions := make([]models.Action, 0, len(remote))
	for _, r := range remote {
		actions = append(actions, models.Delete(r))
	}
	logger.Info("Clearing calendar window.", "events", len(actions), "from", window.Start, "to", window.End)

	if _, failed, err := s.apply(ctx, logger, actions); err != nil {
		return fmt.Errorf("%d of %d deletions failed: %w", failed, len(actions), err)
	}
	return nil
}

func (s *Syncer) fetchLessons(ctx context.Context, window models.Interval) ([]models.RawLesson, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	return s.source.FetchRawLessons(ctx, window.Start, window.End)
}

func (s *Syncer) fetchRemote(ctx context.Context, window models.Interval) ([]models.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	return s.calendar.FetchRemoteEvents(ctx, window.Start, window.End)
}

// saveReport writes the cycle report as indented JSON.
func saveReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cycle report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
