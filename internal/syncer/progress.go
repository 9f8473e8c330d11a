package syncer

import (
	"log/slog"
	"sync"
	"time"
)

// progress counts finished actions across workers and logs a throttled
// status line.
type progress struct {
	logger   *slog.Logger
	total    int
	interval time.Duration

	mu     sync.Mutex
	done   int
	failed int

	// render is held while a worker writes a status line; others skip it.
	render     sync.Mutex
	lastRender time.Time
}

func newProgress(logger *slog.Logger, total int, interval time.Duration) *progress {
	return &progress{logger: logger, total: total, interval: interval, lastRender: time.Now()}
}

// record counts one finished action. The count is never lost even when the
// status line is skipped.
func (p *progress) record(ok bool) {
	p.mu.Lock()
	p.done++
	if !ok {
		p.failed++
	}
	done, failed := p.done, p.failed
	p.mu.Unlock()

	if !p.render.TryLock() {
		return
	}
	defer p.render.Unlock()
	if done >= p.total || time.Since(p.lastRender) < p.interval {
		return
	}
	p.lastRender = time.Now()
	p.logger.Info("Applying actions...", "done", done, "failed", failed, "total", p.total)
}

// finish logs the final counts and returns them.
func (p *progress) finish() (done, failed int) {
	p.render.Lock()
	defer p.render.Unlock()

	done, failed = p.snapshot()
	p.logger.Info("Applied actions.", "done", done, "failed", failed, "total", p.total)
	return done, failed
}

func (p *progress) snapshot() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}
