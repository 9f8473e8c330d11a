// Package metrics exposes Prometheus collectors that report sync activity.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolcal"

// Metrics holds the sync collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	actions        *prometheus.CounterVec
	pipeline       *prometheus.GaugeVec
	ambiguousSlots prometheus.Counter
	lastSuccess    prometheus.Gauge
}

// MustNewMetrics constructs Metrics and registers them with reg. Registration
// errors panic, which mirrors the semantics of promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by outcome.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full sync cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Calendar actions by kind and outcome.",
		}, []string{"kind", "status"}),
		pipeline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pipeline_items",
			Help:      "Items produced by each pipeline stage in the last cycle.",
		}, []string{"stage"}),
		ambiguousSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "ambiguous_slots_total",
			Help:      "Time slots skipped because the calendar held ambiguous duplicates.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync cycle.",
		}),
	}
	reg.MustRegister(m.cycles, m.cycleDuration, m.actions, m.pipeline, m.ambiguousSlots, m.lastSuccess)
	return m
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	} else {
		m.lastSuccess.SetToCurrentTime()
	}
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// ObserveAction records the outcome of one calendar action.
func (m *Metrics) ObserveAction(kind, status string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, status).Inc()
}

// SetStage records how many items a pipeline stage produced.
func (m *Metrics) SetStage(stage string, n int) {
	if m == nil {
		return
	}
	m.pipeline.WithLabelValues(stage).Set(float64(n))
}

// AddAmbiguousSlots counts slots skipped for ambiguity.
func (m *Metrics) AddAmbiguousSlots(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ambiguousSlots.Add(float64(n))
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, logger *slog.Logger, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
