// Package metrics exposes sync engine measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hyper-go/internal/hyper"
	"hyper-go/internal/watcher"
)

// SyncMetrics holds the Prometheus metrics of one syncer and its watcher.
type SyncMetrics struct {
	registry *prometheus.Registry

	ChangesApplied    *prometheus.CounterVec // hyper_changes_applied_total{kind}
	ConsistencyAlarms *prometheus.CounterVec // hyper_consistency_alarms_total{op}
	CollisionRetries  prometheus.Counter     // hyper_collision_retries_total
	CollisionFailures prometheus.Counter     // hyper_collision_failures_total
	ReconcileDeleted  *prometheus.CounterVec // hyper_reconcile_deleted_total{level}
	ReconcileRuns     prometheus.Counter     // hyper_reconcile_runs_total
	PendingRenameSize prometheus.Gauge       // hyper_pending_renames
	IndexEntries      *prometheus.GaugeVec   // hyper_index_entries{level}
}

var (
	_ hyper.Metrics   = (*SyncMetrics)(nil)
	_ watcher.Metrics = (*SyncMetrics)(nil)
)

// New registers the sync metrics, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *SyncMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := newSyncMetrics(reg)
	m.registry = reg
	return m
}

func newSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	f := promauto.With(reg)
	return &SyncMetrics{
		ChangesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyper_changes_applied_total",
			Help: "Changes applied to the store and index, by kind",
		}, []string{"kind"}),

		ConsistencyAlarms: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyper_consistency_alarms_total",
			Help: "Events or changes that referred to entries missing from the index",
		}, []string{"op"}),

		CollisionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "hyper_collision_retries_total",
			Help: "Name collisions resolved by retrying with a marker",
		}),

		CollisionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hyper_collision_failures_total",
			Help: "Operations abandoned after exhausting collision retries",
		}),

		ReconcileDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyper_reconcile_deleted_total",
			Help: "Stale store rows deleted by reconciliation",
		}, []string{"level"}),

		ReconcileRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "hyper_reconcile_runs_total",
			Help: "Completed reconciliation passes",
		}),

		PendingRenameSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "hyper_pending_renames",
			Help: "Renames waiting for their destination",
		}),

		IndexEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyper_index_entries",
			Help: "Entries held in the in-memory index",
		}, []string{"level"}),
	}
}

func (m *SyncMetrics) ChangeApplied(kind hyper.ChangeKind) {
	if m == nil {
		return
	}
	m.ChangesApplied.WithLabelValues(kind.String()).Inc()
}

func (m *SyncMetrics) ConsistencyAlarm(op string) {
	if m == nil {
		return
	}
	m.ConsistencyAlarms.WithLabelValues(op).Inc()
}

func (m *SyncMetrics) CollisionRetry() {
	if m == nil {
		return
	}
	m.CollisionRetries.Inc()
}

func (m *SyncMetrics) CollisionExhausted() {
	if m == nil {
		return
	}
	m.CollisionFailures.Inc()
}

func (m *SyncMetrics) Reconciled(report hyper.ReconcileReport) {
	if m == nil {
		return
	}
	m.ReconcileRuns.Inc()
	m.ReconcileDeleted.WithLabelValues("bucket").Add(float64(report.Buckets))
	m.ReconcileDeleted.WithLabelValues("key").Add(float64(report.Keys))
	m.ReconcileDeleted.WithLabelValues("object").Add(float64(report.Objects))
}

func (m *SyncMetrics) IndexSize(buckets, keys, objects int) {
	if m == nil {
		return
	}
	m.IndexEntries.WithLabelValues("bucket").Set(float64(buckets))
	m.IndexEntries.WithLabelValues("key").Set(float64(keys))
	m.IndexEntries.WithLabelValues("object").Set(float64(objects))
}

func (m *SyncMetrics) PendingRenames(n int) {
	if m == nil {
		return
	}
	m.PendingRenameSize.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *SyncMetrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return m.serve(ctx, ln)
}

func (m *SyncMetrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping metrics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}
