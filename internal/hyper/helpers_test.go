package hyper_test

import (
	"sync"
	"testing"
	"time"

	"hyper-go/internal/hyper"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

// countingMetrics records the counters tests assert on.
type countingMetrics struct {
	hyper.NopMetrics

	mu        sync.Mutex
	alarms    []string
	retries   int
	exhausted int
	applied   map[hyper.ChangeKind]int
	reconcile []hyper.ReconcileReport
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{applied: make(map[hyper.ChangeKind]int)}
}

func (m *countingMetrics) ChangeApplied(kind hyper.ChangeKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[kind]++
}

func (m *countingMetrics) ConsistencyAlarm(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = append(m.alarms, op)
}

func (m *countingMetrics) CollisionRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) CollisionExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted++
}

func (m *countingMetrics) Reconciled(r hyper.ReconcileReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcile = append(m.reconcile, r)
}

func (m *countingMetrics) alarmCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alarms)
}
