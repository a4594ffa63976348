package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hyper-go/internal/hyper"
)

func TestSyncMetrics_Record(t *testing.T) {
	m := New()

	m.ChangeApplied(hyper.ChangeNewObject)
	m.ChangeApplied(hyper.ChangeNewObject)
	m.ChangeApplied(hyper.ChangeNewBucket)
	m.ConsistencyAlarm("delete")
	m.CollisionRetry()
	m.CollisionRetry()
	m.CollisionExhausted()
	m.Reconciled(hyper.ReconcileReport{Buckets: 1, Keys: 2, Objects: 3})
	m.IndexSize(2, 5, 40)
	m.PendingRenames(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"new objects", testutil.ToFloat64(m.ChangesApplied.WithLabelValues(hyper.ChangeNewObject.String())), 2},
		{"new buckets", testutil.ToFloat64(m.ChangesApplied.WithLabelValues(hyper.ChangeNewBucket.String())), 1},
		{"alarms", testutil.ToFloat64(m.ConsistencyAlarms.WithLabelValues("delete")), 1},
		{"retries", testutil.ToFloat64(m.CollisionRetries), 2},
		{"failures", testutil.ToFloat64(m.CollisionFailures), 1},
		{"reconcile runs", testutil.ToFloat64(m.ReconcileRuns), 1},
		{"reconciled keys", testutil.ToFloat64(m.ReconcileDeleted.WithLabelValues("key")), 2},
		{"reconciled objects", testutil.ToFloat64(m.ReconcileDeleted.WithLabelValues("object")), 3},
		{"indexed objects", testutil.ToFloat64(m.IndexEntries.WithLabelValues("object")), 40},
		{"pending renames", testutil.ToFloat64(m.PendingRenameSize), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	m.PendingRenames(0)
	if got := testutil.ToFloat64(m.PendingRenameSize); got != 0 {
		t.Errorf("pending renames after reset = %v", got)
	}
}

func TestSyncMetrics_NilReceiver(t *testing.T) {
	var m *SyncMetrics
	m.ChangeApplied(hyper.ChangeNewKey)
	m.ConsistencyAlarm("name")
	m.CollisionRetry()
	m.CollisionExhausted()
	m.Reconciled(hyper.ReconcileReport{})
	m.IndexSize(1, 1, 1)
	m.PendingRenames(1)
}

func TestSyncMetrics_Serve(t *testing.T) {
	m := New()
	m.CollisionRetry()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "hyper_collision_retries_total 1") {
		t.Errorf("body does not contain the retry counter:\n%s", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("serve() error = %v", err)
	}
}
