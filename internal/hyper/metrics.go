package hyper

// Metrics receives sync engine measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	ChangeApplied(kind ChangeKind)
	ConsistencyAlarm(op string)
	CollisionRetry()
	CollisionExhausted()
	Reconciled(report ReconcileReport)
	IndexSize(buckets, keys, objects int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ChangeApplied(ChangeKind) {}
func (NopMetrics) ConsistencyAlarm(string) {}
func (NopMetrics) CollisionRetry() {}
func (NopMetrics) CollisionExhausted() {}
func (NopMetrics) Reconciled(ReconcileReport) {}
func (NopMetrics) IndexSize(int, int, int) {}
