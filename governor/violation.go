package governor

import (
	"fmt"
	"sync"
	"time"
)

// Kind names the resource axis a violation occurred on.
type Kind string

const (
	KindHeapMemory      Kind = "heap_memory"
	KindCPUTime         Kind = "cpu_time"
	KindThreads         Kind = "threads"
	KindFileDescriptors Kind = "file_descriptors"
	KindConnections     Kind = "connections"
)

// Severity ranks violation kinds for log level selection. It does not
// change retirement policy; retirement is driven by the cumulative count.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severity returns the rank for a violation kind. Memory pressure can take
// the host down, CPU burn starves neighbors, the rest leak slowly.
func (k Kind) Severity() Severity {
	switch k {
	case KindHeapMemory:
		return SeverityCritical
	case KindCPUTime:
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// Record is one observed limit violation.
type Record struct {
	Kind      Kind      `json:"kind"`
	Observed  int64     `json:"observed"`
	Limit     int64     `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s: observed %d exceeds limit %d", r.Kind, r.Observed, r.Limit)
}

// UnmountBehavior governs what happens when a plugin's cumulative violation
// count crosses the threshold.
type UnmountBehavior struct {
	// AutoUnmount retires the plugin through the normal unload path when
	// the threshold is crossed. When false, violations only accumulate.
	AutoUnmount bool `json:"auto_unmount"`
	// LogViolations emits a log line per appended record.
	LogViolations bool `json:"log_violations"`
	// GracePeriod is how long a retiring plugin gets between the shutdown
	// request and forced termination.
	GracePeriod time.Duration `json:"grace_period"`
	// CallShutdown sends the plugin its shutdown request before teardown.
	CallShutdown bool `json:"call_shutdown"`
}

// DefaultUnmountBehavior retires violators gracefully.
func DefaultUnmountBehavior() UnmountBehavior {
	return UnmountBehavior{
		AutoUnmount:   true,
		LogViolations: true,
		GracePeriod:   time.Second,
		CallShutdown:  true,
	}
}

// DefaultViolationThreshold is the cumulative violation count that triggers
// auto-retirement.
const DefaultViolationThreshold = 10

// Tracker is one plugin's append-only violation ledger. The count is a
// lifetime counter: it survives across monitor intervals and is cleared
// only by Reset.
type Tracker struct {
	mu        sync.Mutex
	records   []Record
	threshold int
}

// NewTracker builds a ledger with the given retirement threshold.
// Non-positive thresholds fall back to DefaultViolationThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultViolationThreshold
	}
	return &Tracker{threshold: threshold}
}

// Append adds records to the ledger and returns the new cumulative count.
func (t *Tracker) Append(records ...Record) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
	return len(t.records)
}

// Count returns the cumulative violation count.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Exceeded reports whether the cumulative count reached the threshold.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records) >= t.threshold
}

// Threshold returns the configured retirement threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Reset clears the ledger and returns how many records were dropped.
func (t *Tracker) Reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.records)
	t.records = nil
	return n
}

// Snapshot returns a copy of the ledger in append order.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}
