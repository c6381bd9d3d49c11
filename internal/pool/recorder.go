package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHistoryCap bounds the in-memory metric history.
	DefaultHistoryCap = 10000

	// defaultQueryLimit is applied when a caller passes no limit.
	defaultQueryLimit = 1000
)

// MetricFilter narrows a Recorder query. Zero values mean "no constraint".
type MetricFilter struct {
	Backend Backend
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Recorder is the single choke-point for metric creation. It keeps a bounded
// in-memory ring of QueryMetric records (oldest evicted first) and fans out
// metric_recorded and slow_query_detected events.
type Recorder struct {
	mu   sync.Mutex
	buf  []QueryMetric
	next int // index of the next write
	size int

	slowThreshold time.Duration
	bus           *eventBus
	logger        *zap.Logger
}

// newRecorder creates a recorder with the given history capacity.
func newRecorder(capacity int, slowThreshold time.Duration, bus *eventBus, logger *zap.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &Recorder{
		buf:           make([]QueryMetric, capacity),
		slowThreshold: slowThreshold,
		bus:           bus,
		logger:        logger,
	}
}

// Record appends a metric to the history. O(1); the oldest record is
// overwritten once the ring is full. Event dispatch never blocks the caller.
func (r *Recorder) Record(m QueryMetric) {
	r.mu.Lock()
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()

	r.bus.publish(EventMetricRecorded, m)

	if r.slowThreshold > 0 && m.Duration > r.slowThreshold {
		r.logger.Warn("Slow query detected",
			zap.String("backend", string(m.Backend)),
			zap.Duration("duration", m.Duration),
			zap.String("query", m.Query))
		r.bus.publish(EventSlowQuery, m)
	}
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the history capacity.
func (r *Recorder) Cap() int {
	return len(r.buf)
}

// Query returns a newest-first snapshot of retained records matching the
// filter. Results are copies; mutating them does not affect the history.
func (r *Recorder) Query(f MetricFilter) []QueryMetric {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > len(r.buf) {
		limit = len(r.buf)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]QueryMetric, 0, min(limit, r.size))
	for i := 0; i < r.size && len(out) < limit; i++ {
		// Walk backwards from the most recent record.
		idx := (r.next - 1 - i + len(r.buf)*2) % len(r.buf)
		m := &r.buf[idx]
		if f.Backend != "" && m.Backend != f.Backend {
			continue
		}
		if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && m.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// forEach visits every retained record, oldest first, under the lock.
// Visitors must not call back into the recorder. Returning false stops early.
func (r *Recorder) forEach(fn func(m *QueryMetric) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.size; i++ {
		idx := (r.next - r.size + i + len(r.buf)*2) % len(r.buf)
		if !fn(&r.buf[idx]) {
			return
		}
	}
}

// totals returns total and failed call counts over the retained history.
func (r *Recorder) totals() (total, failed int64) {
	r.forEach(func(m *QueryMetric) bool {
		total++
		if !m.Success {
			failed++
		}
		return true
	})
	return total, failed
}

// meanDuration returns the arithmetic mean duration of calls recorded at or
// after since. An empty window yields 0, never NaN.
func (r *Recorder) meanDuration(since time.Time, backend Backend) time.Duration {
	var sum time.Duration
	var n int64
	r.forEach(func(m *QueryMetric) bool {
		if m.Timestamp.Before(since) {
			return true
		}
		if backend != "" && m.Backend != backend {
			return true
		}
		sum += m.Duration
		n++
		return true
	})
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// countSince counts records for a backend recorded at or after since.
// Slow counts use the recorder's slow-query threshold.
func (r *Recorder) countSince(since time.Time, backend Backend) (errors, slow int64) {
	r.forEach(func(m *QueryMetric) bool {
		if m.Timestamp.Before(since) {
			return true
		}
		if backend != "" && m.Backend != backend {
			return true
		}
		if !m.Success {
			errors++
		}
		if r.slowThreshold > 0 && m.Duration > r.slowThreshold {
			slow++
		}
		return true
	})
	return errors, slow
}

// prune drops records older than before and returns how many were removed.
// Runs on the manager's retention sweep, not on the record path.
func (r *Recorder) prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]QueryMetric, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.next - r.size + i + len(r.buf)*2) % len(r.buf)
		if !r.buf[idx].Timestamp.Before(before) {
			kept = append(kept, r.buf[idx])
		}
	}

	removed := r.size - len(kept)
	if removed == 0 {
		return 0
	}

	clear(r.buf)
	copy(r.buf, kept)
	r.size = len(kept)
	r.next = r.size % len(r.buf)
	return removed
}
