package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ExecOptions controls a single execute call.
type ExecOptions struct {
	// Timeout bounds the connection-acquisition phase. Query execution
	// itself is bounded by the caller's context, not by this value.
	Timeout time.Duration

	// Retries is the number of additional whole-operation attempts after a
	// failure. Retries are immediate (no backoff) and each attempt gets a
	// fresh acquisition timeout budget.
	Retries int

	// UseTransaction wraps the call in a transaction: commit on success,
	// rollback on any error before re-raising.
	UseTransaction bool
}

// QueryResult is the backend-appropriate result of an execute call.
type QueryResult struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	Duration     time.Duration    `json:"duration"`
}

// PoolStats is a point-in-time view of a native driver pool. Figures the
// driver does not expose are reported as zero, never fabricated.
type PoolStats struct {
	TotalConnections     int32 `json:"total_connections"`
	IdleConnections      int32 `json:"idle_connections"`
	ActiveConnections    int32 `json:"active_connections"`
	WaitingClients       int64 `json:"waiting_clients"`
	ConnectionsCreated   int64 `json:"connections_created"`
	ConnectionsDestroyed int64 `json:"connections_destroyed"`
}

// Adapter is the lifecycle contract shared by all backend adapters.
type Adapter interface {
	Backend() Backend
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
	PoolStats() PoolStats
}

// Adapter initialization states
const (
	stateUninitialized int32 = iota
	stateConnecting
	stateReady
	stateFailed
)

// adapterCore carries the state machine and telemetry plumbing shared by the
// backend adapters.
type adapterCore struct {
	backend  Backend
	state    atomic.Int32
	recorder *Recorder
	leases   *leaseTracker
	logger   *zap.Logger
}

func newAdapterCore(backend Backend, recorder *Recorder, leases *leaseTracker, logger *zap.Logger) adapterCore {
	return adapterCore{
		backend:  backend,
		recorder: recorder,
		leases:   leases,
		logger:   logger.Named(string(backend)),
	}
}

// Backend returns the adapter's backend tag.
func (c *adapterCore) Backend() Backend {
	return c.backend
}

func (c *adapterCore) setState(s int32) {
	c.state.Store(s)
}

// requireReady fails calls arriving before initialization completed.
func (c *adapterCore) requireReady() error {
	if c.state.Load() != stateReady {
		return ErrNotInitialized
	}
	return nil
}

// report records the outcome metric for one call attempt. Runs on success
// and on every failure path; telemetry is never skipped on errors.
func (c *adapterCore) report(query string, start time.Time, connID string, rows int64, params []any, err error) {
	c.recorder.Record(newQueryMetric(c.backend, query, start, connID, rows, params, err))
}

// withRetry runs fn up to retries+1 times. Failures retry immediately with
// no backoff; only the final error is surfaced to the caller.
func withRetry(retries int, fn func() (*QueryResult, error)) (*QueryResult, error) {
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// isAcquireTimeout reports whether err looks like an exhausted acquisition
// budget rather than a driver failure.
func isAcquireTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
