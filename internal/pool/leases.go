package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LeakInfo is the payload of a connection_leak_detected event.
type LeakInfo struct {
	OperationID string        `json:"operation_id"`
	Backend     Backend       `json:"backend"`
	HeldFor     time.Duration `json:"held_for"`
}

type lease struct {
	backend    Backend
	acquiredAt time.Time
	timer      *time.Timer
	leaked     bool
}

// leaseTracker detects connections held past the configured leak timeout.
// It is advisory only: a leaked operation is reported, never interrupted,
// and its entry stays until the operation releases it.
type leaseTracker struct {
	mu      sync.Mutex
	leases  map[string]*lease
	timeout time.Duration
	bus     *eventBus
	logger  *zap.Logger
}

func newLeaseTracker(timeout time.Duration, bus *eventBus, logger *zap.Logger) *leaseTracker {
	return &leaseTracker{
		leases:  make(map[string]*lease),
		timeout: timeout,
		bus:     bus,
		logger:  logger,
	}
}

// Track registers an operation and arms its one-shot leak check.
func (t *leaseTracker) Track(operationID string, backend Backend) {
	if t.timeout <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l := &lease{backend: backend, acquiredAt: time.Now()}
	l.timer = time.AfterFunc(t.timeout, func() {
		t.reportLeak(operationID)
	})
	t.leases[operationID] = l
}

// Release cancels the pending check and removes the entry. Releasing an
// unknown or already-released operation is a no-op.
func (t *leaseTracker) Release(operationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[operationID]
	if !ok {
		return
	}
	l.timer.Stop()
	delete(t.leases, operationID)
}

// Active returns the number of outstanding leases.
func (t *leaseTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

func (t *leaseTracker) reportLeak(operationID string) {
	t.mu.Lock()
	l, ok := t.leases[operationID]
	if !ok || l.leaked {
		t.mu.Unlock()
		return
	}
	l.leaked = true
	info := LeakInfo{
		OperationID: operationID,
		Backend:     l.backend,
		HeldFor:     time.Since(l.acquiredAt),
	}
	t.mu.Unlock()

	t.logger.Warn("Connection leak detected",
		zap.String("operation_id", info.OperationID),
		zap.String("backend", string(info.Backend)),
		zap.Duration("held_for", info.HeldFor))
	t.bus.publish(EventConnectionLeak, info)
}
