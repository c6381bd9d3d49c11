package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLeaseTrackerLeakDetection(t *testing.T) {
	bus := &eventBus{}
	c := newEventCollector(bus)
	tracker := newLeaseTracker(30*time.Millisecond, bus, zaptest.NewLogger(t))

	tracker.Track("op-1", BackendPostgres)
	require.Equal(t, 1, tracker.Active())

	ev := c.wait(t, EventConnectionLeak, time.Second)
	info, ok := ev.Payload.(LeakInfo)
	require.True(t, ok)
	assert.Equal(t, "op-1", info.OperationID)
	assert.Equal(t, BackendPostgres, info.Backend)
	assert.GreaterOrEqual(t, info.HeldFor, 30*time.Millisecond)

	// Leak detection is advisory; the lease stays until released.
	assert.Equal(t, 1, tracker.Active())

	// One-shot: no second report for the same lease.
	c.expectNone(t, EventConnectionLeak, 100*time.Millisecond)

	tracker.Release("op-1")
	assert.Equal(t, 0, tracker.Active())
}

func TestLeaseTrackerReleaseCancelsCheck(t *testing.T) {
	bus := &eventBus{}
	c := newEventCollector(bus)
	tracker := newLeaseTracker(30*time.Millisecond, bus, zaptest.NewLogger(t))

	tracker.Track("op-1", BackendMySQL)
	tracker.Release("op-1")
	require.Equal(t, 0, tracker.Active())

	c.expectNone(t, EventConnectionLeak, 100*time.Millisecond)
}

func TestLeaseTrackerReleaseUnknown(t *testing.T) {
	tracker := newLeaseTracker(time.Second, &eventBus{}, zaptest.NewLogger(t))

	// Releasing an unknown operation is a no-op.
	tracker.Release("never-tracked")
	assert.Equal(t, 0, tracker.Active())
}

func TestLeaseTrackerDisabled(t *testing.T) {
	bus := &eventBus{}
	c := newEventCollector(bus)
	tracker := newLeaseTracker(0, bus, zaptest.NewLogger(t))

	tracker.Track("op-1", BackendMongo)
	assert.Equal(t, 0, tracker.Active())
	c.expectNone(t, EventConnectionLeak, 50*time.Millisecond)
}
