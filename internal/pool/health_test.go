package pool

import (
	"testing"
	"time"

	"dbhub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func defaultThresholds() config.Thresholds {
	return config.Thresholds{
		CPUUsage:            80,
		MemoryUsage:         85,
		HTTPRequestDuration: 1000,
		DatabaseQueryTime:   1000,
		ErrorRate:           5,
		ConnectionCount:     100,
	}
}

func newTestHealth(t *testing.T) (*HealthMonitor, *Recorder, *eventBus) {
	t.Helper()
	bus := &eventBus{}
	recorder := newRecorder(1000, time.Second, bus, zaptest.NewLogger(t))
	h := newHealthMonitor(recorder, bus, defaultThresholds(), zaptest.NewLogger(t))
	return h, recorder, bus
}

func TestHealthScoreBaseline(t *testing.T) {
	h, _, _ := newTestHealth(t)
	assert.Equal(t, 100, h.Score())
	assert.Equal(t, HealthHealthy, classifyScore(h.Score()))
}

func TestHealthScoreErrorRate(t *testing.T) {
	testCases := []struct {
		name     string
		total    int
		failed   int
		expected int
	}{
		{"no errors", 100, 0, 100},
		{"one percent", 100, 1, 100},
		{"above one percent", 100, 2, 85},
		{"five percent", 100, 5, 85},
		{"above five percent", 100, 6, 70},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, recorder, _ := newTestHealth(t)
			now := time.Now()
			for i := 0; i < tc.total; i++ {
				recorder.Record(testMetric(BackendMySQL, time.Millisecond, i >= tc.failed, now))
			}
			assert.Equal(t, tc.expected, h.Score())
		})
	}
}

func TestHealthScoreQueryDuration(t *testing.T) {
	testCases := []struct {
		name     string
		duration time.Duration
		expected int
	}{
		{"fast", 100 * time.Millisecond, 100},
		{"moderate", 700 * time.Millisecond, 90},
		{"slow", 2 * time.Second, 75},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, recorder, _ := newTestHealth(t)
			now := time.Now()
			for i := 0; i < 10; i++ {
				recorder.Record(testMetric(BackendPostgres, tc.duration, true, now))
			}
			assert.Equal(t, tc.expected, h.Score())
		})
	}
}

func TestHealthScoreAlertPenalties(t *testing.T) {
	h, _, _ := newTestHealth(t)

	h.CreateAlert(SeverityLow, "t", "d", MetricCPUUsage, 80, 81, nil)
	assert.Equal(t, 95, h.Score())

	h.CreateAlert(SeverityMedium, "t", "d", MetricCPUUsage, 80, 81, nil)
	assert.Equal(t, 85, h.Score())

	h.CreateAlert(SeverityHigh, "t", "d", MetricCPUUsage, 80, 81, nil)
	assert.Equal(t, 65, h.Score())

	crit := h.CreateAlert(SeverityCritical, "t", "d", MetricCPUUsage, 80, 81, nil)
	assert.Equal(t, 25, h.Score())

	// Resolved alerts stop counting.
	require.True(t, h.ResolveAlert(crit.ID))
	assert.Equal(t, 65, h.Score())
}

func TestHealthScoreFloor(t *testing.T) {
	h, _, _ := newTestHealth(t)
	for i := 0; i < 5; i++ {
		h.CreateAlert(SeverityCritical, "t", "d", MetricCPUUsage, 80, 99, nil)
	}
	assert.Equal(t, 0, h.Score())
}

func TestClassifyScore(t *testing.T) {
	assert.Equal(t, HealthHealthy, classifyScore(100))
	assert.Equal(t, HealthHealthy, classifyScore(80))
	assert.Equal(t, HealthWarning, classifyScore(79))
	assert.Equal(t, HealthWarning, classifyScore(60))
	assert.Equal(t, HealthCritical, classifyScore(59))
	assert.Equal(t, HealthCritical, classifyScore(0))
}

func TestObserveCreatesAlert(t *testing.T) {
	h, _, bus := newTestHealth(t)
	c := newEventCollector(bus)

	h.Observe(MetricCPUUsage, 90, BackendMySQL)

	alerts := h.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, MetricCPUUsage, alerts[0].Metric)
	assert.Equal(t, float64(80), alerts[0].Threshold)
	assert.Equal(t, float64(90), alerts[0].Value)
	assert.Equal(t, []Backend{BackendMySQL}, alerts[0].Backends)

	ev := c.wait(t, EventAlertCreated, time.Second)
	payload, ok := ev.Payload.(PerformanceAlert)
	require.True(t, ok)
	assert.Equal(t, alerts[0].ID, payload.ID)
}

func TestObserveBelowThreshold(t *testing.T) {
	h, _, _ := newTestHealth(t)

	h.Observe(MetricCPUUsage, 70)
	h.Observe(MetricCPUUsage, 80) // at threshold, not above
	assert.Empty(t, h.Alerts(false))
}

func TestObserveUnknownMetric(t *testing.T) {
	h, _, _ := newTestHealth(t)

	h.Observe("disk_usage", 99999)
	assert.Empty(t, h.Alerts(false))
}

func TestObserveNoDeduplication(t *testing.T) {
	h, _, _ := newTestHealth(t)

	// Every breach opens a fresh alert, even for the same metric.
	for i := 0; i < 3; i++ {
		h.Observe(MetricCPUUsage, 95)
	}
	assert.Len(t, h.Alerts(false), 3)
}

func TestObserveAlternatingBreaches(t *testing.T) {
	h, _, _ := newTestHealth(t)

	// 21 alternating observations: each value above the threshold opens its
	// own alert, the values below open none.
	for i := 0; i < 21; i++ {
		if i%2 == 0 {
			h.Observe(MetricCPUUsage, 90)
		} else {
			h.Observe(MetricCPUUsage, 10)
		}
	}

	alerts := h.Alerts(false)
	require.Len(t, alerts, 11)
	for _, a := range alerts {
		assert.Equal(t, SeverityHigh, a.Severity)
		assert.Equal(t, float64(90), a.Value)
	}
}

func TestResolveAlert(t *testing.T) {
	h, _, _ := newTestHealth(t)
	a := h.CreateAlert(SeverityHigh, "t", "d", MetricErrorRate, 5, 10, nil)

	assert.True(t, h.ResolveAlert(a.ID))
	assert.False(t, h.ResolveAlert(a.ID), "second resolve must be a no-op")
	assert.False(t, h.ResolveAlert("unknown-id"))

	assert.Empty(t, h.Alerts(false))
	all := h.Alerts(true)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	require.NotNil(t, all[0].ResolvedAt)
}

func TestAlertsNewestFirst(t *testing.T) {
	h, _, _ := newTestHealth(t)
	first := h.CreateAlert(SeverityLow, "first", "d", MetricCPUUsage, 80, 81, nil)
	second := h.CreateAlert(SeverityLow, "second", "d", MetricCPUUsage, 80, 82, nil)

	alerts := h.Alerts(false)
	require.Len(t, alerts, 2)
	assert.Equal(t, second.ID, alerts[0].ID)
	assert.Equal(t, first.ID, alerts[1].ID)
}

func TestSweepAutoResolve(t *testing.T) {
	h, _, bus := newTestHealth(t)
	c := newEventCollector(bus)

	h.Observe(MetricCPUUsage, 90)
	require.Len(t, h.Alerts(false), 1)

	// Recovery: the 5-minute mean drops to (90+10*9)/10 = 18, under 80.
	for i := 0; i < 9; i++ {
		h.Observe(MetricCPUUsage, 10)
	}

	h.sweep(time.Now())
	assert.Empty(t, h.Alerts(false))

	all := h.Alerts(true)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)

	c.wait(t, EventAlertResolved, time.Second)
}

func TestSweepKeepsAlertWithoutObservations(t *testing.T) {
	h, _, _ := newTestHealth(t)

	// A manually created alert with no matching observations stays open.
	h.CreateAlert(SeverityHigh, "t", "d", MetricErrorRate, 5, 10, nil)
	h.sweep(time.Now())
	assert.Len(t, h.Alerts(false), 1)
}

func TestSweepKeepsAlertAboveThreshold(t *testing.T) {
	h, _, _ := newTestHealth(t)

	h.Observe(MetricCPUUsage, 90)
	h.Observe(MetricCPUUsage, 95)
	require.Len(t, h.Alerts(false), 2)

	// Mean is 92.5, still above 80 and 90.
	h.sweep(time.Now())
	assert.Len(t, h.Alerts(false), 2)
}

func TestBackendStatusThresholds(t *testing.T) {
	testCases := []struct {
		name     string
		errs     int64
		slow     int64
		avg      time.Duration
		expected HealthLevel
	}{
		{"quiet", 0, 0, 0, HealthHealthy},
		{"at warning boundary", 20, 10, time.Second, HealthHealthy},
		{"errors warning", 21, 0, 0, HealthWarning},
		{"slow warning", 0, 11, 0, HealthWarning},
		{"latency warning", 0, 0, 1100 * time.Millisecond, HealthWarning},
		{"errors critical", 51, 0, 0, HealthCritical},
		{"slow critical", 0, 21, 0, HealthCritical},
		{"latency critical", 0, 0, 3 * time.Second, HealthCritical},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, backendStatus(tc.errs, tc.slow, tc.avg))
		})
	}
}

func TestHealthSnapshot(t *testing.T) {
	h, recorder, _ := newTestHealth(t)
	now := time.Now()

	for i := 0; i < 25; i++ {
		recorder.Record(testMetric(BackendMySQL, time.Millisecond, false, now))
	}
	recorder.Record(testMetric(BackendPostgres, time.Millisecond, true, now))

	snap := h.Health([]Backend{BackendPostgres, BackendMySQL})
	require.Contains(t, snap.Backends, BackendMySQL)
	require.Contains(t, snap.Backends, BackendPostgres)

	assert.Equal(t, HealthWarning, snap.Backends[BackendMySQL].Status)
	assert.Equal(t, int64(25), snap.Backends[BackendMySQL].ErrorsLastHour)
	assert.Equal(t, HealthHealthy, snap.Backends[BackendPostgres].Status)
	assert.Equal(t, classifyScore(snap.Score), snap.Status)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestHealthPrune(t *testing.T) {
	h, _, _ := newTestHealth(t)

	old := h.CreateAlert(SeverityLow, "old", "d", MetricCPUUsage, 80, 81, nil)
	require.True(t, h.ResolveAlert(old.ID))
	h.CreateAlert(SeverityLow, "unresolved", "d", MetricCPUUsage, 80, 81, nil)

	// Only resolved alerts older than the cutoff are dropped; unresolved
	// alerts survive any retention window.
	h.prune(time.Now().Add(time.Minute))
	all := h.Alerts(true)
	require.Len(t, all, 1)
	assert.Equal(t, "unresolved", all[0].Title)
}
