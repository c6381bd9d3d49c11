package pool

import (
	"context"
	"testing"
	"time"

	"dbhub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testManagerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MySQL.Enabled = true
	cfg.MySQL.Host = "localhost"
	cfg.MySQL.Database = "app"
	cfg.SetDefaults()
	return cfg
}

func TestNewManagerValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewManager(nil, logger)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	cfg := &config.Config{}
	cfg.SetDefaults()
	_, err = NewManager(cfg, logger)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "at least one database backend")
}

func TestNewManagerNilLogger(t *testing.T) {
	m, err := NewManager(testManagerConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestExecuteBackendNotEnabled(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()

	_, err = m.ExecutePostgres(ctx, "SELECT 1", nil, ExecOptions{})
	assert.ErrorIs(t, err, ErrBackendNotEnabled)

	_, err = m.ExecuteMongo(ctx, "users", MongoFind, MongoArgs{}, ExecOptions{})
	assert.ErrorIs(t, err, ErrBackendNotEnabled)
}

func TestExecuteBeforeInitialize(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = m.ExecuteMySQL(context.Background(), "SELECT 1", nil, ExecOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeFailFastRollsBack(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ready := &fakeAdapter{backend: BackendPostgres}
	failing := &fakeAdapter{backend: BackendMySQL, initErr: assert.AnError}
	untouched := &fakeAdapter{backend: BackendMongo}
	m.all = []Adapter{ready, failing, untouched}

	err = m.Initialize(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	// The already-ready backend is torn down, the one after the failure is
	// never probed: either every backend is usable or none is.
	assert.Equal(t, 1, ready.inits)
	assert.Equal(t, 1, ready.closes)
	assert.Equal(t, 1, failing.inits)
	assert.Equal(t, 0, untouched.inits)
	assert.Equal(t, 0, untouched.closes)

	assert.Empty(t, m.ConnectionStats().Backends)
}

func TestInitializeAllReady(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	pg := &fakeAdapter{backend: BackendPostgres}
	my := &fakeAdapter{backend: BackendMySQL}
	m.all = []Adapter{pg, my}

	require.NoError(t, m.Initialize(context.Background()))

	stats := m.ConnectionStats()
	assert.Contains(t, stats.Backends, BackendPostgres)
	assert.Contains(t, stats.Backends, BackendMySQL)
	assert.Equal(t, 0, pg.closes)

	// A second call is a no-op, not a re-probe.
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 1, pg.inits)
	assert.Equal(t, 1, my.inits)
}

func TestManagerCloseIdempotent(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	_, err = m.ExecuteMySQL(ctx, "SELECT 1", nil, ExecOptions{})
	assert.ErrorIs(t, err, ErrManagerClosed)

	err = m.Initialize(ctx)
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestConnectionStatsBeforeInitialize(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	stats := m.ConnectionStats()
	assert.Empty(t, stats.Backends)
	assert.Equal(t, int64(0), stats.Overall.TotalQueries)
	assert.Equal(t, 100, stats.Overall.HealthScore)

	health := m.ConnectionHealth()
	assert.Equal(t, 100, health.Score)
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, 0, health.UnresolvedAlerts)
}

func TestManagerAlertLifecycle(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	m.Observe(MetricCPUUsage, 95, BackendMySQL)

	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)

	assert.True(t, m.ResolveAlert(alerts[0].ID))
	assert.False(t, m.ResolveAlert(alerts[0].ID))
	assert.Empty(t, m.Alerts(false))

	a := m.CreateAlert(SeverityCritical, "manual", "d", MetricConnectionCount, 100, 150, nil)
	require.Len(t, m.Alerts(false), 1)
	assert.True(t, m.ResolveAlert(a.ID))
}

func TestManagerSubscribe(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	events := make(chan Event, 16)
	m.Subscribe(func(ev Event) {
		events <- ev
	})

	m.CreateAlert(SeverityLow, "t", "d", MetricCPUUsage, 80, 81, nil)

	select {
	case ev := <-events:
		assert.Equal(t, EventAlertCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert event")
	}
}

func TestManagerRecentMetrics(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Empty(t, m.RecentMetrics(MetricFilter{}))
}
