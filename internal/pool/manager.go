package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dbhub/internal/config"

	"go.uber.org/zap"
)

// retentionSweepInterval is how often old metrics and alerts are purged.
const retentionSweepInterval = time.Hour

// Manager owns the backend adapters, the metric history, the lease table and
// the alert list, and exposes the single public contract used by callers.
// It is constructor-injected; there is no package-level default instance.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	bus      *eventBus
	recorder *Recorder
	leases   *leaseTracker
	health   *HealthMonitor
	agg      aggregator

	postgres *PostgresAdapter
	mysql    *MySQLAdapter
	mongo    *MongoAdapter
	all      []Adapter // constructed adapters, in initialization order

	mu       sync.RWMutex
	adapters map[Backend]Adapter // ready adapters

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	initialized atomic.Bool
	closed      atomic.Bool
}

// NewManager builds a manager from an immutable configuration. The adapters
// are constructed but not connected; call Initialize before executing.
func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	const op = "pool.new"

	if cfg == nil {
		return nil, newConfigurationError(op, "configuration is required", nil)
	}
	if !cfg.Postgres.Enabled && !cfg.MySQL.Enabled && !cfg.MongoDB.Enabled {
		return nil, newConfigurationError(op, "at least one database backend must be enabled", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bus := &eventBus{}
	recorder := newRecorder(cfg.Monitoring.HistorySize, cfg.Monitoring.SlowQueryThreshold, bus, logger)
	leases := newLeaseTracker(cfg.Monitoring.ConnectionLeakTimeout, bus, logger)
	health := newHealthMonitor(recorder, bus, cfg.Monitoring.Thresholds, logger)

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		recorder: recorder,
		leases:   leases,
		health:   health,
		agg:      aggregator{recorder: recorder},
		adapters: make(map[Backend]Adapter),
	}

	if cfg.Postgres.Enabled {
		m.postgres = newPostgresAdapter(cfg.Postgres, newAdapterCore(BackendPostgres, recorder, leases, logger))
		m.all = append(m.all, m.postgres)
	}
	if cfg.MySQL.Enabled {
		m.mysql = newMySQLAdapter(cfg.MySQL, newAdapterCore(BackendMySQL, recorder, leases, logger))
		m.all = append(m.all, m.mysql)
	}
	if cfg.MongoDB.Enabled {
		m.mongo = newMongoAdapter(cfg.MongoDB, newAdapterCore(BackendMongo, recorder, leases, logger))
		m.all = append(m.all, m.mongo)
	}

	return m, nil
}

// Subscribe registers an event handler for all pool events. Handlers run on
// their own goroutine and must not block indefinitely.
func (m *Manager) Subscribe(h EventHandler) {
	m.bus.Subscribe(h)
}

// Initialize connects the enabled adapters in order PostgreSQL, MySQL,
// MongoDB. The first probe failure aborts the whole call and tears down the
// already-connected adapters: either every backend is ready or none is.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if m.initialized.Load() {
		return nil
	}

	var ready []Adapter
	for _, ad := range m.all {
		if err := ad.Initialize(ctx); err != nil {
			m.logger.Error("Backend initialization failed",
				zap.String("backend", string(ad.Backend())),
				zap.Error(err))
			m.bus.publish(backendErrorEvent(ad.Backend()), err.Error())

			for i := len(ready) - 1; i >= 0; i-- {
				if cerr := ready[i].Close(ctx); cerr != nil {
					m.logger.Error("Failed to close backend during init rollback",
						zap.String("backend", string(ready[i].Backend())),
						zap.Error(cerr))
				}
			}
			return err
		}
		ready = append(ready, ad)
		m.bus.publish(backendReadyEvent(ad.Backend()), string(ad.Backend()))
	}

	m.mu.Lock()
	for _, ad := range ready {
		m.adapters[ad.Backend()] = ad
	}
	m.mu.Unlock()
	m.initialized.Store(true)

	if m.cfg.Monitoring.Enabled {
		m.startMonitor()
	}

	m.logger.Info("Pool manager initialized",
		zap.Strings("backends", m.cfg.EnabledBackends()))
	m.bus.publish(EventInitialized, m.cfg.EnabledBackends())
	return nil
}

// ExecutePostgres runs a SQL query or command against PostgreSQL.
func (m *Manager) ExecutePostgres(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if m.postgres == nil {
		return nil, fmt.Errorf("%s: %w", BackendPostgres, ErrBackendNotEnabled)
	}
	return m.postgres.Execute(ctx, query, args, opts)
}

// ExecuteMySQL runs a SQL query or command against MySQL/MariaDB.
func (m *Manager) ExecuteMySQL(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if m.mysql == nil {
		return nil, fmt.Errorf("%s: %w", BackendMySQL, ErrBackendNotEnabled)
	}
	return m.mysql.Execute(ctx, query, args, opts)
}

// ExecuteMongo runs a document operation against MongoDB.
func (m *Manager) ExecuteMongo(ctx context.Context, collection string, op MongoOperation, args MongoArgs, opts ExecOptions) (*QueryResult, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if m.mongo == nil {
		return nil, fmt.Errorf("%s: %w", BackendMongo, ErrBackendNotEnabled)
	}
	return m.mongo.Execute(ctx, collection, op, args, opts)
}

// ConnectionStats computes a point-in-time statistics snapshot.
// Never fails: with an empty history it returns zeroed figures.
func (m *Manager) ConnectionStats() ConnectionStats {
	m.mu.RLock()
	adapters := make(map[Backend]Adapter, len(m.adapters))
	for b, ad := range m.adapters {
		adapters[b] = ad
	}
	m.mu.RUnlock()

	stats := m.agg.collect(adapters)
	stats.Overall.HealthScore = m.health.Score()
	return stats
}

// ConnectionHealth computes a point-in-time health snapshot.
func (m *Manager) ConnectionHealth() ConnectionHealth {
	m.mu.RLock()
	backends := make([]Backend, 0, len(m.adapters))
	for b := range m.adapters {
		backends = append(backends, b)
	}
	m.mu.RUnlock()
	return m.health.Health(backends)
}

// RecentMetrics returns a newest-first snapshot of the metric history.
func (m *Manager) RecentMetrics(f MetricFilter) []QueryMetric {
	return m.recorder.Query(f)
}

// Observe records a named observation for threshold alerting, e.g. from the
// embedding application's resource monitoring.
func (m *Manager) Observe(name string, value float64, backends ...Backend) {
	m.health.Observe(name, value, backends...)
}

// CreateAlert registers a manually created alert.
func (m *Manager) CreateAlert(severity AlertSeverity, title, description, metric string, threshold, value float64, backends []Backend) PerformanceAlert {
	return m.health.CreateAlert(severity, title, description, metric, threshold, value, backends)
}

// ResolveAlert marks an alert resolved; returns false if it was unknown or
// already resolved.
func (m *Manager) ResolveAlert(id string) bool {
	return m.health.ResolveAlert(id)
}

// Alerts returns alert snapshots, newest-first.
func (m *Manager) Alerts(includeResolved bool) []PerformanceAlert {
	return m.health.Alerts(includeResolved)
}

func (m *Manager) startMonitor() {
	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	m.monitorWG.Add(1)
	go m.monitor(ctx)
}

// monitor drives the periodic health check, alert auto-resolution and
// retention sweeps. Query execution never runs through this goroutine.
func (m *Manager) monitor(ctx context.Context) {
	defer m.monitorWG.Done()

	healthTicker := time.NewTicker(m.cfg.Monitoring.Interval)
	defer healthTicker.Stop()
	sweepTicker := time.NewTicker(m.cfg.Monitoring.AlertSweepInterval)
	defer sweepTicker.Stop()
	retentionTicker := time.NewTicker(retentionSweepInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-healthTicker.C:
			h := m.ConnectionHealth()
			if h.Status != HealthHealthy {
				m.logger.Warn("Pool health degraded",
					zap.Int("score", h.Score),
					zap.String("status", string(h.Status)),
					zap.Int("unresolved_alerts", h.UnresolvedAlerts))
				m.bus.publish(EventHealthWarning, h)
			}

		case <-sweepTicker.C:
			m.health.sweep(time.Now())

		case <-retentionTicker.C:
			before := time.Now().Add(-m.cfg.Monitoring.MetricsRetention)
			if removed := m.recorder.prune(before); removed > 0 {
				m.logger.Debug("Pruned metric history", zap.Int("removed", removed))
			}
			m.health.prune(before)
		}
	}
}

// Close stops monitoring and shuts all adapters down concurrently, waiting
// for every shutdown to finish. Individual adapter errors are collected and
// surfaced together. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorWG.Wait()
	}

	m.mu.Lock()
	m.adapters = make(map[Backend]Adapter)
	m.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.all))
	for _, ad := range m.all {
		wg.Add(1)
		go func(ad Adapter) {
			defer wg.Done()
			if err := ad.Close(ctx); err != nil {
				errCh <- fmt.Errorf("%s close error: %w", ad.Backend(), err)
			}
		}(ad)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	m.logger.Info("Pool manager closed")
	m.bus.publish(EventClosed, nil)
	return errors.Join(errs...)
}
