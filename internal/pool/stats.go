package pool

import (
	"time"
)

// HealthLevel classifies system or backend health.
type HealthLevel string

// Health classifications
const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// Aggregation windows
const (
	statsWindow = 5 * time.Minute
	hourWindow  = time.Hour
)

// BackendStats is a point-in-time view of one backend.
type BackendStats struct {
	TotalConnections    int32         `json:"total_connections"`
	IdleConnections     int32         `json:"idle_connections"`
	ActiveConnections   int32         `json:"active_connections"`
	WaitingClients      int64         `json:"waiting_clients"`
	AvgQueryTime        time.Duration `json:"avg_query_time"` // 5-minute window
	SlowQueriesLastHour int64         `json:"slow_queries_last_hour"`
	ErrorsLastHour      int64         `json:"errors_last_hour"`
}

// OverallStats aggregates across all backends.
type OverallStats struct {
	TotalQueries         int64         `json:"total_queries"`
	SucceededQueries     int64         `json:"succeeded_queries"`
	FailedQueries        int64         `json:"failed_queries"`
	AvgQueryTime         time.Duration `json:"avg_query_time"` // 5-minute window
	ConnectionsCreated   int64         `json:"connections_created"`
	ConnectionsDestroyed int64         `json:"connections_destroyed"`
	HealthScore          int           `json:"health_score"`
}

// ConnectionStats is the snapshot returned by Manager.ConnectionStats.
// It is recomputed on demand and carries no live references.
type ConnectionStats struct {
	Timestamp time.Time                `json:"timestamp"`
	Backends  map[Backend]BackendStats `json:"backends"`
	Overall   OverallStats             `json:"overall"`
}

// aggregator computes ConnectionStats from live pool introspection and the
// recorder's rolling window. Pull model: nothing is maintained continuously.
type aggregator struct {
	recorder *Recorder
}

func (g *aggregator) collect(adapters map[Backend]Adapter) ConnectionStats {
	now := time.Now()
	windowStart := now.Add(-statsWindow)
	hourStart := now.Add(-hourWindow)

	out := ConnectionStats{
		Timestamp: now,
		Backends:  make(map[Backend]BackendStats, len(adapters)),
	}

	for b, ad := range adapters {
		ps := ad.PoolStats()
		errs, slow := g.recorder.countSince(hourStart, b)
		out.Backends[b] = BackendStats{
			TotalConnections:    ps.TotalConnections,
			IdleConnections:     ps.IdleConnections,
			ActiveConnections:   ps.ActiveConnections,
			WaitingClients:      ps.WaitingClients,
			AvgQueryTime:        g.recorder.meanDuration(windowStart, b),
			SlowQueriesLastHour: slow,
			ErrorsLastHour:      errs,
		}
		out.Overall.ConnectionsCreated += ps.ConnectionsCreated
		out.Overall.ConnectionsDestroyed += ps.ConnectionsDestroyed
	}

	total, failed := g.recorder.totals()
	out.Overall.TotalQueries = total
	out.Overall.FailedQueries = failed
	out.Overall.SucceededQueries = total - failed
	out.Overall.AvgQueryTime = g.recorder.meanDuration(windowStart, "")

	return out
}
