package api

import (
	"dbhub/internal/pool"

	"github.com/prometheus/client_golang/prometheus"
)

// statsCollector translates pool manager snapshots into Prometheus metrics.
type statsCollector struct {
	manager *pool.Manager

	connections      *prometheus.Desc
	waitingClients   *prometheus.Desc
	queries          *prometheus.Desc
	avgQuerySeconds  *prometheus.Desc
	healthScore      *prometheus.Desc
	connsCreated     *prometheus.Desc
	connsDestroyed   *prometheus.Desc
	unresolvedAlerts *prometheus.Desc
}

func newStatsCollector(manager *pool.Manager) *statsCollector {
	return &statsCollector{
		manager: manager,
		connections: prometheus.NewDesc(
			"dbhub_backend_connections",
			"Connections per backend by state",
			[]string{"backend", "state"}, nil),
		waitingClients: prometheus.NewDesc(
			"dbhub_backend_waiting_clients",
			"Clients waiting on a connection per backend",
			[]string{"backend"}, nil),
		queries: prometheus.NewDesc(
			"dbhub_queries",
			"Queries over the retained history by result",
			[]string{"result"}, nil),
		avgQuerySeconds: prometheus.NewDesc(
			"dbhub_avg_query_seconds",
			"Mean query duration over the last five minutes",
			nil, nil),
		healthScore: prometheus.NewDesc(
			"dbhub_health_score",
			"Overall health score (0-100)",
			nil, nil),
		connsCreated: prometheus.NewDesc(
			"dbhub_connections_created_total",
			"Cumulative connections created across backends",
			nil, nil),
		connsDestroyed: prometheus.NewDesc(
			"dbhub_connections_destroyed_total",
			"Cumulative connections destroyed across backends",
			nil, nil),
		unresolvedAlerts: prometheus.NewDesc(
			"dbhub_unresolved_alerts",
			"Number of unresolved performance alerts",
			nil, nil),
	}
}

func (s *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.connections
	ch <- s.waitingClients
	ch <- s.queries
	ch <- s.avgQuerySeconds
	ch <- s.healthScore
	ch <- s.connsCreated
	ch <- s.connsDestroyed
	ch <- s.unresolvedAlerts
}

func (s *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := s.manager.ConnectionStats()

	for backend, bs := range stats.Backends {
		b := string(backend)
		ch <- prometheus.MustNewConstMetric(s.connections, prometheus.GaugeValue,
			float64(bs.TotalConnections), b, "total")
		ch <- prometheus.MustNewConstMetric(s.connections, prometheus.GaugeValue,
			float64(bs.IdleConnections), b, "idle")
		ch <- prometheus.MustNewConstMetric(s.connections, prometheus.GaugeValue,
			float64(bs.ActiveConnections), b, "active")
		ch <- prometheus.MustNewConstMetric(s.waitingClients, prometheus.GaugeValue,
			float64(bs.WaitingClients), b)
	}

	ch <- prometheus.MustNewConstMetric(s.queries, prometheus.GaugeValue,
		float64(stats.Overall.SucceededQueries), "success")
	ch <- prometheus.MustNewConstMetric(s.queries, prometheus.GaugeValue,
		float64(stats.Overall.FailedQueries), "failure")
	ch <- prometheus.MustNewConstMetric(s.avgQuerySeconds, prometheus.GaugeValue,
		stats.Overall.AvgQueryTime.Seconds())
	ch <- prometheus.MustNewConstMetric(s.healthScore, prometheus.GaugeValue,
		float64(stats.Overall.HealthScore))
	ch <- prometheus.MustNewConstMetric(s.connsCreated, prometheus.CounterValue,
		float64(stats.Overall.ConnectionsCreated))
	ch <- prometheus.MustNewConstMetric(s.connsDestroyed, prometheus.CounterValue,
		float64(stats.Overall.ConnectionsDestroyed))

	health := s.manager.ConnectionHealth()
	ch <- prometheus.MustNewConstMetric(s.unresolvedAlerts, prometheus.GaugeValue,
		float64(health.UnresolvedAlerts))
}
