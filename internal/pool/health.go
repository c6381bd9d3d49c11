package pool

import (
	"fmt"
	"sync"
	"time"

	"dbhub/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertSeverity ranks a performance alert.
type AlertSeverity string

// Alert severities. Automatic threshold alerts are always high; the other
// severities are reserved for manually created alerts.
const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Observation metric names recognized by the threshold table.
const (
	MetricCPUUsage            = "cpu_usage"
	MetricMemoryUsage         = "memory_usage"
	MetricHTTPRequestDuration = "http_request_duration"
	MetricDatabaseQueryTime   = "database_query_time"
	MetricErrorRate           = "error_rate"
	MetricConnectionCount     = "connection_count"
)

// PerformanceAlert records one threshold breach.
type PerformanceAlert struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Metric      string        `json:"metric"`
	Threshold   float64       `json:"threshold"`
	Value       float64       `json:"value"`
	Backends    []Backend     `json:"backends,omitempty"`
	Resolved    bool          `json:"resolved"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// BackendHealth is the per-backend health view over the last hour.
type BackendHealth struct {
	Status              HealthLevel   `json:"status"`
	ErrorsLastHour      int64         `json:"errors_last_hour"`
	SlowQueriesLastHour int64         `json:"slow_queries_last_hour"`
	AvgQueryTime        time.Duration `json:"avg_query_time"`
}

// ConnectionHealth is the snapshot returned by Manager.ConnectionHealth.
type ConnectionHealth struct {
	Timestamp        time.Time                 `json:"timestamp"`
	Score            int                       `json:"score"`
	Status           HealthLevel               `json:"status"`
	Backends         map[Backend]BackendHealth `json:"backends"`
	UnresolvedAlerts int                       `json:"unresolved_alerts"`
}

type observation struct {
	name  string
	value float64
	at    time.Time
}

// maxObservations bounds the observation buffer independently of the metric ring.
const maxObservations = 10000

// HealthMonitor derives health scores and manages the alert lifecycle.
// It never returns errors to callers; everything it notices is advisory.
type HealthMonitor struct {
	mu           sync.Mutex
	alerts       []*PerformanceAlert
	observations []observation

	recorder   *Recorder
	bus        *eventBus
	thresholds config.Thresholds
	logger     *zap.Logger
}

func newHealthMonitor(recorder *Recorder, bus *eventBus, thresholds config.Thresholds, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		recorder:   recorder,
		bus:        bus,
		thresholds: thresholds,
		logger:     logger,
	}
}

// thresholdFor maps an observation metric name to its configured threshold.
func (h *HealthMonitor) thresholdFor(name string) (float64, bool) {
	switch name {
	case MetricCPUUsage:
		return h.thresholds.CPUUsage, true
	case MetricMemoryUsage:
		return h.thresholds.MemoryUsage, true
	case MetricHTTPRequestDuration:
		return h.thresholds.HTTPRequestDuration, true
	case MetricDatabaseQueryTime:
		return h.thresholds.DatabaseQueryTime, true
	case MetricErrorRate:
		return h.thresholds.ErrorRate, true
	case MetricConnectionCount:
		return h.thresholds.ConnectionCount, true
	default:
		return 0, false
	}
}

// Observe records a named observation and raises a high-severity alert when
// the value exceeds its mapped threshold. Every breach creates a new alert;
// repeated breaches are not de-duplicated.
func (h *HealthMonitor) Observe(name string, value float64, backends ...Backend) {
	h.mu.Lock()
	h.observations = append(h.observations, observation{name: name, value: value, at: time.Now()})
	if len(h.observations) > maxObservations {
		h.observations = append([]observation(nil), h.observations[len(h.observations)-maxObservations:]...)
	}
	h.mu.Unlock()

	threshold, ok := h.thresholdFor(name)
	if !ok || value <= threshold {
		return
	}

	h.CreateAlert(SeverityHigh,
		fmt.Sprintf("%s above threshold", name),
		fmt.Sprintf("%s reached %.2f, threshold is %.2f", name, value, threshold),
		name, threshold, value, backends)
}

// CreateAlert registers an alert and emits alert_created.
func (h *HealthMonitor) CreateAlert(severity AlertSeverity, title, description, metric string, threshold, value float64, backends []Backend) PerformanceAlert {
	a := &PerformanceAlert{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Severity:    severity,
		Title:       title,
		Description: description,
		Metric:      metric,
		Threshold:   threshold,
		Value:       value,
		Backends:    backends,
	}

	h.mu.Lock()
	h.alerts = append(h.alerts, a)
	h.mu.Unlock()

	h.logger.Warn("Performance alert created",
		zap.String("alert_id", a.ID),
		zap.String("severity", string(severity)),
		zap.String("metric", metric),
		zap.Float64("threshold", threshold),
		zap.Float64("value", value))
	h.bus.publish(EventAlertCreated, *a)
	return *a
}

// ResolveAlert marks an alert resolved. Resolving an unknown or
// already-resolved alert returns false and changes nothing.
func (h *HealthMonitor) ResolveAlert(id string) bool {
	h.mu.Lock()
	var resolved *PerformanceAlert
	for _, a := range h.alerts {
		if a.ID == id {
			if a.Resolved {
				h.mu.Unlock()
				return false
			}
			now := time.Now()
			a.Resolved = true
			a.ResolvedAt = &now
			resolved = a
			break
		}
	}
	h.mu.Unlock()

	if resolved == nil {
		return false
	}
	h.bus.publish(EventAlertResolved, *resolved)
	return true
}

// Alerts returns snapshot copies, newest-first.
func (h *HealthMonitor) Alerts(includeResolved bool) []PerformanceAlert {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]PerformanceAlert, 0, len(h.alerts))
	for i := len(h.alerts) - 1; i >= 0; i-- {
		a := h.alerts[i]
		if !includeResolved && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func (h *HealthMonitor) unresolvedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, a := range h.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}

func severityPenalty(s AlertSeverity) int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// Score computes the 0-100 health score: error rate over the full retained
// history, mean duration over the last 5 minutes, and unresolved alerts.
func (h *HealthMonitor) Score() int {
	score := 100

	total, failed := h.recorder.totals()
	if total > 0 {
		rate := float64(failed) / float64(total) * 100
		if rate > 5 {
			score -= 30
		} else if rate > 1 {
			score -= 15
		}
	}

	avg := h.recorder.meanDuration(time.Now().Add(-statsWindow), "")
	if avg > time.Second {
		score -= 25
	} else if avg > 500*time.Millisecond {
		score -= 10
	}

	h.mu.Lock()
	for _, a := range h.alerts {
		if !a.Resolved {
			score -= severityPenalty(a.Severity)
		}
	}
	h.mu.Unlock()

	if score < 0 {
		score = 0
	}
	return score
}

func classifyScore(score int) HealthLevel {
	switch {
	case score >= 80:
		return HealthHealthy
	case score >= 60:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// backendStatus applies the fixed last-hour thresholds.
func backendStatus(errs, slow int64, avg time.Duration) HealthLevel {
	switch {
	case errs > 50 || slow > 20 || avg > 2*time.Second:
		return HealthCritical
	case errs > 20 || slow > 10 || avg > time.Second:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Health computes the point-in-time health snapshot for the given backends.
func (h *HealthMonitor) Health(backends []Backend) ConnectionHealth {
	now := time.Now()
	hourStart := now.Add(-hourWindow)

	ch := ConnectionHealth{
		Timestamp: now,
		Backends:  make(map[Backend]BackendHealth, len(backends)),
	}

	for _, b := range backends {
		errs, slow := h.recorder.countSince(hourStart, b)
		avg := h.recorder.meanDuration(hourStart, b)
		ch.Backends[b] = BackendHealth{
			Status:              backendStatus(errs, slow, avg),
			ErrorsLastHour:      errs,
			SlowQueriesLastHour: slow,
			AvgQueryTime:        avg,
		}
	}

	ch.Score = h.Score()
	ch.Status = classifyScore(ch.Score)
	ch.UnresolvedAlerts = h.unresolvedCount()
	return ch
}

// sweep auto-resolves alerts whose metric has recovered: the mean of
// same-named observations over the last 5 minutes must be at or under the
// alert's stored threshold. Alerts with no recent observations stay open.
func (h *HealthMonitor) sweep(now time.Time) {
	windowStart := now.Add(-statsWindow)

	h.mu.Lock()
	means := make(map[string]float64)
	counts := make(map[string]int)
	for _, o := range h.observations {
		if o.at.Before(windowStart) {
			continue
		}
		means[o.name] += o.value
		counts[o.name]++
	}
	for name, n := range counts {
		means[name] /= float64(n)
	}

	var resolved []PerformanceAlert
	for _, a := range h.alerts {
		if a.Resolved {
			continue
		}
		n, seen := counts[a.Metric]
		if !seen || n == 0 {
			continue
		}
		if means[a.Metric] <= a.Threshold {
			t := now
			a.Resolved = true
			a.ResolvedAt = &t
			resolved = append(resolved, *a)
		}
	}
	h.mu.Unlock()

	for _, a := range resolved {
		h.logger.Info("Performance alert resolved",
			zap.String("alert_id", a.ID),
			zap.String("metric", a.Metric))
		h.bus.publish(EventAlertResolved, a)
	}
}

// prune drops alerts and observations older than before. Runs on the same
// retention sweep as the metric history.
func (h *HealthMonitor) prune(before time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.alerts[:0]
	for _, a := range h.alerts {
		if a.Timestamp.Before(before) && a.Resolved {
			continue
		}
		kept = append(kept, a)
	}
	h.alerts = kept

	keptObs := h.observations[:0]
	for _, o := range h.observations {
		if !o.at.Before(before) {
			keptObs = append(keptObs, o)
		}
	}
	h.observations = keptObs
}
