package api

import (
	"net/http"
	"strconv"
	"time"

	"dbhub/internal/config"
	"dbhub/internal/pool"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router exposes the read-only status API over the pool manager. It only
// consumes manager snapshots; the pool core itself owns no HTTP surface.
type Router struct {
	engine  *gin.Engine
	manager *pool.Manager
	logger  *zap.Logger
}

// NewRouter creates and configures a new router
func NewRouter(cfg *config.Config, manager *pool.Manager, logger *zap.Logger) *Router {
	// Set gin mode based on config
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:  gin.New(),
		manager: manager,
		logger:  logger,
	}

	r.engine.Use(gin.Recovery())
	r.engine.Use(r.requestLogger())

	registry := prometheus.NewRegistry()
	registry.MustRegister(newStatsCollector(manager))
	r.engine.GET(cfg.API.MetricsPath, gin.WrapH(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.engine.GET("/healthz", r.healthz)

	v1 := r.engine.Group("/api/v1")
	v1.GET("/stats", r.stats)
	v1.GET("/health", r.health)
	v1.GET("/alerts", r.alerts)
	v1.GET("/metrics/recent", r.recentMetrics)

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// requestLogger logs each request with zap
func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (r *Router) healthz(c *gin.Context) {
	h := r.manager.ConnectionHealth()
	status := http.StatusOK
	if h.Status == pool.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (r *Router) stats(c *gin.Context) {
	c.JSON(http.StatusOK, r.manager.ConnectionStats())
}

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, r.manager.ConnectionHealth())
}

func (r *Router) alerts(c *gin.Context) {
	includeResolved := c.Query("resolved") == "true"
	c.JSON(http.StatusOK, gin.H{"alerts": r.manager.Alerts(includeResolved)})
}

func (r *Router) recentMetrics(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	metrics := r.manager.RecentMetrics(pool.MetricFilter{
		Backend: pool.Backend(c.Query("backend")),
		Limit:   limit,
	})
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}
