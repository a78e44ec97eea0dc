package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/metrics"
	"github.com/novahr/security-engine/internal/service/alerting"
	"github.com/novahr/security-engine/internal/service/correlation"
	"github.com/novahr/security-engine/internal/service/detection"
	"github.com/novahr/security-engine/internal/service/stats"
)

// Handler wires the service layer to HTTP. One instance serves all routes.
type Handler struct {
	anomalies   *detection.AnomalyWorkflow
	coordinator *detection.Coordinator
	alerts      *alerting.Manager
	correlation *correlation.Engine
	stats       *stats.Aggregator

	auth      *Authenticator
	metrics   *metrics.Registry
	health    *HealthChecker
	alertFeed http.Handler
	logger    *zap.Logger

	defaultLookback int
	limiter         *ipRateLimiter
}

// Deps carries everything the HTTP layer needs. AlertFeed is optional; when
// nil the websocket route is not registered.
type Deps struct {
	Anomalies   *detection.AnomalyWorkflow
	Coordinator *detection.Coordinator
	Alerts      *alerting.Manager
	Correlation *correlation.Engine
	Stats       *stats.Aggregator

	Auth      *Authenticator
	Metrics   *metrics.Registry
	Health    *HealthChecker
	AlertFeed http.Handler
	Logger    *zap.Logger

	DefaultLookbackMinutes int
	RequestsPerSecond      float64
	BurstSize              int
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lookback := deps.DefaultLookbackMinutes
	if lookback <= 0 {
		lookback = 60
	}
	rps := deps.RequestsPerSecond
	if rps <= 0 {
		rps = 100
	}
	burst := deps.BurstSize
	if burst <= 0 {
		burst = int(rps) * 2
	}

	return &Handler{
		anomalies:       deps.Anomalies,
		coordinator:     deps.Coordinator,
		alerts:          deps.Alerts,
		correlation:     deps.Correlation,
		stats:           deps.Stats,
		auth:            deps.Auth,
		metrics:         deps.Metrics,
		health:          deps.Health,
		alertFeed:       deps.AlertFeed,
		logger:          logger,
		defaultLookback: lookback,
		limiter:         newIPRateLimiter(rps, burst),
	}
}

// Routes builds the full route table with the shared middleware stack.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Operational endpoints bypass auth and rate limiting.
	if h.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Prometheus(), promhttp.HandlerOpts{}))
	}
	if h.health != nil {
		mux.HandleFunc("GET /healthz", h.health.Liveness)
		mux.HandleFunc("GET /readyz", h.health.Readiness)
	}

	protected := func(handler http.HandlerFunc) http.Handler {
		return chain(handler, h.auth.Middleware, rateLimitMiddleware(h.limiter))
	}

	mux.Handle("GET /api/v1/anomalies", protected(h.handleListAnomalies))
	mux.Handle("GET /api/v1/anomalies/statistics", protected(h.handleAnomalyStatistics))
	mux.Handle("GET /api/v1/anomalies/top-users", protected(h.handleTopUsers))
	mux.Handle("GET /api/v1/anomalies/recent-critical", protected(h.handleRecentCritical))
	mux.Handle("GET /api/v1/anomalies/{id}", protected(h.handleGetAnomaly))
	mux.Handle("PUT /api/v1/anomalies/{id}/status", protected(h.handleUpdateAnomalyStatus))

	mux.Handle("POST /api/v1/detection/runs", protected(h.handleTriggerRun))
	mux.Handle("GET /api/v1/detection/runs/{key}", protected(h.handleGetRun))

	mux.Handle("GET /api/v1/alerts", protected(h.handleListAlerts))
	mux.Handle("GET /api/v1/alerts/statistics", protected(h.handleAlertCounts))
	mux.Handle("GET /api/v1/alerts/{id}", protected(h.handleGetAlert))
	mux.Handle("POST /api/v1/alerts/{id}/acknowledge", protected(h.handleAcknowledgeAlert))
	mux.Handle("POST /api/v1/alerts/{id}/assign", protected(h.handleAssignAlert))
	mux.Handle("POST /api/v1/alerts/{id}/progress", protected(h.handleAlertInProgress))
	mux.Handle("POST /api/v1/alerts/{id}/resolve", protected(h.handleResolveAlert))
	mux.Handle("POST /api/v1/alerts/{id}/false-positive", protected(h.handleAlertFalsePositive))
	mux.Handle("POST /api/v1/alerts/{id}/escalate", protected(h.handleEscalateAlert))

	mux.Handle("GET /api/v1/correlation/users/{id}", protected(h.handleCorrelateUser))
	mux.Handle("GET /api/v1/correlation/patterns", protected(h.handleCrossUserPatterns))

	if h.alertFeed != nil {
		mux.Handle("GET /api/v1/ws/alerts", chain(h.alertFeed, h.auth.Middleware))
	}

	mws := []middleware{requestIDMiddleware, recoveryMiddleware(h.logger), loggingMiddleware(h.logger)}
	if h.metrics != nil {
		mws = append(mws, metricsMiddleware(h.metrics))
	}
	mws = append(mws, tracingMiddleware(otel.Tracer("api.rest")))
	return chain(mux, mws...)
}
