// Package metrics holds the Prometheus instrumentation for the security
// engine. One Registry instance is shared by the detection pipeline, the
// alert lifecycle and the HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Registry struct {
	registry *prometheus.Registry

	// Detection pipeline
	DetectionRunsTotal    *prometheus.CounterVec
	DetectionRunDuration  prometheus.Histogram
	AnomaliesCreatedTotal *prometheus.CounterVec
	AnomaliesMergedTotal  prometheus.Counter
	RuleFailuresTotal     *prometheus.CounterVec

	// Alert lifecycle
	AlertsCreatedTotal    *prometheus.CounterVec
	AlertsThrottledTotal  prometheus.Counter
	AlertTransitionsTotal *prometheus.CounterVec

	// Correlation
	CorrelationRunsTotal    prometheus.Counter
	PatternsDetectedTotal   *prometheus.CounterVec
	CorrelationScanDuration prometheus.Histogram

	// HTTP layer
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,

		DetectionRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_detection_runs_total",
			Help: "Detection runs by outcome.",
		}, []string{"status"}),
		DetectionRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrsec_detection_run_duration_seconds",
			Help:    "Wall time of one detection run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AnomaliesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_anomalies_created_total",
			Help: "Anomaly records created by type.",
		}, []string{"type"}),
		AnomaliesMergedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrsec_anomalies_merged_total",
			Help: "Re-detections merged into existing open anomalies.",
		}),
		RuleFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_rule_failures_total",
			Help: "Detection rule evaluation failures by rule.",
		}, []string{"rule"}),

		AlertsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_alerts_created_total",
			Help: "Security alerts created by type and severity.",
		}, []string{"type", "severity"}),
		AlertsThrottledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrsec_alerts_throttled_total",
			Help: "Alert creations suppressed by the cooldown window.",
		}),
		AlertTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_alert_transitions_total",
			Help: "Alert lifecycle transitions by target status.",
		}, []string{"status"}),

		CorrelationRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrsec_correlation_runs_total",
			Help: "Correlation analyses performed.",
		}),
		PatternsDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_patterns_detected_total",
			Help: "Correlation patterns detected by tag.",
		}, []string{"tag"}),
		CorrelationScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrsec_correlation_scan_duration_seconds",
			Help:    "Wall time of one cross-user correlation scan.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hrsec_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrsec_http_requests_total",
			Help: "HTTP requests by route, method and status class.",
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(
		r.DetectionRunsTotal, r.DetectionRunDuration,
		r.AnomaliesCreatedTotal, r.AnomaliesMergedTotal, r.RuleFailuresTotal,
		r.AlertsCreatedTotal, r.AlertsThrottledTotal, r.AlertTransitionsTotal,
		r.CorrelationRunsTotal, r.PatternsDetectedTotal, r.CorrelationScanDuration,
		r.HTTPRequestDuration, r.HTTPRequestsTotal,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// ObserveRun records the outcome and duration of one detection run.
func (r *Registry) ObserveRun(status string, elapsed time.Duration) {
	r.DetectionRunsTotal.WithLabelValues(status).Inc()
	r.DetectionRunDuration.Observe(elapsed.Seconds())
}

// AnomalyCreated counts a new anomaly record by rule type.
func (r *Registry) AnomalyCreated(anomalyType string) {
	r.AnomaliesCreatedTotal.WithLabelValues(anomalyType).Inc()
}

// AnomalyMerged counts a re-detection folded into an existing open record.
func (r *Registry) AnomalyMerged() {
	r.AnomaliesMergedTotal.Inc()
}

// RuleFailed counts an isolated rule evaluation failure.
func (r *Registry) RuleFailed(rule string) {
	r.RuleFailuresTotal.WithLabelValues(rule).Inc()
}

// AlertCreated counts a raised alert by type and severity.
func (r *Registry) AlertCreated(alertType, severity string) {
	r.AlertsCreatedTotal.WithLabelValues(alertType, severity).Inc()
}

// AlertThrottled counts an alert suppressed by the cooldown window.
func (r *Registry) AlertThrottled() {
	r.AlertsThrottledTotal.Inc()
}
