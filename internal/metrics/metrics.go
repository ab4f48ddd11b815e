// Package metrics provides Prometheus metrics for monitoring the harvest service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_tasks_created_total",
			Help: "Total number of analysis tasks created",
		},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"model"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_tasks_failed_total",
			Help: "Total number of tasks that failed",
		},
		[]string{"model", "cause"},
	)
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_inference_duration_seconds",
			Help:    "Inference call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "status"},
	)
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"outcome"},
	)
	StoreFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_store_fallback_total",
			Help: "Total number of operations served by the in-memory fallback store",
		},
		[]string{"operation"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskCreated() {
	TasksCreated.Inc()
}

func RecordTaskCompleted(model string, duration time.Duration) {
	TasksCompleted.WithLabelValues(model).Inc()
	InferenceDuration.WithLabelValues(model, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(model, cause string, duration time.Duration) {
	TasksFailed.WithLabelValues(model, cause).Inc()
	InferenceDuration.WithLabelValues(model, "failed").Observe(duration.Seconds())
}

func RecordWebhookDelivery(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	WebhookDeliveries.WithLabelValues(outcome).Inc()
}

func RecordStoreFallback(operation string) {
	StoreFallbacks.WithLabelValues(operation).Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
