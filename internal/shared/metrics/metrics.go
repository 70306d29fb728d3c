package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stepCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_completed_total",
		Help: "Step instances completed, by acting agent type.",
	}, []string{"agent_type"})

	stepRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_rejected_total",
		Help: "Step completion attempts rejected, by reason.",
	}, []string{"reason"})

	dossierProvisionedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_dossier_provisioned_total",
		Help: "Dossiers created, by provisioning source.",
	}, []string{"source"})

	eventsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Events delivered to the publisher.",
	})

	eventsPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_publish_failed_total",
		Help: "Event delivery attempts that failed.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// IncStepCompleted increments the completion counter.
func IncStepCompleted(agentType string) {
	stepCompletedTotal.WithLabelValues(agentType).Inc()
}

// IncStepRejected increments the rejection counter.
func IncStepRejected(reason string) {
	stepRejectedTotal.WithLabelValues(reason).Inc()
}

// IncDossierProvisioned increments the provisioning counter.
func IncDossierProvisioned(source string) {
	dossierProvisionedTotal.WithLabelValues(source).Inc()
}

// AddEventsPublished adds n delivered events.
func AddEventsPublished(n int) {
	if n > 0 {
		eventsPublishedTotal.Add(float64(n))
	}
}

// IncEventPublishFailed increments the delivery failure counter.
func IncEventPublishFailed() {
	eventsPublishFailedTotal.Inc()
}

// ObserveRequest records a request latency. route is the matched gin route.
func ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
