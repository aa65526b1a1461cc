package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_dispatched_total",
			Help: "Total notifications dispatched by type and channel",
		},
		[]string{"type", "channel"},
	)

	channelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_channel_deliveries_total",
			Help: "Channel delivery outcomes by channel and status",
		},
		[]string{"channel", "status"},
	)

	webhookAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_attempts_total",
			Help: "Individual webhook HTTP attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_webhook_delivery_duration_seconds",
			Help:    "End-to-end webhook delivery time including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	webhookEndpointsDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_webhook_endpoints_auto_disabled_total",
			Help: "Endpoints auto-disabled after consecutive failures",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_idempotency_hits_total",
			Help: "Dispatch requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"user_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationDispatched records one channel routing decision.
func RecordNotificationDispatched(notifType, channel string) {
	notificationsDispatched.WithLabelValues(notifType, channel).Inc()
}

// RecordChannelDelivery records a channel delivery outcome.
func RecordChannelDelivery(channel, status string) {
	channelDeliveries.WithLabelValues(channel, status).Inc()
}

// RecordWebhookAttempt records one webhook HTTP attempt.
// Outcome is "success", "retryable" or "terminal".
func RecordWebhookAttempt(outcome string) {
	webhookAttempts.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery records a finished logical delivery.
func RecordWebhookDelivery(outcome string, duration time.Duration) {
	webhookDeliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordEndpointAutoDisabled records an auto-disable transition.
func RecordEndpointAutoDisabled() {
	webhookEndpointsDisabled.Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(userID string) {
	rateLimitRejections.WithLabelValues(userID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
