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
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_sent_total",
			Help: "Total delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	messagesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_queued_total",
			Help: "Messages deferred for scheduled delivery",
		},
		[]string{"channel"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_fallbacks_total",
			Help: "Fallback delivery attempts by original and fallback channel",
		},
		[]string{"from", "to"},
	)

	constraintRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_constraint_rejections_total",
			Help: "Sends rejected by delivery constraints",
		},
		[]string{"constraint"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_send_duration_seconds",
			Help:    "End-to-end orchestration time per send",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"channel"},
	)

	journeyStepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_journey_steps_executed_total",
			Help: "Journey step executions by action type and outcome",
		},
		[]string{"action", "status"},
	)

	enrollmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_enrollments_total",
			Help: "Enrollment transitions by status",
		},
		[]string{"status"},
	)

	schedulerTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_scheduler_tick_duration_seconds",
			Help:    "Time spent per scheduler tick",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"task"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_events_consumed_total",
			Help: "Domain events consumed by type and outcome",
		},
		[]string{"status"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_rejections_total",
			Help: "API requests rejected by the rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessageSent records a delivery attempt outcome
func RecordMessageSent(channel, status string) {
	messagesSent.WithLabelValues(channel, status).Inc()
}

// RecordMessageQueued records a message deferred for later delivery
func RecordMessageQueued(channel string) {
	messagesQueued.WithLabelValues(channel).Inc()
}

// RecordFallback records a fallback attempt from one channel to another
func RecordFallback(from, to string) {
	fallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordConstraintRejection records a send blocked by a delivery constraint
func RecordConstraintRejection(constraint string) {
	constraintRejections.WithLabelValues(constraint).Inc()
}

// RecordSendDuration records end-to-end orchestration time for a send
func RecordSendDuration(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordJourneyStep records a journey step execution
func RecordJourneyStep(action, status string) {
	journeyStepsExecuted.WithLabelValues(action, status).Inc()
}

// RecordEnrollment records an enrollment status transition
func RecordEnrollment(status string) {
	enrollmentsTotal.WithLabelValues(status).Inc()
}

// RecordSchedulerTick records the duration of one scheduler task run
func RecordSchedulerTick(task string, d time.Duration) {
	schedulerTickDuration.WithLabelValues(task).Observe(d.Seconds())
}

// RecordEventConsumed records a consumed domain event outcome
func RecordEventConsumed(status string) {
	eventsConsumed.WithLabelValues(status).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
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
