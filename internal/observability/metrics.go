package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devmatch_push_active_connections",
			Help: "Number of live push connections (0 or 1 per process).",
		},
	)
	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devmatch_push_events_total",
			Help: "Total number of push channel events by name and direction.",
		},
		[]string{"event", "direction"},
	)
	pushDialAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devmatch_push_dial_attempts_total",
			Help: "Total number of push connection dial attempts.",
		},
		[]string{"outcome"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devmatch_messages_sent_total",
			Help: "Total number of message sends by outcome.",
		},
		[]string{"outcome"},
	)
	duplicateEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devmatch_duplicate_events_dropped_total",
			Help: "Inbound messages dropped because the server id was already present.",
		},
	)
	staleFetchesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devmatch_stale_fetches_discarded_total",
			Help: "History fetch results discarded because the selection changed in flight.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devmatch_stub_http_requests_total",
			Help: "Total number of HTTP requests processed by the stub backend.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devmatch_stub_http_request_duration_seconds",
			Help:    "Stub backend HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devmatch_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pushActiveConnections,
		pushEventsTotal,
		pushDialAttemptsTotal,
		messagesSentTotal,
		duplicateEventsDropped,
		staleFetchesDiscarded,
		httpRequestsTotal,
		httpRequestDuration,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies for the stub
// backend router.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncPushActive() { pushActiveConnections.Inc() }

func DecPushActive() { pushActiveConnections.Dec() }

func IncPushEvent(event, direction string) {
	pushEventsTotal.WithLabelValues(event, direction).Inc()
}

func IncDialAttempt(outcome string) {
	pushDialAttemptsTotal.WithLabelValues(outcome).Inc()
}

func IncMessageSent(outcome string) {
	messagesSentTotal.WithLabelValues(outcome).Inc()
}

func IncDuplicateDropped() { duplicateEventsDropped.Inc() }

func IncStaleFetchDiscarded() { staleFetchesDiscarded.Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
