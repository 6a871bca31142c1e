package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of bridge HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Bridge HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_polls_total",
			Help: "Total number of backend polls by kind and result.",
		},
		[]string{"kind", "result"},
	)
	mergedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_merged_items_total",
			Help: "Items observed by the message merge, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	inboxRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_inbox_rebuilds_total",
			Help: "Number of inbox snapshots that replaced the stored list.",
		},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Optimistic sends by result.",
		},
		[]string{"result"},
	)
	seenFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_seen_failures_total",
			Help: "Mark-seen calls that failed and were swallowed.",
		},
	)
	openThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_open_threads",
			Help: "Number of thread synchronizers currently running.",
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		pollsTotal,
		mergedItemsTotal,
		inboxRebuildsTotal,
		sendsTotal,
		seenFailuresTotal,
		openThreads,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

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

// IncPoll records one poll; kind is "inbox", "thread" or "older".
func IncPoll(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pollsTotal.WithLabelValues(kind, result).Inc()
}

func AddMerged(source string, inserted, updated, skipped int) {
	if inserted > 0 {
		mergedItemsTotal.WithLabelValues(source, "inserted").Add(float64(inserted))
	}
	if updated > 0 {
		mergedItemsTotal.WithLabelValues(source, "updated").Add(float64(updated))
	}
	if skipped > 0 {
		mergedItemsTotal.WithLabelValues(source, "skipped").Add(float64(skipped))
	}
}

func IncInboxRebuild() {
	inboxRebuildsTotal.Inc()
}

func IncSend(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sendsTotal.WithLabelValues(result).Inc()
}

func IncSeenFailure() {
	seenFailuresTotal.Inc()
}

func SetOpenThreads(n int) {
	openThreads.Set(float64(n))
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
