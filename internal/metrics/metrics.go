package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animehub_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "animehub_ws_events_total",
		Help: "Inbound websocket events by type",
	}, []string{"type"})
	WsDroppedClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animehub_ws_dropped_clients_total",
		Help: "Connections dropped because their send queue was full",
	})
	PartyRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "animehub_party_rooms",
		Help: "Watch-party rooms with at least one bound connection",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animehub_chat_messages_total",
		Help: "Total number of chat messages stored",
	})
	ChatMessagesPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "animehub_chat_messages_pruned_total",
		Help: "Chat messages deleted by the retention sweep",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsEventsTotal, WsDroppedClients, PartyRooms,
		ChatMessagesTotal, ChatMessagesPruned,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 按路由模板统计请求数与耗时，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
