package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics on top of prometheus.Registerer, matching
// the predecessor's pattern of registering counters/gauges directly against
// a shared registry instead of a metrics facade.
type PromMetrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsRouted    *prometheus.CounterVec
	routeFailures   *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	shardReady      *prometheus.GaugeVec
	shardLossEvents *prometheus.CounterVec
	heartbeatAge    *prometheus.GaugeVec
}

// NewPromMetrics registers and returns the gateway ingress metric vectors.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_received_total",
			Help: "Raw gateway events received per shard.",
		}, []string{"shard"}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_routed_total",
			Help: "Events successfully published to the bus per shard.",
		}, []string{"shard"}),
		routeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_route_failures_total",
			Help: "Events that exhausted publish retries per shard.",
		}, []string{"shard"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_route_duration_seconds",
			Help:    "Time from dequeue to successful publish.",
			Buckets: prometheus.DefBuckets,
		}, []string{"shard"}),
		shardReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_shard_ready",
			Help: "1 while a shard's websocket session is connected.",
		}, []string{"shard"}),
		shardLossEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_shard_lost_total",
			Help: "Shard session terminations per shard.",
		}, []string{"shard"}),
		heartbeatAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_last_heartbeat_unixtime",
			Help: "Unix time of the last pong received per shard.",
		}, []string{"shard"}),
	}
	reg.MustRegister(m.eventsReceived, m.eventsRouted, m.routeFailures, m.routeDuration, m.shardReady, m.shardLossEvents, m.heartbeatAge)
	return m
}

func shardLabel(shardID uint16) string { return strconv.Itoa(int(shardID)) }

func (m *PromMetrics) EventReceived(shardID uint16) { m.eventsReceived.WithLabelValues(shardLabel(shardID)).Inc() }
func (m *PromMetrics) EventRouted(shardID uint16)   { m.eventsRouted.WithLabelValues(shardLabel(shardID)).Inc() }
func (m *PromMetrics) RouteFailure(shardID uint16)  { m.routeFailures.WithLabelValues(shardLabel(shardID)).Inc() }
func (m *PromMetrics) RouteDuration(shardID uint16, d time.Duration) {
	m.routeDuration.WithLabelValues(shardLabel(shardID)).Observe(d.Seconds())
}
func (m *PromMetrics) ShardReady(shardID uint16) { m.shardReady.WithLabelValues(shardLabel(shardID)).Set(1) }
func (m *PromMetrics) ShardLost(shardID uint16) {
	m.shardReady.WithLabelValues(shardLabel(shardID)).Set(0)
	m.shardLossEvents.WithLabelValues(shardLabel(shardID)).Inc()
}
func (m *PromMetrics) Heartbeat(shardID uint16, at time.Time) {
	m.heartbeatAge.WithLabelValues(shardLabel(shardID)).Set(float64(at.Unix()))
}
