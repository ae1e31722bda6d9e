package gateway

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPromMetricsTracksShardReadyAndLost(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	m.ShardReady(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.shardReady.WithLabelValues("1")))

	m.ShardLost(1)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.shardReady.WithLabelValues("1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.shardLossEvents.WithLabelValues("1")))
}

func TestPromMetricsEventCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	m.EventReceived(2)
	m.EventReceived(2)
	m.EventRouted(2)
	m.RouteFailure(2)
	m.RouteDuration(2, 250*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.eventsReceived.WithLabelValues("2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventsRouted.WithLabelValues("2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.routeFailures.WithLabelValues("2")))
}

func TestPromMetricsHeartbeatRecordsUnixTime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	now := time.Now()
	m.Heartbeat(5, now)
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(m.heartbeatAge.WithLabelValues("5")))
}
