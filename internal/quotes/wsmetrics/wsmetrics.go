package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 下游 ws 会话
var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conns",
		Help: "Active downstream websocket sessions",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_conn_open_total",
		Help: "Total downstream websocket sessions opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_close_total",
		Help: "Total downstream sessions closed, partitioned by close code and reason",
	}, []string{"code", "reason"})

	SubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sub_ops_total",
		Help: "Total subscription operations",
	}, []string{"op", "result"}) // sub/cancel, ok/error

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_msgs_out_total",
		Help: "Total websocket messages sent out",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_out_total",
		Help: "Total websocket bytes sent out",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_write_errors_total",
		Help: "Total websocket write errors",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_total",
		Help: "Total dropped downstream messages",
	}, []string{"why"})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_write_duration_seconds",
		Help:    "Duration of a websocket write",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
)

// registry / broadcaster
var (
	Topics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_registry_topics",
		Help: "Topic keys with at least one subscriber",
	})
	Adapters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_registry_adapters",
		Help: "Running upstream adapters",
	})
	DeliverTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_deliver_total",
		Help: "Fan-out deliveries per subscriber",
	}, []string{"source", "result"})
	DeliverFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quotes_deliver_fanout",
		Help:    "Subscribers reached per upstream event",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 1024},
	})
)

// 上游 adapter
var (
	AdapterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotes_adapter_state",
		Help: "Upstream adapter state (0 disconnected, 1 connecting, 2 connected, 3 stopped)",
	}, []string{"group", "mode"})
	UpstreamConnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_upstream_connect_total",
		Help: "Upstream connect attempts",
	}, []string{"exchange", "result"})
	UpstreamFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_upstream_frames_total",
		Help: "Upstream frames by kind",
	}, []string{"exchange", "kind"}) // data/pong/control/malformed
	UpstreamSubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_upstream_sub_ops_total",
		Help: "Subscribe / unsubscribe frames sent upstream",
	}, []string{"exchange", "op"})
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_poll_cycles_total",
		Help: "Poll adapter cycles",
	}, []string{"exchange", "result"})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(code int, reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func ObserveWrite(bytes int, dur time.Duration, err error) {
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	MsgsOutTotal.Inc()
	BytesOutTotal.Add(float64(bytes))
	WriteDuration.Observe(dur.Seconds())
}
