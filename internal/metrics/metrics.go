package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_ws_messages_total", Help: "WS上行消息数"},
		[]string{"action"},
	)
	MessageSendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "imsync_send_latency_ms", Help: "submit 端到端延迟(毫秒)", Buckets: prometheus.LinearBuckets(5, 5, 20)},
	)
	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imsync_live_connections", Help: "当前注册的活跃连接数"},
	)
	FanoutEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_fanout_events_total", Help: "按事件类型统计的扇出事件数"},
		[]string{"event"},
	)
	DroppedConnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "imsync_dropped_conns_total", Help: "因写失败或队列积压被拆除的连接数"},
	)
)

func Init() {
	prometheus.MustRegister(WSMessagesTotal)
	prometheus.MustRegister(MessageSendLatency)
	prometheus.MustRegister(LiveConnections)
	prometheus.MustRegister(FanoutEventsTotal)
	prometheus.MustRegister(DroppedConnsTotal)
}
