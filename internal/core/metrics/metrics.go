package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics DHT 指标集合
type Metrics struct {
	Bandwidth *BandwidthCounter

	messagesIn  *prometheus.CounterVec
	messagesOut *prometheus.CounterVec
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	dropped     *prometheus.CounterVec
	errorsSent  *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	tableNodes  *prometheus.GaugeVec
	splits      prometheus.Counter
	items       prometheus.Gauge
	searches    prometheus.Counter
}

// New 创建指标并注册到 reg
//
// reg 为 nil 时不注册，收集器仍然可用（测试常用）。
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Bandwidth: NewBandwidthCounter(),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "messages_received_total",
			Help: "Inbound DHT messages by type and method.",
		}, []string{"type", "method"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "messages_sent_total",
			Help: "Outbound DHT messages by type and method.",
		}, []string{"type", "method"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "received_bytes_total",
			Help: "Bytes received on all endpoints.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "sent_bytes_total",
			Help: "Bytes sent on all endpoints.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "dropped_total",
			Help: "Inbound datagrams dropped before dispatch, by reason.",
		}, []string{"reason"}),
		errorsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "error_replies_total",
			Help: "Error replies sent, by protocol error code.",
		}, []string{"code"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "jobs_finished_total",
			Help: "Finished jobs by query method and result.",
		}, []string{"method", "result"}),
		tableNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dht", Name: "routing_table_nodes",
			Help: "Remote nodes held in the routing table, by family.",
		}, []string{"family"}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "bucket_splits_total",
			Help: "Routing table bucket splits.",
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dht", Name: "storage_items",
			Help: "Locally stored BEP44 items.",
		}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "searches_total",
			Help: "Completed iterative searches.",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesIn, m.messagesOut, m.bytesIn, m.bytesOut, m.dropped,
		m.errorsSent, m.jobs, m.tableNodes, m.splits, m.items, m.searches,
	}
}

// ============================================================================
//                              记录方法
// ============================================================================

// MessageIn 记录入站报文
func (m *Metrics) MessageIn(typ, method string, size int) {
	if m == nil {
		return
	}
	m.Bandwidth.LogRecvMessage(int64(size))
	m.messagesIn.WithLabelValues(typ, method).Inc()
	m.bytesIn.Add(float64(size))
}

// MessageOut 记录出站报文
func (m *Metrics) MessageOut(typ, method string, size int) {
	if m == nil {
		return
	}
	m.Bandwidth.LogSentMessage(int64(size))
	m.messagesOut.WithLabelValues(typ, method).Inc()
	m.bytesOut.Add(float64(size))
}

// Dropped 记录被丢弃的入站报文
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// ErrorSent 记录发送的错误回复
func (m *Metrics) ErrorSent(code int) {
	if m == nil {
		return
	}
	m.errorsSent.WithLabelValues(strconv.Itoa(code)).Inc()
}

// JobFinished 记录完成的作业
func (m *Metrics) JobFinished(method, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(method, result).Inc()
}

// SetTableNodes 设置路由表节点数
func (m *Metrics) SetTableNodes(family string, n int) {
	if m == nil {
		return
	}
	m.tableNodes.WithLabelValues(family).Set(float64(n))
}

// Split 记录一次桶分裂
func (m *Metrics) Split() {
	if m == nil {
		return
	}
	m.splits.Inc()
}

// SetItems 设置本地存储项数量
func (m *Metrics) SetItems(n int) {
	if m == nil {
		return
	}
	m.items.Set(float64(n))
}

// SearchDone 记录一次完成的查找
func (m *Metrics) SearchDone() {
	if m == nil {
		return
	}
	m.searches.Inc()
}

// Stats 返回带宽计数快照
func (m *Metrics) Stats() BandwidthStats {
	if m == nil {
		return BandwidthStats{}
	}
	return m.Bandwidth.GetBandwidthTotals()
}
