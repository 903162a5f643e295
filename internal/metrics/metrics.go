package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 采集与解码指标
// 注册在私有registry上,经API服务器的/metrics暴露
type Metrics struct {
	registry *prometheus.Registry

	decodeTotal     *prometheus.CounterVec
	rpcTotal        *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheStaleServe prometheus.Counter
	blocksProcessed prometheus.Counter
	blocksFailed    prometheus.Counter
	queueDepth      prometheus.Gauge
}

// New 创建指标集
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		decodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "decode_total",
			Help:      "按类型与结果统计的解码次数",
		}, []string{"kind", "outcome"}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "rpc_requests_total",
			Help:      "按方法统计的RPC调用次数",
		}, []string{"method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainscan",
			Name:      "rpc_request_duration_seconds",
			Help:      "按方法统计的RPC调用耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "cache_hits_total",
			Help:      "缓存命中次数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "cache_misses_total",
			Help:      "缓存未命中次数",
		}),
		cacheStaleServe: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "cache_stale_served_total",
			Help:      "刷新失败返回过期数据的次数",
		}),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "collector_blocks_processed_total",
			Help:      "采集器处理完成的区块数",
		}),
		blocksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainscan",
			Name:      "collector_blocks_failed_total",
			Help:      "采集器处理失败的区块数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainscan",
			Name:      "collector_queue_depth",
			Help:      "采集器任务队列当前深度",
		}),
	}

	registry.MustRegister(
		m.decodeTotal,
		m.rpcTotal,
		m.rpcDuration,
		m.cacheHits,
		m.cacheMisses,
		m.cacheStaleServe,
		m.blocksProcessed,
		m.blocksFailed,
		m.queueDepth,
	)
	return m
}

// ObserveDecode 记录一次解码
func (m *Metrics) ObserveDecode(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.decodeTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRPC 记录一次RPC调用及耗时
func (m *Metrics) ObserveRPC(method string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.rpcTotal.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveCacheHit 记录缓存命中
func (m *Metrics) ObserveCacheHit() { m.cacheHits.Inc() }

// ObserveCacheMiss 记录缓存未命中
func (m *Metrics) ObserveCacheMiss() { m.cacheMisses.Inc() }

// ObserveStaleServe 记录过期兜底
func (m *Metrics) ObserveStaleServe() { m.cacheStaleServe.Inc() }

// ObserveBlock 记录一个区块的处理结果
func (m *Metrics) ObserveBlock(ok bool) {
	if ok {
		m.blocksProcessed.Inc()
	} else {
		m.blocksFailed.Inc()
	}
}

// SetQueueDepth 更新任务队列深度
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// Handler 返回/metrics的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
