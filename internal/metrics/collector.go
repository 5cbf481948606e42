// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。标签基数在构造期就有上界：function/variant/model/
// provider/metric 名称全部来自启动时加载的静态注册表。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 推理指标
	requestCount   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	tokensTotal    *prometheus.CounterVec
	feedbackCount  *prometheus.CounterVec

	// 持久化管道指标
	recordsDropped  *prometheus.CounterVec
	sinkFlushTotal  *prometheus.CounterVec
	sinkFlushErrors prometheus.Counter
	bufferFill      prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 推理指标
	c.requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_count",
			Help:      "Total number of inference requests",
		},
		[]string{"function", "variant", "model", "provider", "outcome"},
	)

	c.requestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Inference request latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"function", "variant", "model"},
	)

	c.tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total number of tokens processed",
		},
		[]string{"direction", "function", "model", "provider"}, // direction: input, output
	)

	c.feedbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_count",
			Help:      "Total number of feedback records accepted",
		},
		[]string{"metric", "level"},
	)

	// 持久化管道指标
	c.recordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped because the observability buffer was full",
		},
		[]string{"kind"}, // kind: inference, feedback
	)

	c.sinkFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_flush_total",
			Help:      "Batches flushed to the analytics sink",
		},
		[]string{"kind"},
	)

	c.sinkFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_flush_errors_total",
			Help:      "Failed flush attempts against the analytics sink",
		},
	)

	c.bufferFill = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observability_buffer_fill",
			Help:      "Current number of records waiting in the observability buffer",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 推理指标记录
// =============================================================================

// RecordInference 记录一次推理请求的结果与延迟。outcome 为 success 或
// 具体的错误码字符串。
func (c *Collector) RecordInference(function, variant, model, provider, outcome string, duration time.Duration) {
	c.requestCount.WithLabelValues(function, variant, model, provider, outcome).Inc()
	c.requestLatency.WithLabelValues(function, variant, model).Observe(duration.Seconds())
}

// RecordTokens 记录 token 用量
func (c *Collector) RecordTokens(function, model, provider string, inputTokens, outputTokens int) {
	c.tokensTotal.WithLabelValues("input", function, model, provider).Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues("output", function, model, provider).Add(float64(outputTokens))
}

// RecordFeedback 记录一条反馈
func (c *Collector) RecordFeedback(metric, level string) {
	c.feedbackCount.WithLabelValues(metric, level).Inc()
}

// =============================================================================
// 📦 持久化管道指标记录
// =============================================================================

// RecordDrop 记录一条因缓冲区满而被丢弃的记录
func (c *Collector) RecordDrop(kind string) {
	c.recordsDropped.WithLabelValues(kind).Inc()
}

// RecordFlush 记录一次成功的批量落库
func (c *Collector) RecordFlush(kind string, n int) {
	c.sinkFlushTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordFlushError 记录一次落库失败
func (c *Collector) RecordFlushError() {
	c.sinkFlushErrors.Inc()
}

// SetBufferFill 更新缓冲区当前长度
func (c *Collector) SetBufferFill(n int) {
	c.bufferFill.Set(float64(n))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
