// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultNamespace 指标命名空间
const DefaultNamespace = "agent_server"

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 调用指标
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	streamChunksTotal  *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	// OTLP 镜像，未配置 Meter 时为 nil
	otelInvocations metric.Int64Counter
	otelDuration    metric.Float64Histogram

	logger *zap.Logger
}

// Option 配置 Collector
type Option func(*collectorOptions)

type collectorOptions struct {
	registerer prometheus.Registerer
	meter      metric.Meter
}

// WithRegisterer 指定注册表，默认使用 prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *collectorOptions) { o.registerer = r }
}

// WithMeter 将调用指标同时记录到 OpenTelemetry Meter
func WithMeter(m metric.Meter) Option {
	return func(o *collectorOptions) { o.meter = m }
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger, opts ...Option) *Collector {
	o := collectorOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(o.registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 调用指标
	c.invocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of agent invocations",
		},
		[]string{"agent_type", "mode", "status"}, // status: success, error, invalid
	)

	c.invocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Agent invocation duration in seconds, stream sessions included",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_type", "mode"},
	)

	c.streamChunksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of stream chunks sent",
		},
		[]string{"agent_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	if o.meter != nil {
		c.initOTel(o.meter)
	}
	return c
}

func (c *Collector) initOTel(m metric.Meter) {
	var err error
	c.otelInvocations, err = m.Int64Counter("agent_server.invocations",
		metric.WithDescription("Total number of agent invocations"))
	if err != nil {
		c.logger.Warn("otel counter unavailable", zap.Error(err))
	}
	c.otelDuration, err = m.Float64Histogram("agent_server.invocation.duration",
		metric.WithDescription("Agent invocation duration"),
		metric.WithUnit("s"))
	if err != nil {
		c.logger.Warn("otel histogram unavailable", zap.Error(err))
	}
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
// 🤖 调用指标记录
// =============================================================================

// RecordInvocation 记录一次调用（单次或整个流式会话）
func (c *Collector) RecordInvocation(agentType, mode, status string, duration time.Duration) {
	c.invocationsTotal.WithLabelValues(agentType, mode, status).Inc()
	c.invocationDuration.WithLabelValues(agentType, mode).Observe(duration.Seconds())

	if c.otelInvocations != nil || c.otelDuration != nil {
		ctx := context.Background()
		attrs := metric.WithAttributes(
			attribute.String("agent_type", agentType),
			attribute.String("mode", mode),
			attribute.String("status", status),
		)
		if c.otelInvocations != nil {
			c.otelInvocations.Add(ctx, 1, attrs)
		}
		if c.otelDuration != nil {
			c.otelDuration.Record(ctx, duration.Seconds(), attrs)
		}
	}
}

// RecordStreamChunk 记录一个已发送的流式分片
func (c *Collector) RecordStreamChunk(agentType string) {
	c.streamChunksTotal.WithLabelValues(agentType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
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
