// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 它同时实现 session.Observer、render.Observer、pipeline.Observer 与 gateway 的帧计数接口。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionDuration prometheus.Histogram
	framesTotal     *prometheus.CounterVec

	// 轮次与阶段指标
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	// 渲染引擎指标
	renderQueueDepth prometheus.Gauge
	renderWait       *prometheus.HistogramVec
	renderDuration   *prometheus.HistogramVec
	rendersTotal     *prometheus.CounterVec

	// 产物指标
	artifactsSwept prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器并注册到 reg；reg 为 nil 时不注册。
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
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

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live websocket sessions",
	})

	c.sessionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of sessions opened",
	})

	c.sessionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Session lifetime in seconds",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
	})

	c.framesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_frames_total",
			Help:      "Websocket frames by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	// 轮次与阶段指标
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of pipeline turns",
		},
		[]string{"source", "outcome"}, // source: audio, text; outcome: delivered, error code, discarded
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "outcome"},
	)

	// 渲染引擎指标
	c.renderQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "render_queue_depth",
		Help:      "Number of turns waiting for the render engine",
	})

	c.renderWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_wait_seconds",
			Help:      "Time spent waiting for the render engine",
			Buckets:   []float64{0.01, 0.1, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"}, // granted, abandoned
	)

	c.renderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Render engine call duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	c.rendersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of render engine calls",
		},
		[]string{"outcome"},
	)

	// 产物指标
	c.artifactsSwept = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_swept_total",
		Help:      "Rendered videos removed by the retention janitor",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔌 会话指标记录
// =============================================================================

// RecordSessionOpened 实现 session.Observer
func (c *Collector) RecordSessionOpened() {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// RecordSessionClosed 实现 session.Observer
func (c *Collector) RecordSessionClosed(lifetime time.Duration) {
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(lifetime.Seconds())
}

// RecordFrame 记录一个入站或出站帧
func (c *Collector) RecordFrame(direction, kind string) {
	c.framesTotal.WithLabelValues(direction, kind).Inc()
}

// =============================================================================
// 🎬 轮次指标记录
// =============================================================================

// RecordTurn 记录一个结束的轮次
func (c *Collector) RecordTurn(source, outcome string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(source, outcome).Inc()
	c.turnDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordStage 记录单个阶段耗时
func (c *Collector) RecordStage(stage, outcome string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// =============================================================================
// 🖥️ 渲染引擎指标记录
// =============================================================================

// RecordRenderQueueDepth 实现 render.Observer
func (c *Collector) RecordRenderQueueDepth(depth int) {
	c.renderQueueDepth.Set(float64(depth))
}

// RecordRenderWait 实现 render.Observer
func (c *Collector) RecordRenderWait(wait time.Duration, granted bool) {
	outcome := "granted"
	if !granted {
		outcome = "abandoned"
	}
	c.renderWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

// RecordRender 实现 render.Observer
func (c *Collector) RecordRender(duration time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.rendersTotal.WithLabelValues(outcome).Inc()
	c.renderDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// =============================================================================
// 🗂️ 产物指标记录
// =============================================================================

// RecordArtifactsSwept 记录清理掉的视频数量
func (c *Collector) RecordArtifactsSwept(n int) {
	c.artifactsSwept.Add(float64(n))
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
