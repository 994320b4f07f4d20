package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailrelay/backend/internal/domain"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮件指标
	MessagesIngested prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	MessagesCleared  prometheus.Counter
	AddressesIssued  prometheus.Counter

	// 清理指标
	MessagesSwept  prometheus.Counter
	SweepDuration  prometheus.Histogram
	SweepFailures  prometheus.Counter
	LastSweepEpoch prometheus.Gauge

	// 缓存指标
	CacheLookups *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	// WebSocket 指标
	WebSocketClients prometheus.Gauge
}

// NewMetrics 在独立的注册表上创建监控指标，并附带 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		MessagesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_messages_ingested_total",
				Help: "Total number of messages stored",
			},
		),

		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_messages_rejected_total",
				Help: "Total number of inbound messages rejected",
			},
			[]string{"reason"},
		),

		MessagesCleared: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_messages_cleared_total",
				Help: "Total number of messages removed by mailbox clear",
			},
		),

		AddressesIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_addresses_generated_total",
				Help: "Total number of addresses generated",
			},
		),

		MessagesSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_messages_swept_total",
				Help: "Total number of expired messages removed by retention sweeps",
			},
		),

		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailrelay_sweep_duration_seconds",
				Help:    "Retention sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SweepFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_sweep_failures_total",
				Help: "Total number of failed retention sweeps",
			},
		),

		LastSweepEpoch: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_last_sweep_timestamp_seconds",
				Help: "Unix time of the last successful retention sweep",
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_list_cache_lookups_total",
				Help: "Message list cache lookups by result",
			},
			[]string{"result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrelay_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrelay_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordIngest 记录一次入站结果，失败按错误类别计数
func (m *Metrics) RecordIngest(err error) {
	if err == nil {
		m.MessagesIngested.Inc()
		return
	}
	m.MessagesRejected.WithLabelValues(domain.ErrorKind(err)).Inc()
}

// RecordClear 记录清空邮箱删除的邮件数
func (m *Metrics) RecordClear(removed int64) {
	m.MessagesCleared.Add(float64(removed))
}

// RecordAddressGenerated 记录地址生成
func (m *Metrics) RecordAddressGenerated() {
	m.AddressesIssued.Inc()
}

// ObserveSweep 记录一次清理的结果
func (m *Metrics) ObserveSweep(removed int64, elapsed time.Duration, err error) {
	m.SweepDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.SweepFailures.Inc()
		m.RecordError(domain.ErrorKind(err), "sweeper")
		return
	}
	m.MessagesSwept.Add(float64(removed))
	m.LastSweepEpoch.SetToCurrentTime()
}

// RecordCacheLookup 记录列表缓存命中情况
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// WebSocketConnected 记录 WebSocket 连接建立
func (m *Metrics) WebSocketConnected() {
	m.WebSocketClients.Inc()
}

// WebSocketDisconnected 记录 WebSocket 连接断开
func (m *Metrics) WebSocketDisconnected() {
	m.WebSocketClients.Dec()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

