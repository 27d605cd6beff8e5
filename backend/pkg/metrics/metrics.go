package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qr_attendance"

// Metrics 业务与 HTTP 指标
// 各组件持有 *Metrics，nil 时不记录
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Submissions      *prometheus.CounterVec
	ScanRejections   *prometheus.CounterVec
	ActiveQRSessions prometheus.Gauge
	StoreTxFailures  *prometheus.CounterVec
}

// New 创建独立的指标注册表并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求数",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_submissions_total",
			Help:      "签到提交结果",
		}, []string{"result"}),
		ScanRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_scan_rejections_total",
			Help:      "被拒绝的二维码扫描",
		}, []string{"reason"}),
		ActiveQRSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "qr_sessions_active",
			Help:      "当前倒计时中的签到二维码",
		}),
		StoreTxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_tx_failures_total",
			Help:      "文档存储事务提交失败次数",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.Submissions,
		m.ScanRejections,
		m.ActiveQRSessions,
		m.StoreTxFailures,
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ── 便捷记录方法（nil 安全） ──

// ObserveSubmission 记录一次签到提交结果
func (m *Metrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

// ObserveScanRejection 记录一次被拒绝的扫码
func (m *Metrics) ObserveScanRejection(reason string) {
	if m == nil {
		return
	}
	m.ScanRejections.WithLabelValues(reason).Inc()
}

// ObserveTxFailure 记录一次事务提交失败
func (m *Metrics) ObserveTxFailure(op string) {
	if m == nil {
		return
	}
	m.StoreTxFailures.WithLabelValues(op).Inc()
}

// SetActiveQRSessions 设置倒计时中的二维码数量
func (m *Metrics) SetActiveQRSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveQRSessions.Set(float64(n))
}
