package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 发送器状态取值，对应 EmailSenderState 指标
const (
	SenderStateIdle = iota
	SenderStateSending
	SenderStatePaused
	SenderStateStopped
)

// Metrics 监控指标
//
// 所有记录方法对 nil 接收者安全，组件在测试中可以不注入指标。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PanicsTotal         prometheus.Counter
	RateLimitBlocks     *prometheus.CounterVec

	// 会话与验证码指标
	LoginsTotal           *prometheus.CounterVec
	SessionChecksTotal    *prometheus.CounterVec
	SessionsClosed        prometheus.Counter
	TokensIssued          prometheus.Counter
	TokenValidationsTotal *prometheus.CounterVec

	// 邮件发送指标
	EmailsEnqueued      *prometheus.CounterVec
	EmailsSent          prometheus.Counter
	EmailSendFailures   prometheus.Counter
	EmailsDeadLettered  prometheus.Counter
	EmailQueueDepth     prometheus.Gauge
	EmailSenderState    prometheus.Gauge
	EmailProcessingTime prometheus.Histogram
}

// NewMetrics 在独立注册表上创建监控指标
//
// reg 为 nil 时新建注册表并附带 Go 运行时和进程采集器。
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lessonplan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_panics_total",
			Help: "Total number of recovered panics",
		}),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_rate_limit_blocks_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
			[]string{"endpoint"},
		),

		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),

		SessionChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_session_checks_total",
				Help: "Session checks by outcome",
			},
			[]string{"outcome"},
		),

		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_sessions_closed_total",
			Help: "Sessions closed explicitly",
		}),

		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_tokens_issued_total",
			Help: "One-time codes issued",
		}),

		TokenValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_token_validations_total",
				Help: "One-time code validations by outcome",
			},
			[]string{"outcome"},
		),

		EmailsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessonplan_emails_enqueued_total",
				Help: "Emails accepted into the durable queue",
			},
			[]string{"priority"},
		),

		EmailsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_emails_sent_total",
			Help: "Emails delivered to the transport",
		}),

		EmailSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_email_send_failures_total",
			Help: "Failed delivery attempts",
		}),

		EmailsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonplan_emails_dead_lettered_total",
			Help: "Emails moved to dead-letter storage after exhausting retries",
		}),

		EmailQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lessonplan_email_queue_depth",
			Help: "Messages waiting in the in-memory queue",
		}),

		EmailSenderState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lessonplan_email_sender_state",
			Help: "Sender state: 0 idle, 1 sending, 2 paused, 3 permanently stopped",
		}),

		EmailProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lessonplan_email_send_duration_seconds",
			Help:    "Time spent delivering a single email",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// RecordLogin 记录登录结果: success, failure
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionCheck 记录会话校验结果
func (m *Metrics) RecordSessionCheck(valid bool) {
	if m == nil {
		return
	}
	m.SessionChecksTotal.WithLabelValues(outcome(valid)).Inc()
}

// RecordSessionClosed 记录会话关闭
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
}

// RecordTokenIssued 记录验证码签发
func (m *Metrics) RecordTokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

// RecordTokenValidation 记录验证码校验结果
func (m *Metrics) RecordTokenValidation(valid bool) {
	if m == nil {
		return
	}
	m.TokenValidationsTotal.WithLabelValues(outcome(valid)).Inc()
}

// RecordEmailEnqueued 记录邮件入队
func (m *Metrics) RecordEmailEnqueued(priority string) {
	if m == nil {
		return
	}
	m.EmailsEnqueued.WithLabelValues(priority).Inc()
}

// RecordEmailSent 记录一次成功投递及其耗时
func (m *Metrics) RecordEmailSent(duration time.Duration) {
	if m == nil {
		return
	}
	m.EmailsSent.Inc()
	m.EmailProcessingTime.Observe(duration.Seconds())
}

// RecordEmailFailure 记录一次投递失败
func (m *Metrics) RecordEmailFailure() {
	if m == nil {
		return
	}
	m.EmailSendFailures.Inc()
}

// RecordEmailDeadLettered 记录邮件移入死信区
func (m *Metrics) RecordEmailDeadLettered() {
	if m == nil {
		return
	}
	m.EmailsDeadLettered.Inc()
}

// UpdateEmailQueueDepth 更新队列深度
func (m *Metrics) UpdateEmailQueueDepth(count int) {
	if m == nil {
		return
	}
	m.EmailQueueDepth.Set(float64(count))
}

// UpdateSenderState 更新发送器状态
func (m *Metrics) UpdateSenderState(state int) {
	if m == nil {
		return
	}
	m.EmailSenderState.Set(float64(state))
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
