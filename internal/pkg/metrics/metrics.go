package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AccountOperationsTotal 账户操作结果计数（operation, result）。
	AccountOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userbackend_account_operations_total",
		Help: "Account operations by outcome.",
	}, []string{"operation", "result"})

	// GateRejectionsTotal 认证/授权网关拒绝计数（gate, reason）。
	GateRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userbackend_gate_rejections_total",
		Help: "Requests rejected by the authentication or authorization gate.",
	}, []string{"gate", "reason"})

	ResetTokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "userbackend_reset_tokens_issued_total",
		Help: "Password reset tokens issued.",
	})

	// ResetTokensConsumedTotal 重置令牌消费结果（result: ok / invalid）。
	ResetTokensConsumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userbackend_reset_tokens_consumed_total",
		Help: "Password reset token consumption attempts.",
	}, []string{"result"})

	EmailSendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userbackend_email_send_total",
		Help: "Outbound emails by status.",
	}, []string{"status"})

	// IdentityCacheTotal 身份缓存命中情况（result: hit / miss / error）。
	IdentityCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userbackend_identity_cache_total",
		Help: "Identity cache lookups.",
	}, []string{"result"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userbackend_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

var initOnce sync.Once

// InitMetrics 向默认注册表注册全部指标，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			AccountOperationsTotal,
			GateRejectionsTotal,
			ResetTokensIssuedTotal,
			ResetTokensConsumedTotal,
			EmailSendTotal,
			IdentityCacheTotal,
			HTTPRequestDuration,
		)
	})
}
