package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginUnconfirmed
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricSignupSuccess
	MetricSignupValidationFailure
	MetricSignupDuplicate
	MetricConfirmationSent
	MetricConfirmSuccess
	MetricConfirmFailure
	MetricPasswordResetRequest
	MetricPasswordResetUnknownEmail
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricTokenIssued
	MetricTokenReplaced
	MetricTokenConsumed
	MetricTokenRejected
	MetricDispatchEnqueued
	MetricDispatchFailure
	MetricInstructionsThrottled
	MetricValidateLatency
	metricIDCount
)

// MetricDef describes how a counter is exported.
type MetricDef struct {
	ID   MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []MetricDef{
	{MetricLoginSuccess, "authcore_login_success_total", "Successful logins."},
	{MetricLoginFailure, "authcore_login_failure_total", "Failed logins."},
	{MetricLoginRateLimited, "authcore_login_rate_limited_total", "Rate-limited login attempts."},
	{MetricLoginUnconfirmed, "authcore_login_unconfirmed_total", "Logins refused for unconfirmed accounts."},
	{MetricSessionCreated, "authcore_session_created_total", "Created sessions."},
	{MetricSessionInvalidated, "authcore_session_invalidated_total", "Sessions revoked by password reset."},
	{MetricLogout, "authcore_logout_total", "Logout operations."},
	{MetricSignupSuccess, "authcore_signup_success_total", "Accounts created."},
	{MetricSignupValidationFailure, "authcore_signup_validation_failure_total", "Signups rejected by input policy."},
	{MetricSignupDuplicate, "authcore_signup_duplicate_total", "Signups rejected as duplicate."},
	{MetricConfirmationSent, "authcore_confirmation_sent_total", "Confirmation instructions queued."},
	{MetricConfirmSuccess, "authcore_confirm_success_total", "Accounts confirmed."},
	{MetricConfirmFailure, "authcore_confirm_failure_total", "Failed confirmation attempts."},
	{MetricPasswordResetRequest, "authcore_password_reset_request_total", "Password reset instructions queued."},
	{MetricPasswordResetUnknownEmail, "authcore_password_reset_unknown_email_total", "Reset requests for unknown emails."},
	{MetricPasswordResetSuccess, "authcore_password_reset_success_total", "Completed password resets."},
	{MetricPasswordResetFailure, "authcore_password_reset_failure_total", "Failed password resets."},
	{MetricTokenIssued, "authcore_token_issued_total", "Tokens issued."},
	{MetricTokenReplaced, "authcore_token_replaced_total", "Live tokens retired by a newer issue."},
	{MetricTokenConsumed, "authcore_token_consumed_total", "Tokens consumed."},
	{MetricTokenRejected, "authcore_token_rejected_total", "Unknown, expired or reused tokens presented."},
	{MetricDispatchEnqueued, "authcore_dispatch_enqueued_total", "Delivery jobs queued."},
	{MetricDispatchFailure, "authcore_dispatch_failure_total", "Delivery jobs that could not be queued."},
	{MetricInstructionsThrottled, "authcore_instructions_throttled_total", "Instruction sends refused by the request throttle."},
}

// HistogramDefs lists exported latency histograms.
var HistogramDefs = []MetricDef{
	{MetricValidateLatency, "authcore_validate_latency_seconds", "ValidateSession latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
// The last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a set of lock-free engine counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histogram buckets
// are not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only latency metrics keep
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(HistogramDefs)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricValidateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, def := range HistogramDefs {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[def.ID].buckets[i])
			}
			s.Histograms[def.ID] = buckets
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	secs := d.Seconds()
	for i, le := range HistogramBounds {
		if secs <= le {
			return i
		}
	}
	return histBucketCount - 1
}
