package transport

import (
	"sync/atomic"
	"time"
)

// Metrics is the counter bank for one pool. All counters are atomic so a
// summary can be computed at any time without blocking in-flight requests.
type Metrics struct {
	total        atomic.Int64
	successful   atomic.Int64
	failed       atomic.Int64
	retries      atomic.Int64
	latencyNanos atomic.Int64
	http2        atomic.Int64
	http1        atomic.Int64
	inflight     atomic.Int64
	maxInflight  atomic.Int64
}

// Summary is a derived snapshot of the counter bank.
type Summary struct {
	TotalRequests         int64   `json:"total_requests"`
	SuccessfulRequests    int64   `json:"successful_requests"`
	FailedRequests        int64   `json:"failed_requests"`
	Retries               int64   `json:"retries"`
	SuccessRatePercent    float64 `json:"success_rate_percent"`
	AvgLatencyMs          float64 `json:"avg_latency_ms"`
	HTTP2Requests         int64   `json:"http2_requests"`
	HTTP1Requests         int64   `json:"http1_requests"`
	HTTP2UsagePercent     float64 `json:"http2_usage_percent"`
	MaxConcurrentRequests int64   `json:"max_concurrent_requests"`
}

// begin records the start of a logical request and updates the
// concurrent-in-flight high-water mark.
func (m *Metrics) begin() {
	m.total.Add(1)
	cur := m.inflight.Add(1)
	for {
		max := m.maxInflight.Load()
		if cur <= max || m.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
}

// endSuccess records a successful logical request and its total latency.
func (m *Metrics) endSuccess(latency time.Duration) {
	m.successful.Add(1)
	m.latencyNanos.Add(int64(latency))
	m.inflight.Add(-1)
}

// endFailure records a failed logical request.
func (m *Metrics) endFailure() {
	m.failed.Add(1)
	m.inflight.Add(-1)
}

// recordProto counts the protocol version observed on one attempt.
func (m *Metrics) recordProto(protoMajor int) {
	if protoMajor == 2 {
		m.http2.Add(1)
	} else {
		m.http1.Add(1)
	}
}

// recordRetry counts one retry attempt.
func (m *Metrics) recordRetry() {
	m.retries.Add(1)
}

// Summary derives the current metrics snapshot.
func (m *Metrics) Summary() Summary {
	total := m.total.Load()
	successful := m.successful.Load()
	h2 := m.http2.Load()
	h1 := m.http1.Load()

	s := Summary{
		TotalRequests:         total,
		SuccessfulRequests:    successful,
		FailedRequests:        m.failed.Load(),
		Retries:               m.retries.Load(),
		HTTP2Requests:         h2,
		HTTP1Requests:         h1,
		MaxConcurrentRequests: m.maxInflight.Load(),
	}
	if total > 0 {
		s.SuccessRatePercent = float64(successful) / float64(total) * 100
	}
	if successful > 0 {
		avgNanos := float64(m.latencyNanos.Load()) / float64(successful)
		s.AvgLatencyMs = avgNanos / float64(time.Millisecond)
	}
	if attempts := h2 + h1; attempts > 0 {
		s.HTTP2UsagePercent = float64(h2) / float64(attempts) * 100
	}
	return s
}
