package pool

import (
	"sync"
	"time"
)

// responseWindow bounds the rolling latency sample per slot.
const responseWindow = 100

// unhealthyAfterFailure is how long a slot stays unhealthy after its most
// recent event was a failure.
const unhealthyAfterFailure = 30 * time.Second

// unhealthyConsecutiveFailures is the consecutive-failure count at which a
// slot is reported unhealthy.
const unhealthyConsecutiveFailures = 5

// Health tracks rolling success/failure statistics for one connection slot.
// It is advisory only: the pool records into it but does not consult it when
// choosing slots.
type Health struct {
	mu sync.Mutex

	lastSuccess         time.Time
	lastFailure         time.Time
	consecutiveFailures int
	totalRequests       int64
	totalFailures       int64
	totalRetries        int64
	responseTimes       []time.Duration
}

// HealthStats is a point-in-time snapshot of a slot's health counters.
type HealthStats struct {
	LastSuccess         time.Time     `json:"last_success"`
	LastFailure         time.Time     `json:"last_failure"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalRequests       int64         `json:"total_requests"`
	TotalFailures       int64         `json:"total_failures"`
	TotalRetries        int64         `json:"total_retries"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Healthy             bool          `json:"is_healthy"`
}

// NewHealth returns an empty health tracker.
func NewHealth() *Health {
	return &Health{}
}

// RecordSuccess records a successful acquisition with its elapsed time.
func (h *Health) RecordSuccess(responseTime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastSuccess = time.Now()
	h.consecutiveFailures = 0
	h.totalRequests++
	h.responseTimes = append(h.responseTimes, responseTime)
	if len(h.responseTimes) > responseWindow {
		h.responseTimes = h.responseTimes[1:]
	}
}

// RecordFailure records a failed acquisition or operation.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastFailure = time.Now()
	h.consecutiveFailures++
	h.totalFailures++
	h.totalRequests++
}

// RecordRetry records a retry attempt.
func (h *Health) RecordRetry() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalRetries++
}

// IsHealthy reports whether the slot is considered healthy: fewer than five
// consecutive failures, and the most recent event was not a failure within
// the last thirty seconds.
func (h *Health) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isHealthyLocked()
}

func (h *Health) isHealthyLocked() bool {
	if h.consecutiveFailures >= unhealthyConsecutiveFailures {
		return false
	}
	if !h.lastFailure.IsZero() && h.lastFailure.After(h.lastSuccess) {
		if time.Since(h.lastFailure) < unhealthyAfterFailure {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of the health counters.
func (h *Health) Stats() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HealthStats{
		LastSuccess:         h.lastSuccess,
		LastFailure:         h.lastFailure,
		ConsecutiveFailures: h.consecutiveFailures,
		TotalRequests:       h.totalRequests,
		TotalFailures:       h.totalFailures,
		TotalRetries:        h.totalRetries,
		Healthy:             h.isHealthyLocked(),
	}
	if h.totalRequests > 0 {
		stats.SuccessRate = float64(h.totalRequests-h.totalFailures) / float64(h.totalRequests)
	}
	if len(h.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range h.responseTimes {
			total += rt
		}
		stats.AverageResponseTime = total / time.Duration(len(h.responseTimes))
	}
	return stats
}
