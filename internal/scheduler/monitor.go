package scheduler

import (
	"sync"
	"time"
)

const (
	completedHistorySize = 100
	failedHistorySize    = 50
)

// Record is a finished task's footprint in the monitor history.
type Record struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Priority string        `json:"priority"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Finished time.Time     `json:"finished"`
}

// Statistics is a point-in-time snapshot of scheduler activity.
type Statistics struct {
	ActiveWorkers  int     `json:"active_workers"`
	QueueSize      int     `json:"queue_size"`
	TasksSubmitted uint64  `json:"tasks_submitted"`
	TasksCompleted uint64  `json:"tasks_completed"`
	TasksFailed    uint64  `json:"tasks_failed"`
	TasksCancelled uint64  `json:"tasks_cancelled"`
	TasksRetried   uint64  `json:"tasks_retried"`
	SuccessRate    float64 `json:"success_rate"`
}

// Monitor tracks scheduler counters and keeps a bounded history of recent
// completions and failures.
type Monitor struct {
	mu sync.Mutex

	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64
	retried   uint64
	active    int

	completedHistory []Record
	failedHistory    []Record
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) recordSubmitted() {
	m.mu.Lock()
	m.submitted++
	m.mu.Unlock()
}

func (m *Monitor) recordStarted() {
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
}

func (m *Monitor) recordRetry() {
	m.mu.Lock()
	m.retried++
	m.active--
	m.mu.Unlock()
}

func (m *Monitor) recordCompleted(rec Record) {
	m.mu.Lock()
	m.completed++
	m.active--
	m.completedHistory = appendBounded(m.completedHistory, rec, completedHistorySize)
	m.mu.Unlock()
}

func (m *Monitor) recordFailed(rec Record) {
	m.mu.Lock()
	m.failed++
	m.active--
	m.failedHistory = appendBounded(m.failedHistory, rec, failedHistorySize)
	m.mu.Unlock()
}

func (m *Monitor) recordCancelled() {
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()
}

// Statistics returns a snapshot; queueSize is supplied by the scheduler.
func (m *Monitor) Statistics(queueSize int) Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		ActiveWorkers:  m.active,
		QueueSize:      queueSize,
		TasksSubmitted: m.submitted,
		TasksCompleted: m.completed,
		TasksFailed:    m.failed,
		TasksCancelled: m.cancelled,
		TasksRetried:   m.retried,
	}
	finished := m.completed + m.failed
	if finished > 0 {
		stats.SuccessRate = float64(m.completed) / float64(finished)
	}
	return stats
}

// CompletedHistory returns a copy of the recent completion records, newest
// last.
func (m *Monitor) CompletedHistory() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.completedHistory))
	copy(out, m.completedHistory)
	return out
}

// FailedHistory returns a copy of the recent failure records, newest last.
func (m *Monitor) FailedHistory() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.failedHistory))
	copy(out, m.failedHistory)
	return out
}

func appendBounded(history []Record, rec Record, limit int) []Record {
	history = append(history, rec)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
