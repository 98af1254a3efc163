// Package scheduler runs prioritized tasks on a fixed worker pool with
// per-task retry, completion callbacks, and bounded execution history.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Priority orders pending tasks. Lower values run first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Func is the work a task performs.
type Func func(ctx context.Context) error

// Callback is invoked exactly once when a task reaches a terminal state.
// err is nil on success.
type Callback func(task *Task, err error)

// Task is one schedulable unit of work.
type Task struct {
	ID       string
	Name     string
	Priority Priority
	Fn       Func
	Callback Callback

	// MaxRetries is how many times a failed task is re-queued before it
	// is marked failed.
	MaxRetries int

	// Timeout bounds a single execution attempt. Zero means no limit.
	Timeout time.Duration

	// Mutable state, owned by the scheduler.
	status    Status
	attempts  int
	submitted time.Time
	started   time.Time
	finished  time.Time
	err       error

	// seq breaks priority ties so equal-priority tasks run in submission
	// order.
	seq uint64

	done chan struct{}
}

// NewTask creates a pending task with a fresh ID.
func NewTask(name string, priority Priority, fn Func) *Task {
	return &Task{
		ID:       uuid.New().String(),
		Name:     name,
		Priority: priority,
		Fn:       fn,
		status:   StatusPending,
		done:     make(chan struct{}),
	}
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the terminal error, nil until the task finishes or on
// success.
func (t *Task) Err() error {
	return t.err
}

// Status returns the task's lifecycle state. Only stable after Done.
func (t *Task) Status() Status {
	return t.status
}

// Attempts returns how many times the task has run.
func (t *Task) Attempts() int {
	return t.attempts
}

// Wait blocks until the task finishes or ctx is done, then returns the
// task's terminal error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskQueue is a min-heap ordered by (priority, seq).
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*Task))
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}
