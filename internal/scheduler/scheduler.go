package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

// watchdogGrace is how long the supervisory watchdog waits for a task
// function to return after its deadline fires before declaring it hung.
const watchdogGrace = 2 * time.Second

// Scheduler runs tasks on a fixed pool of workers, highest priority first.
type Scheduler struct {
	workers int
	logger  *utils.StructuredLogger
	monitor *Monitor

	mu       sync.Mutex
	queue    taskQueue
	seq      uint64
	stopping bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler and starts its workers.
func New(workers int, logger *utils.StructuredLogger) *Scheduler {
	if workers <= 0 {
		workers = 5
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	s := &Scheduler{
		workers: workers,
		logger:  logger.WithComponent("scheduler"),
		monitor: NewMonitor(),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.queue)

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.workerLoop(i)
	}
	s.logger.Infof("started %d workers", workers)
	return s
}

// Submit queues a task for execution. The returned task is the same value,
// usable as a completion handle via Done/Wait.
func (s *Scheduler) Submit(task *Task) (*Task, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil, dserrors.New(dserrors.ErrCodeShutdown, "scheduler is shutting down").
			WithComponent("scheduler")
	}
	s.seq++
	task.seq = s.seq
	task.submitted = time.Now()
	task.status = StatusPending
	heap.Push(&s.queue, task)
	s.mu.Unlock()

	s.monitor.recordSubmitted()
	s.signal()
	return task, nil
}

// SubmitFunc wraps fn in a task and submits it.
func (s *Scheduler) SubmitFunc(name string, priority Priority, fn Func) (*Task, error) {
	return s.Submit(NewTask(name, priority, fn))
}

// Statistics returns current scheduler counters and queue depth.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	queueSize := s.queue.Len()
	s.mu.Unlock()
	return s.monitor.Statistics(queueSize)
}

// Monitor exposes the bounded execution history.
func (s *Scheduler) Monitor() *Monitor {
	return s.monitor
}

// Shutdown stops accepting work, cancels every pending task, and waits up
// to timeout for running tasks to finish. Workers still busy after the
// timeout are reported as an error; their goroutines are left to finish on
// their own.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	pending := make([]*Task, len(s.queue))
	copy(pending, s.queue)
	s.queue = nil
	s.mu.Unlock()

	close(s.stopCh)

	for _, t := range pending {
		t.status = StatusCancelled
		t.err = dserrors.New(dserrors.ErrCodeTaskCancelled, "scheduler shut down before task ran").
			WithContext("task", t.Name)
		t.finished = time.Now()
		s.monitor.recordCancelled()
		s.finish(t)
	}
	if len(pending) > 0 {
		s.logger.Warnf("cancelled %d pending tasks on shutdown", len(pending))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(timeout):
		stats := s.monitor.Statistics(0)
		s.logger.Errorf("shutdown timed out with %d workers still busy", stats.ActiveWorkers)
		return dserrors.Newf(dserrors.ErrCodeShutdown,
			"%d tasks still running after %s shutdown timeout", stats.ActiveWorkers, timeout).
			WithComponent("scheduler")
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()
	for {
		task := s.next()
		if task == nil {
			return
		}
		s.run(id, task)
	}
}

// next pops the highest-priority pending task, blocking until one exists or
// the scheduler stops.
func (s *Scheduler) next() *Task {
	for {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return nil
		}
		if s.queue.Len() > 0 {
			task := heap.Pop(&s.queue).(*Task)
			task.status = StatusRunning
			s.mu.Unlock()
			// Another task may still be queued; pass the baton.
			s.signal()
			return task
		}
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return nil
		case <-s.wake:
		}
	}
}

func (s *Scheduler) run(worker int, task *Task) {
	task.attempts++
	task.started = time.Now()
	s.monitor.recordStarted()

	s.logger.Debugf("worker %d running %s (attempt %d, priority %s)",
		worker, task.Name, task.attempts, task.Priority)

	err := s.execute(task)
	if err == nil {
		task.status = StatusCompleted
		task.finished = time.Now()
		s.monitor.recordCompleted(s.record(task))
		s.finish(task)
		return
	}

	// A watchdog timeout means the body is still running; re-enqueueing
	// would start a second instance alongside it, so it is terminal.
	timedOut := dserrors.GetCode(err) == dserrors.ErrCodeTaskTimeout

	if !dserrors.IsFatal(err) && !timedOut && task.attempts <= task.MaxRetries {
		s.logger.Warnf("%s attempt %d failed, re-queueing: %v", task.Name, task.attempts, err)
		if s.requeue(task) {
			s.monitor.recordRetry()
			return
		}
		// Scheduler stopped while the task was in flight.
		err = dserrors.Wrap(dserrors.ErrCodeTaskCancelled,
			"scheduler shut down before task could be retried", err)
	}

	task.status = StatusFailed
	task.err = err
	task.finished = time.Now()
	s.logger.Errorf("%s failed after %d attempts: %v", task.Name, task.attempts, err)
	s.monitor.recordFailed(s.record(task))
	s.finish(task)
}

// execute runs the task function under a supervisory watchdog. The watchdog
// fires when the function ignores its deadline, so a hung task never wedges
// a worker forever.
func (s *Scheduler) execute(task *Task) error {
	ctx := context.Background()
	if task.Timeout <= 0 {
		return task.Fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- task.Fn(ctx)
	}()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
	}

	// Deadline hit. Give the function a moment to observe cancellation.
	select {
	case err := <-resultCh:
		return err
	case <-time.After(watchdogGrace):
		s.logger.Errorf("%s exceeded its %s timeout and is not responding to cancellation",
			task.Name, task.Timeout)
		return dserrors.Newf(dserrors.ErrCodeTaskTimeout,
			"task did not finish within %s", task.Timeout).
			WithContext("task", task.Name)
	}
}

// requeue puts a failed task back on the queue at its original priority.
// Returns false if the scheduler is stopping.
func (s *Scheduler) requeue(task *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.seq++
	task.seq = s.seq
	task.status = StatusPending
	heap.Push(&s.queue, task)
	s.signal()
	return true
}

// finish closes the task's done channel and runs its callback. Each task
// passes through here exactly once.
func (s *Scheduler) finish(task *Task) {
	close(task.done)
	if task.Callback != nil {
		task.Callback(task, task.err)
	}
}

func (s *Scheduler) record(task *Task) Record {
	rec := Record{
		ID:       task.ID,
		Name:     task.Name,
		Priority: task.Priority.String(),
		Attempts: task.attempts,
		Duration: task.finished.Sub(task.started),
		Finished: task.finished,
	}
	if task.err != nil {
		rec.Error = task.err.Error()
	}
	return rec
}
