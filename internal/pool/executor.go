package pool

import (
	"context"
	"strconv"
	"time"

	"github.com/dateshift/dateshift/internal/store"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/utils"
)

// Operation is a unit of remote work executed against a pooled connection.
type Operation func(ctx context.Context, remote store.RemoteStore) error

// Executor runs remote operations with automatic retry. Each attempt runs
// on a freshly acquired connection so a retry never reuses the session that
// just failed.
type Executor struct {
	pool       *Pool
	maxRetries int
	delay      time.Duration
	backoff    float64
	onRetry    func(operation string)
	logger     *utils.StructuredLogger
}

// ExecutorConfig holds retry settings for remote operations.
type ExecutorConfig struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Backoff multiplies the delay after each retry.
	Backoff float64

	// OnRetry, when set, fires before each retry with the operation name.
	OnRetry func(operation string)
}

// NewExecutor creates an executor over the given pool.
func NewExecutor(pool *Pool, config ExecutorConfig, logger *utils.StructuredLogger) *Executor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Delay <= 0 {
		config.Delay = time.Second
	}
	if config.Backoff < 1 {
		config.Backoff = 2.0
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Executor{
		pool:       pool,
		maxRetries: config.MaxRetries,
		delay:      config.Delay,
		backoff:    config.Backoff,
		onRetry:    config.OnRetry,
		logger:     logger.WithComponent("executor"),
	}
}

// ExecuteWithRetry runs op until it succeeds, fails fatally, or the retry
// budget is exhausted. Fatal errors (permissions, missing objects) abort
// immediately; transient errors (network, remote hiccups) are retried with
// exponential backoff.
func (e *Executor) ExecuteWithRetry(ctx context.Context, name string, op Operation) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		health, err := e.runOnce(ctx, name, op)
		if err == nil {
			if attempt > 1 {
				e.logger.Infof("%s succeeded on attempt %d", name, attempt)
			}
			return nil
		}

		if dserrors.IsFatal(err) {
			e.logger.Errorf("%s failed fatally: %v", name, err)
			return err
		}
		if !dserrors.IsTransient(err) {
			// Pool exhaustion and shutdown surface immediately; the
			// submitter decides whether to resubmit.
			return err
		}
		lastErr = err

		if attempt > e.maxRetries {
			break
		}

		e.logger.Warnf("%s attempt %d/%d failed, retrying in %s: %v",
			name, attempt, e.maxRetries+1, delay, err)
		if health != nil {
			health.RecordRetry()
		}
		if e.onRetry != nil {
			e.onRetry(name)
		}

		select {
		case <-ctx.Done():
			return dserrors.Wrap(dserrors.ErrCodeTaskCancelled,
				name+" canceled between retries", ctx.Err()).WithOperation(name)
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * e.backoff)
	}

	return dserrors.Wrap(dserrors.ErrCodeRetryExhausted,
		name+" failed after all retry attempts", lastErr).
		WithOperation(name).
		WithContext("attempts", strconv.Itoa(e.maxRetries+1))
}

// runOnce acquires a connection, runs the operation, and records the
// outcome against the slot's health. The slot's health tracker is returned
// so the retry loop can record against it after the slot is released; it is
// nil when the acquire itself failed.
func (e *Executor) runOnce(ctx context.Context, name string, op Operation) (*Health, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	health := conn.slot.health
	start := time.Now()
	if err := op(ctx, conn.Store); err != nil {
		health.RecordFailure()
		return health, dserrors.Classify(err).WithOperation(name)
	}
	health.RecordSuccess(time.Since(start))
	return health, nil
}
