// Package pool manages a fixed set of pooled connections to the remote file
// share, with per-slot health tracking, keep-alive probing, and a retrying
// operation executor.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dateshift/dateshift/internal/store"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
	"github.com/dateshift/dateshift/pkg/retry"
	"github.com/dateshift/dateshift/pkg/utils"
)

// acquirePollInterval is the sleep between slot scans while waiting for a
// free slot.
const acquirePollInterval = 100 * time.Millisecond

// Config holds connection pool settings.
type Config struct {
	// Size is the fixed number of connection slots.
	Size int

	// AcquireWaitBudget bounds how long Acquire scans for a free slot
	// before failing with POOL_EXHAUSTED.
	AcquireWaitBudget time.Duration

	// MaxIdleTime is how long a connection may sit unused before the next
	// Acquire replaces it with a fresh one.
	MaxIdleTime time.Duration

	// KeepaliveInterval is how often the background prober pings idle
	// connections.
	KeepaliveInterval time.Duration

	// Retry governs connect+authenticate attempts for a slot.
	Retry retry.Config

	// Hooks observe pool events, typically for metrics. All fields are
	// optional.
	Hooks Hooks
}

// Hooks are optional callbacks fired on pool events.
type Hooks struct {
	// OnConnect fires when a connection is established, including
	// replacements of stale or dead ones.
	OnConnect func()

	// OnExhausted fires when an Acquire gives up waiting for a slot.
	OnExhausted func()

	// OnAcquire and OnRelease bracket a slot lease.
	OnAcquire func()
	OnRelease func()
}

// DefaultConfig returns pool defaults matching the configuration package.
func DefaultConfig() Config {
	return Config{
		Size:              3,
		AcquireWaitBudget: 30 * time.Second,
		MaxIdleTime:       5 * time.Minute,
		KeepaliveInterval: 60 * time.Second,
		Retry:             retry.DefaultConfig(),
	}
}

// slot is one pooled connection. Whoever holds mu owns the slot; the
// connection is only ever touched by the current holder.
type slot struct {
	mu       sync.Mutex
	conn     store.RemoteStore
	lastUsed time.Time
	health   *Health
}

// Pool is a fixed-size set of lazily-created connections to the remote
// store. Slots are shared resources guarded by per-slot mutexes, not owned
// by any particular goroutine.
type Pool struct {
	config  Config
	factory store.Factory
	slots   []*slot
	retryer *retry.Retryer
	logger  *utils.StructuredLogger

	mu     sync.Mutex
	closed bool

	stopCh  chan struct{}
	stopped chan struct{}
}

// Conn is a scoped handle to a pooled connection. Release must be called on
// every exit path; it is safe to call more than once.
type Conn struct {
	Store store.RemoteStore

	pool     *Pool
	slot     *slot
	index    int
	released bool
}

// Release returns the slot to the pool.
func (c *Conn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.slot.lastUsed = time.Now()
	c.slot.mu.Unlock()
	if c.pool.config.Hooks.OnRelease != nil {
		c.pool.config.Hooks.OnRelease()
	}
}

// New creates the pool and starts the keep-alive prober.
func New(factory store.Factory, config Config, logger *utils.StructuredLogger) *Pool {
	if config.Size <= 0 {
		config.Size = 3
	}
	if config.AcquireWaitBudget <= 0 {
		config.AcquireWaitBudget = 30 * time.Second
	}
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = 5 * time.Minute
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 60 * time.Second
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	p := &Pool{
		config:  config,
		factory: factory,
		slots:   make([]*slot, config.Size),
		retryer: retry.New(config.Retry),
		logger:  logger.WithComponent("pool"),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = &slot{health: NewHealth()}
	}

	go p.keepaliveLoop()

	return p
}

// Acquire returns a handle to a live pooled connection. It scans the slots
// with non-blocking locks until one frees up or the wait budget elapses.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, dserrors.New(dserrors.ErrCodeShutdown, "pool is closed").WithComponent("pool")
	}
	p.mu.Unlock()

	start := time.Now()
	deadline := start.Add(p.config.AcquireWaitBudget)

	var (
		s     *slot
		index = -1
	)
	for {
		for i, candidate := range p.slots {
			if candidate.mu.TryLock() {
				s = candidate
				index = i
				break
			}
		}
		if s != nil {
			break
		}
		if time.Now().After(deadline) {
			if p.config.Hooks.OnExhausted != nil {
				p.config.Hooks.OnExhausted()
			}
			return nil, dserrors.Newf(dserrors.ErrCodePoolExhausted,
				"no free connection slot within %s", p.config.AcquireWaitBudget).WithComponent("pool")
		}
		select {
		case <-ctx.Done():
			return nil, dserrors.Wrap(dserrors.ErrCodePoolExhausted,
				"acquire canceled while waiting for a slot", ctx.Err()).WithComponent("pool")
		case <-time.After(acquirePollInterval):
		}
	}

	if err := p.lease(ctx, s, index); err != nil {
		s.health.RecordFailure()
		s.mu.Unlock()
		return nil, err
	}

	s.health.RecordSuccess(time.Since(start))
	s.lastUsed = time.Now()

	if p.config.Hooks.OnAcquire != nil {
		p.config.Hooks.OnAcquire()
	}
	return &Conn{Store: s.conn, pool: p, slot: s, index: index}, nil
}

// lease makes sure the locked slot holds a live connection, creating or
// replacing it as needed. Called with the slot lock held.
func (p *Pool) lease(ctx context.Context, s *slot, index int) error {
	if s.conn == nil || time.Since(s.lastUsed) > p.config.MaxIdleTime {
		if s.conn != nil {
			// Stale connection: close errors don't matter, it is being replaced.
			_ = s.conn.Close()
			s.conn = nil
		}
		p.logger.Debugf("creating connection for slot %d", index)
		conn, err := p.connect(ctx, s)
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	}

	// Liveness probe before handing the connection out. One recreate on
	// failure, with the same retry policy as initial creation.
	if err := s.conn.Ping(ctx); err != nil {
		p.logger.Warnf("slot %d failed liveness probe, recreating: %v", index, err)
		_ = s.conn.Close()
		s.conn = nil
		conn, connErr := p.connect(ctx, s)
		if connErr != nil {
			return connErr
		}
		s.conn = conn
	}
	return nil
}

// connect creates and authenticates a fresh session, retrying with backoff.
// Each retry is recorded against the slot's health tracker.
func (p *Pool) connect(ctx context.Context, s *slot) (store.RemoteStore, error) {
	retryer := p.retryer.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		s.health.RecordRetry()
		p.logger.Warnf("connect attempt %d failed, retrying in %s: %v", attempt, delay, err)
	})

	var conn store.RemoteStore
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		c := p.factory()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCodeConnectFailed,
			fmt.Sprintf("failed to connect after %d attempts", p.retryer.Config().MaxAttempts),
			err).WithComponent("pool")
	}
	if p.config.Hooks.OnConnect != nil {
		p.config.Hooks.OnConnect()
	}
	return conn, nil
}

// keepaliveLoop probes idle connections and retires dead ones. It never
// creates connections; the next Acquire recreates lazily.
func (p *Pool) keepaliveLoop() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeIdleSlots()
		}
	}
}

func (p *Pool) probeIdleSlots() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, s := range p.slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.conn != nil && time.Since(s.lastUsed) < p.config.MaxIdleTime {
			if err := s.conn.Ping(ctx); err != nil {
				p.logger.Warnf("keepalive failed for slot %d, retiring connection: %v", i, err)
				_ = s.conn.Close()
				s.conn = nil
			} else {
				p.logger.Debugf("keepalive ok for slot %d", i)
			}
		}
		s.mu.Unlock()
	}
}

// HealthStats returns per-slot health snapshots keyed by slot name.
func (p *Pool) HealthStats() map[string]HealthStats {
	stats := make(map[string]HealthStats, len(p.slots))
	for i, s := range p.slots {
		stats[fmt.Sprintf("connection_%d", i)] = s.health.Stats()
	}
	return stats
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// CloseAll stops the keep-alive prober and closes every pooled connection.
// It blocks until each slot's current holder releases it.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stopped

	for i, s := range p.slots {
		s.mu.Lock()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				p.logger.Warnf("error closing connection %d: %v", i, err)
			}
			s.conn = nil
		}
		s.mu.Unlock()
	}
	p.logger.Info("connection pool closed")
}
