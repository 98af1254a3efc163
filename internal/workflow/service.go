package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/dateshift/dateshift/internal/config"
	"github.com/dateshift/dateshift/internal/localfile"
	"github.com/dateshift/dateshift/internal/metrics"
	"github.com/dateshift/dateshift/internal/pdf"
	"github.com/dateshift/dateshift/internal/pool"
	"github.com/dateshift/dateshift/internal/scheduler"
	"github.com/dateshift/dateshift/internal/store"
	"github.com/dateshift/dateshift/pkg/retry"
	"github.com/dateshift/dateshift/pkg/utils"
)

// Statistics aggregates scheduler activity and per-connection health.
type Statistics struct {
	Scheduler scheduler.Statistics        `json:"scheduler"`
	Pool      map[string]pool.HealthStats `json:"pool"`
}

// Service is the top-level facade: it owns the connection pool, the retry
// executor, the task scheduler, the backup manager, and the rewrite
// workflow, and exposes the operations the CLI calls.
type Service struct {
	cfg       *config.Configuration
	logger    *utils.StructuredLogger
	pool      *pool.Pool
	executor  *pool.Executor
	scheduler *scheduler.Scheduler
	backups   *localfile.BackupManager
	rewrite   *TimestampRewrite
	collector *metrics.Collector

	closeOnce   sync.Once
	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewService wires the full stack from configuration. factory creates
// remote store sessions; pass the SMB factory in production and a fake in
// tests.
func NewService(cfg *config.Configuration, factory store.Factory, logger *utils.StructuredLogger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	var collector *metrics.Collector
	var hooks pool.Hooks
	if cfg.Monitoring.MetricsEnabled {
		collector = metrics.NewCollector(logger)
		collector.SetPoolSize(cfg.Pool.Size)
		hooks = pool.Hooks{
			OnConnect:   collector.RecordPoolConnect,
			OnExhausted: collector.RecordPoolExhaustion,
			OnAcquire:   func() { collector.RecordPoolAcquire(1) },
			OnRelease:   func() { collector.RecordPoolAcquire(-1) },
		}
	}

	p := pool.New(factory, pool.Config{
		Size:              cfg.Pool.Size,
		AcquireWaitBudget: cfg.Pool.AcquireWaitBudget,
		MaxIdleTime:       cfg.Pool.MaxIdleTime,
		KeepaliveInterval: cfg.Pool.KeepaliveInterval,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxRetries + 1,
			InitialDelay: cfg.Retry.Delay,
			Multiplier:   cfg.Retry.Backoff,
		},
		Hooks: hooks,
	}, logger)

	execCfg := pool.ExecutorConfig{
		MaxRetries: cfg.Retry.MaxRetries,
		Delay:      cfg.Retry.Delay,
		Backoff:    cfg.Retry.Backoff,
	}
	if collector != nil {
		execCfg.OnRetry = collector.RecordRetry
	}
	executor := pool.NewExecutor(p, execCfg, logger)

	backups, err := localfile.NewBackupManager(cfg.Backup.Directory, logger)
	if err != nil {
		p.CloseAll()
		return nil, err
	}

	clock := localfile.SystemClock{}
	atomicOp := localfile.NewAtomicOperation(backups, logger)
	processor := pdf.NewProcessor(logger)
	workDir := filepath.Join(cfg.Backup.Directory, "work")

	s := &Service{
		cfg:       cfg,
		logger:    logger.WithComponent("service"),
		pool:      p,
		executor:  executor,
		scheduler: scheduler.New(cfg.Workers.MaxThreads, logger),
		backups:   backups,
		rewrite: NewTimestampRewrite(executor, processor, atomicOp, clock,
			workDir, logger),
		collector:   collector,
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if collector != nil {
		collector.StartServer(cfg.Monitoring.MetricsPort, cfg.Monitoring.MetricsPath)
	}

	go s.backupCleanupLoop()

	return s, nil
}

// TestConnection verifies a session can be established and answers a ping.
func (s *Service) TestConnection(ctx context.Context) error {
	return s.execute(ctx, "ping", func(ctx context.Context, remote store.RemoteStore) error {
		return remote.Ping(ctx)
	})
}

// ListFiles lists files in the remote directory matching pattern.
func (s *Service) ListFiles(ctx context.Context, dir, pattern string) ([]store.FileDescriptor, error) {
	var files []store.FileDescriptor
	err := s.execute(ctx, "list", func(ctx context.Context, remote store.RemoteStore) error {
		var listErr error
		files, listErr = remote.List(ctx, dir, pattern)
		return listErr
	})
	return files, err
}

// Exists reports whether the remote file exists.
func (s *Service) Exists(ctx context.Context, remotePath string) (bool, error) {
	var exists bool
	err := s.execute(ctx, "exists", func(ctx context.Context, remote store.RemoteStore) error {
		var existsErr error
		exists, existsErr = remote.Exists(ctx, remotePath)
		return existsErr
	})
	return exists, err
}

// Download copies the remote file to localPath.
func (s *Service) Download(ctx context.Context, remotePath, localPath string) error {
	return s.execute(ctx, "download", func(ctx context.Context, remote store.RemoteStore) error {
		return remote.Download(ctx, remotePath, localPath)
	})
}

// Upload copies localPath to the remote path.
func (s *Service) Upload(ctx context.Context, localPath, remotePath string) error {
	return s.execute(ctx, "upload", func(ctx context.Context, remote store.RemoteStore) error {
		return remote.Upload(ctx, localPath, remotePath)
	})
}

// Delete removes the remote file.
func (s *Service) Delete(ctx context.Context, remotePath string) error {
	return s.execute(ctx, "delete", func(ctx context.Context, remote store.RemoteStore) error {
		return remote.Delete(ctx, remotePath)
	})
}

// RewriteTimestamp runs the full rewrite synchronously.
func (s *Service) RewriteTimestamp(ctx context.Context, remotePath string, target time.Time, opts RewriteOptions) (*RewriteResult, error) {
	start := time.Now()
	result, err := s.rewrite.Execute(ctx, remotePath, target, opts)
	s.recordOperation("rewrite", err, time.Since(start))
	return result, err
}

// ScheduleRewrite queues the rewrite on the worker pool and returns the
// task handle. callback, if non-nil, fires once when the task finishes.
func (s *Service) ScheduleRewrite(remotePath string, target time.Time, opts RewriteOptions, priority scheduler.Priority, callback scheduler.Callback) (*scheduler.Task, error) {
	task := scheduler.NewTask("rewrite "+remotePath, priority,
		func(ctx context.Context) error {
			_, err := s.RewriteTimestamp(ctx, remotePath, target, opts)
			return err
		})
	task.Callback = func(task *scheduler.Task, err error) {
		if s.collector != nil {
			s.collector.RecordTask(task.Status().String())
		}
		if callback != nil {
			callback(task, err)
		}
	}
	task.Timeout = s.cfg.Workers.TaskTimeout
	return s.scheduler.Submit(task)
}

// Statistics returns scheduler counters and per-connection health.
func (s *Service) Statistics() Statistics {
	stats := Statistics{
		Scheduler: s.scheduler.Statistics(),
		Pool:      s.pool.HealthStats(),
	}
	if s.collector != nil {
		s.collector.UpdateScheduler(stats.Scheduler.QueueSize, stats.Scheduler.ActiveWorkers)
	}
	return stats
}

// Backups exposes the backup manager for maintenance commands.
func (s *Service) Backups() *localfile.BackupManager {
	return s.backups
}

// Close drains the scheduler and closes every connection. Safe to call
// more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone

		err = s.scheduler.Shutdown(s.cfg.Workers.ShutdownTimeout)
		s.pool.CloseAll()

		if s.collector != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := s.collector.StopServer(ctx); stopErr != nil && err == nil {
				err = stopErr
			}
		}
		s.logger.Info("service closed")
	})
	return err
}

// execute runs a remote operation through the retrying executor and records
// its metric.
func (s *Service) execute(ctx context.Context, name string, op pool.Operation) error {
	start := time.Now()
	err := s.executor.ExecuteWithRetry(ctx, name, op)
	s.recordOperation(name, err, time.Since(start))
	return err
}

func (s *Service) recordOperation(name string, err error, duration time.Duration) {
	if s.collector != nil {
		s.collector.RecordOperation(name, err, duration)
	}
}

// backupCleanupLoop periodically prunes expired backups.
func (s *Service) backupCleanupLoop() {
	defer close(s.cleanupDone)

	interval := s.cfg.Backup.CleanupEvery
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			retention := time.Duration(s.cfg.Backup.RetentionHours) * time.Hour
			if _, err := s.backups.CleanupOld(retention); err != nil {
				s.logger.Warnf("backup cleanup failed: %v", err)
			}
		}
	}
}
