// Package metrics exposes Prometheus instrumentation for remote operations,
// the connection pool, and the task scheduler.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dateshift/dateshift/pkg/utils"
)

// Collector holds every metric the service emits.
type Collector struct {
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec

	poolSlotsTotal  prometheus.Gauge
	poolSlotsBusy   prometheus.Gauge
	poolConnects    prometheus.Counter
	poolExhaustions prometheus.Counter

	queueSize     prometheus.Gauge
	activeWorkers prometheus.Gauge
	tasksTotal    *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates and registers all metrics on a private registry.
func NewCollector(logger *utils.StructuredLogger) *Collector {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		logger:   logger.WithComponent("metrics"),

		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dateshift",
			Name:      "operations_total",
			Help:      "Remote operations by name and outcome.",
		}, []string{"operation", "status"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dateshift",
			Name:      "operation_duration_seconds",
			Help:      "Remote operation latency by name.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),

		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dateshift",
			Name:      "retries_total",
			Help:      "Retry attempts by operation name.",
		}, []string{"operation"}),

		poolSlotsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dateshift",
			Name:      "pool_slots_total",
			Help:      "Configured connection pool size.",
		}),

		poolSlotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dateshift",
			Name:      "pool_slots_busy",
			Help:      "Connection slots currently leased.",
		}),

		poolConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dateshift",
			Name:      "pool_connects_total",
			Help:      "Connections established, including replacements.",
		}),

		poolExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dateshift",
			Name:      "pool_exhaustions_total",
			Help:      "Acquire attempts that gave up waiting for a slot.",
		}),

		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dateshift",
			Name:      "scheduler_queue_size",
			Help:      "Tasks waiting to run.",
		}),

		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dateshift",
			Name:      "scheduler_active_workers",
			Help:      "Workers currently executing a task.",
		}),

		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dateshift",
			Name:      "scheduler_tasks_total",
			Help:      "Scheduled tasks by terminal status.",
		}, []string{"status"}),
	}

	registry.MustRegister(
		c.operationsTotal,
		c.operationDuration,
		c.retriesTotal,
		c.poolSlotsTotal,
		c.poolSlotsBusy,
		c.poolConnects,
		c.poolExhaustions,
		c.queueSize,
		c.activeWorkers,
		c.tasksTotal,
	)
	return c
}

// RecordOperation records one remote operation outcome and its latency.
func (c *Collector) RecordOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.operationsTotal.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry counts one retry of the named operation.
func (c *Collector) RecordRetry(operation string) {
	c.retriesTotal.WithLabelValues(operation).Inc()
}

// SetPoolSize records the configured slot count.
func (c *Collector) SetPoolSize(n int) {
	c.poolSlotsTotal.Set(float64(n))
}

// RecordPoolAcquire tracks a slot lease beginning or ending.
func (c *Collector) RecordPoolAcquire(delta float64) {
	c.poolSlotsBusy.Add(delta)
}

// RecordPoolConnect counts one established connection.
func (c *Collector) RecordPoolConnect() {
	c.poolConnects.Inc()
}

// RecordPoolExhaustion counts one failed acquire.
func (c *Collector) RecordPoolExhaustion() {
	c.poolExhaustions.Inc()
}

// UpdateScheduler refreshes queue and worker gauges.
func (c *Collector) UpdateScheduler(queueSize, activeWorkers int) {
	c.queueSize.Set(float64(queueSize))
	c.activeWorkers.Set(float64(activeWorkers))
}

// RecordTask counts a task reaching a terminal status.
func (c *Collector) RecordTask(status string) {
	c.tasksTotal.WithLabelValues(status).Inc()
}

// Handler returns the scrape handler for embedding in another mux.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves the scrape endpoint on its own listener.
func (c *Collector) StartServer(port int, path string) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		c.logger.Infof("metrics endpoint listening on :%d%s", port, path)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Errorf("metrics server error: %v", err)
		}
	}()
}

// StopServer shuts the scrape endpoint down.
func (c *Collector) StopServer(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
