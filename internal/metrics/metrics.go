// Package metrics collects and exposes Prometheus metrics for the worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records sync and remote-call metrics.
type Collector struct {
	syncRuns         *prometheus.CounterVec
	eventsUpserted   prometheus.Counter
	eventsTombstoned prometheus.Counter
	remoteCalls      *prometheus.CounterVec
	remoteLatency    prometheus.Histogram
	remoteRetries    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on the registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendpro_sync_runs_total",
			Help: "Completed sync runs by outcome",
		}, []string{"outcome"}),
		eventsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendpro_events_upserted_total",
			Help: "Replica events created or updated by sync runs",
		}),
		eventsTombstoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendpro_events_tombstoned_total",
			Help: "Replica events tombstoned by sync runs",
		}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendpro_remote_calls_total",
			Help: "Remote provider calls by operation and result",
		}, []string{"operation", "result"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calendpro_remote_call_seconds",
			Help:    "Remote provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		remoteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendpro_remote_retries_total",
			Help: "Remote provider call retries by operation",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.eventsUpserted,
		c.eventsTombstoned,
		c.remoteCalls,
		c.remoteLatency,
		c.remoteRetries,
	)

	return c
}

func (c *Collector) RecordSyncRun(outcome string) {
	c.syncRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordEventsUpserted(count int) {
	c.eventsUpserted.Add(float64(count))
}

func (c *Collector) RecordEventsTombstoned(count int) {
	c.eventsTombstoned.Add(float64(count))
}

func (c *Collector) RecordRemoteCall(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.remoteCalls.WithLabelValues(operation, result).Inc()
	c.remoteLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordRetry(operation string) {
	c.remoteRetries.WithLabelValues(operation).Inc()
}
