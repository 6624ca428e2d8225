// Package metrics exposes job server activity to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink implements jobqueue.MetricsSink. Registration failures are
// logged and never returned; the collectors still work unregistered.
type PrometheusSink struct {
	logger *slog.Logger

	started   *prometheus.CounterVec
	succeeded *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

var _ jobqueue.MetricsSink = (*PrometheusSink)(nil)

func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	labels := []string{"queue", "job_type"}
	s := &PrometheusSink{
		logger: logger,
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_jobs_started_total",
			Help: "Job executions started, including retries.",
		}, labels),
		succeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_jobs_succeeded_total",
			Help: "Jobs completed successfully.",
		}, labels),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_jobs_retried_total",
			Help: "Failed executions that were scheduled for another attempt.",
		}, labels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_jobs_failed_total",
			Help: "Jobs marked failed after exhausting retries or failing permanently.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recipeshare_job_duration_seconds",
			Help:    "Handler run time of successful jobs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, labels),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recipeshare_jobs_in_flight",
			Help: "Jobs currently being handled by this process.",
		}),
	}

	s.register(reg, s.started, "recipeshare_jobs_started_total")
	s.register(reg, s.succeeded, "recipeshare_jobs_succeeded_total")
	s.register(reg, s.retried, "recipeshare_jobs_retried_total")
	s.register(reg, s.failed, "recipeshare_jobs_failed_total")
	s.register(reg, s.duration, "recipeshare_job_duration_seconds")
	s.register(reg, s.inFlight, "recipeshare_jobs_in_flight")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: register failed", "metric", name, "err", err)
	}
}

func (s *PrometheusSink) JobStarted(queue, jobType string) {
	s.started.WithLabelValues(queue, jobType).Inc()
}

func (s *PrometheusSink) JobSucceeded(queue, jobType string, d time.Duration) {
	s.succeeded.WithLabelValues(queue, jobType).Inc()
	s.duration.WithLabelValues(queue, jobType).Observe(d.Seconds())
}

func (s *PrometheusSink) JobRetried(queue, jobType string) {
	s.retried.WithLabelValues(queue, jobType).Inc()
}

func (s *PrometheusSink) JobFailed(queue, jobType string) {
	s.failed.WithLabelValues(queue, jobType).Inc()
}

func (s *PrometheusSink) InFlightIncr() { s.inFlight.Inc() }
func (s *PrometheusSink) InFlightDecr() { s.inFlight.Dec() }

// QueueCollector exports stored job counts per queue and status at scrape time.
type QueueCollector struct {
	inspector jobqueue.Inspector
	timeout   time.Duration
	desc      *prometheus.Desc
}

func NewQueueCollector(inspector jobqueue.Inspector) *QueueCollector {
	return &QueueCollector{
		inspector: inspector,
		timeout:   2 * time.Second,
		desc: prometheus.NewDesc(
			"recipeshare_jobs_stored",
			"Jobs currently stored, by queue and status.",
			[]string{"queue", "status"}, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	stats, err := c.inspector.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for queue, counts := range stats.ByQueue {
		for status, n := range map[jobqueue.Status]int64{
			jobqueue.StatusEnqueued:   counts.Enqueued,
			jobqueue.StatusProcessing: counts.Processing,
			jobqueue.StatusSucceeded:  counts.Succeeded,
			jobqueue.StatusFailed:     counts.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), queue, string(status))
		}
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
