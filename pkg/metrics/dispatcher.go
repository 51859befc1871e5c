package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatcherMetrics records delivery outcomes for the mail dispatch loop.
type DispatcherMetrics struct {
	claimed      prometheus.Counter
	sendDuration *prometheus.HistogramVec
	sendOutcome  *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
}

// NewDispatcherMetrics registers the dispatcher metrics on the provided registerer.
func NewDispatcherMetrics(reg prometheus.Registerer) *DispatcherMetrics {
	if reg == nil {
		return &DispatcherMetrics{}
	}
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_jobs_claimed_total",
		Help: "Mail jobs claimed for delivery.",
	})
	sendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mail_send_duration_seconds",
		Help:    "Duration of SMTP send attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"category"})
	sendOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_send_outcomes_total",
		Help: "Mail send attempts by category and outcome.",
	}, []string{"category", "outcome"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mail_queue_depth",
		Help: "Mail jobs currently in each queue state.",
	}, []string{"status"})
	reg.MustRegister(claimed, sendDuration, sendOutcome, queueDepth)
	return &DispatcherMetrics{
		claimed:      claimed,
		sendDuration: sendDuration,
		sendOutcome:  sendOutcome,
		queueDepth:   queueDepth,
	}
}

// IncClaimed counts jobs taken by a dispatch cycle.
func (d *DispatcherMetrics) IncClaimed(n int) {
	if d == nil || d.claimed == nil {
		return
	}
	d.claimed.Add(float64(n))
}

// ObserveSend records one delivery attempt.
func (d *DispatcherMetrics) ObserveSend(category, outcome string, duration time.Duration) {
	if d == nil || d.sendOutcome == nil {
		return
	}
	d.sendDuration.WithLabelValues(normalizeLabel(category)).Observe(duration.Seconds())
	d.sendOutcome.WithLabelValues(normalizeLabel(category), normalizeLabel(outcome)).Inc()
}

// SetQueueDepth publishes the current count for a queue status.
func (d *DispatcherMetrics) SetQueueDepth(status string, count int64) {
	if d == nil || d.queueDepth == nil {
		return
	}
	d.queueDepth.WithLabelValues(normalizeLabel(status)).Set(float64(count))
}
