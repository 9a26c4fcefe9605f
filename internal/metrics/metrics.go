// Package metrics records per-run counters and pushes them to a
// Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nhle/mailprint/internal/model"
)

// Metrics holds the collectors of one process. Each Metrics owns its
// registry so tests can build several side by side.
type Metrics struct {
	reg *prometheus.Registry

	Messages           prometheus.Counter
	Attachments        *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	Prints             *prometheus.CounterVec
	LastRunSuccess     prometheus.Gauge
	LastRunTimestamp   prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		Messages: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailprint_messages_total",
			Help: "Unread messages fetched from the mailbox",
		}),
		Attachments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprint_attachments_total",
				Help: "Attachments handled, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ConversionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailprint_conversion_duration_seconds",
				Help:    "Time spent converting one attachment",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 60, 120},
			},
			[]string{"strategy"},
		),
		Prints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprint_prints_total",
				Help: "Print jobs submitted, by result",
			},
			[]string{"result"},
		),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailprint_last_run_success",
			Help: "1 if the last run reached the mailbox, 0 otherwise",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailprint_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// ObserveAttachment counts one attachment outcome. duration is recorded
// only for attachments that went through a converter.
func (m *Metrics) ObserveAttachment(strategy, outcome string, duration time.Duration) {
	if strategy == "" {
		strategy = "none"
	}
	m.Attachments.WithLabelValues(strategy, outcome).Inc()
	if duration > 0 {
		m.ConversionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	}
}

// ObservePrint counts one print job.
func (m *Metrics) ObservePrint(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Prints.WithLabelValues(result).Inc()
}

// FinishRun stamps the run gauges.
func (m *Metrics) FinishRun(success bool, at time.Time) {
	if success {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
	m.LastRunTimestamp.Set(float64(at.Unix()))
}

// Pusher sends gathered metrics somewhere. A nil *Pusher is valid and
// does nothing.
type Pusher struct {
	pusher *push.Pusher
}

// NewPusher returns a Pusher for cfg, or nil when no gateway is set.
func NewPusher(cfg model.MetricsConfig, m *Metrics) *Pusher {
	if cfg.PushgatewayURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "mailprint"
	}
	return &Pusher{
		pusher: push.New(cfg.PushgatewayURL, job).Gatherer(m.reg),
	}
}

// Push replaces the job's metrics on the gateway.
func (p *Pusher) Push(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
