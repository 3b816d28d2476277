// Package metrics exposes daemon statistics to Prometheus and, optionally,
// mirrors them to a DogStatsD agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
)

const metricPrefix = "insteond_"

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Recorder collects metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry
	statsd   *statsd.Client

	commandsTotal   *prometheus.CounterVec
	commandFailures *prometheus.CounterVec
	triggersArmed   prometheus.Gauge
	armFailures     prometheus.Counter
	refreshTotal    *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
}

// New creates a recorder with its own registry. When cfg.StatsdAddr is set,
// every update is also sent to DogStatsD.
func New(cfg config.MetricsConfig) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_sent_total",
				Help: "Commands written to the link by state",
			},
			[]string{"state"},
		),
		commandFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_failures_total",
				Help: "Commands that failed to reach the link by state",
			},
			[]string{"state"},
		),
		triggersArmed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "triggers_armed",
				Help: "Triggers currently armed",
			},
		),
		armFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "arm_failures_total",
				Help: "Triggers the timer refused to arm",
			},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_total",
				Help: "Daily refreshes by result",
			},
			[]string{"result"},
		),
		refreshLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_duration_seconds",
				Help:    "Time spent resolving and arming the day's triggers",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	r.registry.MustRegister(
		r.commandsTotal,
		r.commandFailures,
		r.triggersArmed,
		r.armFailures,
		r.refreshTotal,
		r.refreshLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.StatsdAddr != "" {
		client, err := statsd.New(cfg.StatsdAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.StatsdAddr).Msg("Failed to create DogStatsD client")
		} else {
			client.Namespace = cfg.Namespace
			client.Tags = cfg.Tags
			r.statsd = client

			log.Info().
				Str("addr", cfg.StatsdAddr).
				Str("namespace", cfg.Namespace).
				Strs("tags", cfg.Tags).
				Msg("DogStatsD metrics initialized")
		}
	}

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// CommandSent counts a command written to the link.
func (r *Recorder) CommandSent(state string) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(state).Inc()
	r.incr("commands.sent", "state:"+state)
}

// CommandFailed counts a command the link rejected.
func (r *Recorder) CommandFailed(state string) {
	if r == nil {
		return
	}
	r.commandFailures.WithLabelValues(state).Inc()
	r.incr("commands.failed", "state:"+state)
}

// TriggersArmed sets the number of pending triggers.
func (r *Recorder) TriggersArmed(n int) {
	if r == nil {
		return
	}
	r.triggersArmed.Set(float64(n))
	r.gauge("triggers.armed", float64(n))
}

// ArmFailed counts a trigger that could not be armed.
func (r *Recorder) ArmFailed() {
	if r == nil {
		return
	}
	r.armFailures.Inc()
	r.incr("triggers.arm_failed")
}

// RefreshCompleted records a successful refresh and its duration.
func (r *Recorder) RefreshCompleted(d time.Duration) {
	if r == nil {
		return
	}
	r.refreshTotal.WithLabelValues(resultSuccess).Inc()
	r.refreshLatency.Observe(d.Seconds())
	r.incr("refresh", "result:"+resultSuccess)
	if r.statsd != nil {
		if err := r.statsd.Timing("refresh.duration", d, nil, 1); err != nil {
			log.Debug().Err(err).Msg("Failed to emit timing metric")
		}
	}
}

// RefreshFailed records a refresh that kept the previous trigger set.
func (r *Recorder) RefreshFailed() {
	if r == nil {
		return
	}
	r.refreshTotal.WithLabelValues(resultError).Inc()
	r.incr("refresh", "result:"+resultError)
}

// Close flushes the DogStatsD client.
func (r *Recorder) Close() error {
	if r == nil || r.statsd == nil {
		return nil
	}
	return r.statsd.Close()
}

func (r *Recorder) incr(name string, tags ...string) {
	if r.statsd == nil {
		return
	}
	if err := r.statsd.Incr(name, tags, 1); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("Failed to emit counter metric")
	}
}

func (r *Recorder) gauge(name string, value float64, tags ...string) {
	if r.statsd == nil {
		return
	}
	if err := r.statsd.Gauge(name, value, tags, 1); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}
