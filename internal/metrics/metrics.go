// Package metrics exposes the Run Coordinator's Prometheus collectors: run
// and event counters, iteration-duration histograms, and an active-
// subscriber gauge, all served from a process-local registry distinct from
// the default global one so tests can construct a Coordinator without
// colliding on repeated registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ralphctl"

var (
	// Registry holds every collector this package registers. Handler
	// serves it; nothing here touches prometheus.DefaultRegisterer.
	Registry = prometheus.NewRegistry()

	runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "started_total",
		Help:      "Total number of runs started via StartRun.",
	})

	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total number of runs that reached a terminal status.",
		},
		[]string{"status"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published to the Event Bus, by kind.",
		},
		[]string{"kind"},
	)

	activeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "active_subscribers",
		Help:      "Current number of live Event Bus subscribers across all runs.",
	})

	iterationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "iteration",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one provider's iteration, start to end.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
		},
		[]string{"provider"},
	)
)

func init() {
	Registry.MustRegister(
		runsStarted,
		runsFinished,
		eventsPublished,
		activeSubscribers,
		iterationDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRunStarted increments the started-runs counter. Called once per
// StartRun invocation, regardless of how many providers it targets.
func RecordRunStarted() {
	runsStarted.Inc()
}

// RecordRunFinished increments the finished-runs counter for the run's
// terminal status (completed or failed).
func RecordRunFinished(status string) {
	if status == "" {
		status = "unknown"
	}
	runsFinished.WithLabelValues(status).Inc()
}

// RecordEventPublished increments the events-published counter for kind.
func RecordEventPublished(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	eventsPublished.WithLabelValues(kind).Inc()
}

// IncActiveSubscribers and DecActiveSubscribers track live Event Bus
// subscribers as they attach and detach.
func IncActiveSubscribers() { activeSubscribers.Inc() }
func DecActiveSubscribers() { activeSubscribers.Dec() }

// RecordIterationDuration observes one provider's iteration wall-clock
// duration. Negative or zero durations are clamped to avoid a nonsensical
// bucket when clock skew or a missing start timestamp would otherwise
// produce one.
func RecordIterationDuration(provider string, d time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	if d <= 0 {
		d = time.Millisecond
	}
	iterationDuration.WithLabelValues(provider).Observe(d.Seconds())
}
