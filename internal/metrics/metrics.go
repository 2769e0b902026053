package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwatch",
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Number of process polls by result (ok, failed, skipped).",
		}, []string{"result"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "playwatch",
			Subsystem: "monitor",
			Name:      "poll_duration_seconds",
			Help:      "Time spent enumerating and classifying processes.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	candidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "playwatch",
			Subsystem: "monitor",
			Name:      "candidates",
			Help:      "Likely-game processes seen in the last successful poll.",
		},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwatch",
			Subsystem: "monitor",
			Name:      "transitions_total",
			Help:      "Tracked game transitions (started, stopped).",
		}, []string{"state"},
	)
	tracking = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "playwatch",
			Subsystem: "monitor",
			Name:      "tracking",
			Help:      "1 while a game is tracked, 0 otherwise.",
		},
	)

	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwatch",
			Subsystem: "catalog",
			Name:      "scans_total",
			Help:      "Catalog scans by result (ok, not_found, failed).",
		}, []string{"result"},
	)
	manifestFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "playwatch",
			Subsystem: "catalog",
			Name:      "manifest_failures_total",
			Help:      "Per-title manifests skipped because they could not be parsed.",
		},
	)
	catalogGames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "playwatch",
			Subsystem: "catalog",
			Name:      "games",
			Help:      "Rows in the game catalog after the last scan.",
		},
	)

	historyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playwatch",
			Subsystem: "history",
			Name:      "events_total",
			Help:      "Play history events delivered to sinks by result.",
		}, []string{"state", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		polls, pollDuration, candidates, transitions, tracking,
		scans, manifestFailures, catalogGames, historyEvents,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPoll(result string) {
	if regOK.Load() {
		polls.WithLabelValues(result).Inc()
	}
}

func ObservePollDuration(seconds float64) {
	if regOK.Load() {
		pollDuration.Observe(seconds)
	}
}

func SetCandidates(n int) {
	if regOK.Load() {
		candidates.Set(float64(n))
	}
}

func RecordTransition(state string) {
	if regOK.Load() {
		transitions.WithLabelValues(state).Inc()
		if state == "started" {
			tracking.Set(1)
		} else {
			tracking.Set(0)
		}
	}
}

func IncScan(result string) {
	if regOK.Load() {
		scans.WithLabelValues(result).Inc()
	}
}

func AddManifestFailures(n int) {
	if regOK.Load() && n > 0 {
		manifestFailures.Add(float64(n))
	}
}

func SetCatalogGames(n int) {
	if regOK.Load() {
		catalogGames.Set(float64(n))
	}
}

func IncHistoryEvent(state, result string) {
	if regOK.Load() {
		historyEvents.WithLabelValues(state, result).Inc()
	}
}
