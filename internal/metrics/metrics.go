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

	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convertd",
			Subsystem: "gateway",
			Name:      "conversions_total",
			Help:      "Number of conversion requests by format pair and outcome.",
		}, []string{"from", "to", "status"},
	)
	conversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "convertd",
			Subsystem: "gateway",
			Name:      "conversion_duration_seconds",
			Help:      "Wall time spent converting a document.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"from", "to"},
	)
	engineStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convertd",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Number of successful engine starts.",
		},
	)
	engineRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convertd",
			Subsystem: "engine",
			Name:      "restarts_total",
			Help:      "Number of restarts triggered by sustained health-check failure.",
		},
	)
	healthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convertd",
			Subsystem: "engine",
			Name:      "health_check_failures_total",
			Help:      "Number of failed health-check polls.",
		},
	)
	consecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "convertd",
			Subsystem: "engine",
			Name:      "consecutive_health_failures",
			Help:      "Current consecutive failed health-check polls.",
		},
	)
	engineUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "convertd",
			Subsystem: "engine",
			Name:      "up",
			Help:      "Whether an engine process handle is currently held (1) or not (0).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{conversions, conversionDuration, engineStarts, engineRestarts, healthFailures, consecutiveFailures, engineUp}
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
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncConversion(from, to, status string) {
	if regOK.Load() {
		conversions.WithLabelValues(from, to, status).Inc()
	}
}

func ObserveConversionDuration(from, to string, seconds float64) {
	if regOK.Load() {
		conversionDuration.WithLabelValues(from, to).Observe(seconds)
	}
}

func IncEngineStart() {
	if regOK.Load() {
		engineStarts.Inc()
	}
}

func IncEngineRestart() {
	if regOK.Load() {
		engineRestarts.Inc()
	}
}

func IncHealthFailure() {
	if regOK.Load() {
		healthFailures.Inc()
	}
}

func SetConsecutiveFailures(n int) {
	if regOK.Load() {
		consecutiveFailures.Set(float64(n))
	}
}

func SetEngineUp(up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		engineUp.Set(v)
	}
}
