// Package metrics exposes pipeline and HTTP metrics in the Prometheus text
// format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pv_clearsky/internal/clearsky"
)

const namespace = "clearsky"

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	samplesTotal     prometheus.Counter
	malformedTotal   prometheus.Counter
	outliersTotal    prometheus.Counter
	emptySlots       prometheus.Gauge
	peakPower        prometheus.Gauge
	websocketClients prometheus.Gauge
}

// New creates the collectors on a private registry, so several instances
// can coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome (ok, invalid_parameter, canceled, error).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of pipeline run durations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples fed to successful runs.",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_samples_total",
			Help:      "Samples dropped as malformed.",
		}),
		outliersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outliers_total",
			Help:      "Values removed by the two-stage slot trim.",
		}),
		emptySlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "empty_slots",
			Help:      "Slots without samples in the latest successful run.",
		}),
		peakPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_power_watts",
			Help:      "Maximum of the smoothed curve in the latest successful run.",
		}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.runsTotal,
		m.runDuration,
		m.samplesTotal,
		m.malformedTotal,
		m.outliersTotal,
		m.emptySlots,
		m.peakPower,
		m.websocketClients,
		collectors.NewGoCollector(),
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a pipeline run.
func (m *Metrics) ObserveRun(res clearsky.Result, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(elapsed.Seconds())
	m.runsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}

	m.samplesTotal.Add(float64(res.Samples))
	m.malformedTotal.Add(float64(res.Malformed))
	m.outliersTotal.Add(float64(res.Stats.Outliers))
	m.emptySlots.Set(float64(res.Stats.EmptySlots))
	if _, peak := res.Smoothed.Peak(); len(res.Smoothed) > 0 {
		m.peakPower.Set(peak)
	}
}

// SetWebsocketClients reports the current hub size.
func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.Set(float64(n))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, clearsky.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
