// Package telemetry exposes Prometheus metrics for the record service:
// HTTP latency, guard decisions and storage integrity violations.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/chartlock/internal/platform/guard"
)

const namespace = "chartlock"

// OutcomeAllowed labels guard decisions that let the mutation through.
const OutcomeAllowed = "allowed"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry            *prometheus.Registry
	guardDecisions      *prometheus.CounterVec
	integrityViolations *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	activeRequests      prometheus.Gauge
}

// New creates and registers the service metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Mutation guard decisions by record kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		integrityViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Statements refused by the storage compliance triggers.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served.",
		}),
	}

	m.registry.MustRegister(
		m.guardDecisions,
		m.integrityViolations,
		m.requestDuration,
		m.activeRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveDecision counts one guard decision.
func (m *Metrics) ObserveDecision(kind guard.Kind, op guard.Operation, d guard.Decision) {
	outcome := OutcomeAllowed
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	m.guardDecisions.WithLabelValues(string(kind), string(op), outcome).Inc()
}

// GuardObserver adapts ObserveDecision for guard.WithObserver.
func (m *Metrics) GuardObserver() guard.Observer {
	return m.ObserveDecision
}

// IntegrityViolation counts one refused statement against kind.
func (m *Metrics) IntegrityViolation(kind guard.Kind) {
	m.integrityViolations.WithLabelValues(string(kind)).Inc()
}

// Middleware records latency for every request, labelled by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the status before it is read
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.requestDuration.WithLabelValues(c.Request().Method, route, status).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
