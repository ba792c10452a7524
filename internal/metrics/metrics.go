// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics exposes prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	workflows    *prometheus.CounterVec
	mailDuration *prometheus.HistogramVec
	hashDuration *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	reqDuration  *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "account_workflows_total", Help: "Account workflow outcomes"},
			[]string{"workflow", "outcome"},
		),
		mailDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_mail_send_duration_seconds",
				Help:    "Time spent delivering emails",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "outcome"},
		),
		hashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_password_hash_duration_seconds",
				Help:    "Time spent in bcrypt",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"op"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"route", "method", "status"},
		),
		reqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request duration seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.workflows, m.mailDuration, m.hashDuration,
		m.requests, m.reqDuration, m.inFlight,
	)
	return m
}

// Registry returns the registry all collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordWorkflow counts one workflow outcome, e.g. ("login", "invalid_credentials").
func (m *Metrics) RecordWorkflow(workflow, outcome string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(workflow, outcome).Inc()
}

// ObserveMail records how long one email delivery took.
func (m *Metrics) ObserveMail(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.mailDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// ObserveHash records one bcrypt operation. Its signature matches
// password.Observer.
func (m *Metrics) ObserveHash(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies per route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.reqDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
