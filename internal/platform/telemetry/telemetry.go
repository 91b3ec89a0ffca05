// Package telemetry exposes Prometheus metrics for HTTP traffic, access
// decisions, emergency scans and the database pool.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medqr/medqr/internal/platform/access"
)

const namespace = "medqr"

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Provider owns a registry and the service's collectors.
type Provider struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes *prometheus.HistogramVec
	active        prometheus.Gauge
	decisions     *prometheus.CounterVec
	scans         *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New registers every collector on a fresh registry. Go runtime and
// process collectors are included when runtime is true.
func New(runtime bool) *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: defaultDurationBuckets,
		}, []string{"method", "route"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help:    "HTTP response body size.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"route"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "active_requests",
			Help: "Requests currently being served.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "access", Name: "decisions_total",
			Help: "Access decisions by role, action and outcome.",
		}, []string{"role", "action", "outcome"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "scans_total",
			Help: "Public QR lookups by view and result.",
		}, []string{"view", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Domain events handed to the publisher by type and result.",
		}, []string{"type", "result"}),
	}
	p.registry.MustRegister(p.requests, p.duration, p.responseBytes, p.active, p.decisions, p.scans, p.events)
	if runtime {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return p
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Handler serves the text exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// Middleware records count, latency and response size per route pattern.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.active.Inc()
			defer p.active.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = 500
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			p.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				p.responseBytes.WithLabelValues(route).Observe(float64(size))
			}
			return err
		}
	}
}

// ObserveDecision counts one access decision. Its signature matches
// access.Observer.
func (p *Provider) ObserveDecision(caller access.Caller, d access.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	role := string(caller.Role)
	if role == "" {
		role = "none"
	}
	p.decisions.WithLabelValues(role, d.Action.String(), outcome).Inc()
}

// ObserveScan counts one public QR lookup.
func (p *Provider) ObserveScan(view, result string) {
	p.scans.WithLabelValues(view, result).Inc()
}

// ObserveEvent counts one publish attempt.
func (p *Provider) ObserveEvent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.events.WithLabelValues(eventType, result).Inc()
}

// RegisterPool exports pgx pool statistics, read at scrape time.
func (p *Provider) RegisterPool(pool *pgxpool.Pool) error {
	return p.registry.Register(newPoolCollector(pool.Stat))
}

type poolCollector struct {
	stat     func() *pgxpool.Stat
	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
}

func newPoolCollector(stat func() *pgxpool.Stat) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil)
	}
	return &poolCollector{
		stat:     stat,
		total:    desc("total_conns", "Connections in the pool."),
		idle:     desc("idle_conns", "Idle connections."),
		acquired: desc("acquired_conns", "Connections in use."),
		max:      desc("max_conns", "Configured pool size."),
		acquires: desc("acquires_total", "Cumulative successful acquires."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.acquired
	ch <- c.max
	ch <- c.acquires
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	if s == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
}
