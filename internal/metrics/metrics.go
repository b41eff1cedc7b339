// Package metrics exposes Prometheus instrumentation for trades and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "papertrader"

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	tradesStarted   prometheus.Counter
	tradesFinished  *prometheus.CounterVec
	activeTrades    prometheus.Gauge
	balance         prometheus.Gauge
	pollChecks      *prometheus.CounterVec
	investedDollars prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tradesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_started_total",
			Help:      "Trades admitted by the orchestrator.",
		}),
		tradesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_finished_total",
			Help:      "Trades that reached a terminal status.",
		}, []string{"status", "reason"}),
		activeTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_trades",
			Help:      "Trades currently occupying an admission slot.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_balance_dollars",
			Help:      "Cash balance of the simulated portfolio.",
		}),
		pollChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_checks_total",
			Help:      "Recommendation job status checks by outcome.",
		}, []string{"outcome"}),
		investedDollars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invested_dollars_total",
			Help:      "Dollars debited by completed trades.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tradesStarted,
		m.tradesFinished,
		m.activeTrades,
		m.balance,
		m.pollChecks,
		m.investedDollars,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests, extra collectors)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TradeStarted counts an admitted trade
func (m *Metrics) TradeStarted() {
	if m == nil {
		return
	}
	m.tradesStarted.Inc()
}

// TradeFinished counts a terminal trade
func (m *Metrics) TradeFinished(status, reason string) {
	if m == nil {
		return
	}
	m.tradesFinished.WithLabelValues(status, reason).Inc()
}

// TradeInvested adds a completed trade's buy amount
func (m *Metrics) TradeInvested(amount float64) {
	if m == nil {
		return
	}
	m.investedDollars.Add(amount)
}

// SetActiveTrades records the size of the active set
func (m *Metrics) SetActiveTrades(n int) {
	if m == nil {
		return
	}
	m.activeTrades.Set(float64(n))
}

// SetBalance records the portfolio cash balance
func (m *Metrics) SetBalance(balance float64) {
	if m == nil {
		return
	}
	m.balance.Set(balance)
}

// PollCheck counts one recommendation status check
func (m *Metrics) PollCheck(outcome string) {
	if m == nil {
		return
	}
	m.pollChecks.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency keyed by the chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
