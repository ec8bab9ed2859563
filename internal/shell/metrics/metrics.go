// Package metrics exposes Prometheus collectors for deploys, ports and HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R1ck404/mercel/internal/core/domain"
)

const unmatched = "unmatched"

// Metrics holds every collector the service exports.
type Metrics struct {
	gatherer prometheus.Gatherer

	deploymentsTotal    *prometheus.CounterVec
	deployDuration      *prometheus.HistogramVec
	webhookDeliveries   *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. portsInUse is
// sampled on every scrape and may be nil.
func New(reg *prometheus.Registry, portsInUse func() int) *Metrics {
	m := &Metrics{
		gatherer: reg,
		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mercel_deployments_total",
				Help: "Total number of finished deploy attempts by outcome.",
			},
			[]string{"status", "trigger"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mercel_deploy_duration_seconds",
				Help:    "Duration of a deploy attempt from lock acquisition to outcome, in seconds.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"status"},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mercel_webhook_deliveries_total",
				Help: "Total number of webhook deliveries by result.",
			},
			[]string{"result"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mercel_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mercel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.deploymentsTotal,
		m.deployDuration,
		m.webhookDeliveries,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	if portsInUse != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mercel_ports_in_use",
				Help: "Number of host ports currently reserved for environments.",
			},
			func() float64 { return float64(portsInUse()) },
		))
	}

	// Pre-initialize outcome labels so they appear from startup.
	for _, st := range []domain.DeploymentStatus{domain.StatusReady, domain.StatusError, domain.StatusCanceled} {
		for _, tr := range []domain.Trigger{domain.TriggerManual, domain.TriggerWebhook} {
			m.deploymentsTotal.WithLabelValues(string(st), string(tr))
		}
	}

	return m
}

// ObserveDeploy records a finished deploy attempt.
func (m *Metrics) ObserveDeploy(status domain.DeploymentStatus, trigger domain.Trigger, d time.Duration) {
	m.deploymentsTotal.WithLabelValues(string(status), string(trigger)).Inc()
	m.deployDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveWebhook records a webhook delivery result such as "deployed",
// "ignored" or "rejected".
func (m *Metrics) ObserveWebhook(result string) {
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

// Middleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
