package httpx

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

const metricsNamespace = "securegate"

// Proxy outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidPath  = "invalid_path"
	OutcomeUnauthorized = "unauthorized"
	OutcomeBlocked      = "blocked"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cspReports          *prometheus.CounterVec
	cspReportsDiscarded prometheus.Counter
	cspReportsMalformed prometheus.Counter
	cspReportFlags      *prometheus.CounterVec

	proxyRequests *prometheus.CounterVec
	proxyUpstream prometheus.Histogram
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cspReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "csp",
			Name:      "reports_total",
			Help:      "Normalized CSP violation reports by disposition and directive",
		},
		[]string{"disposition", "directive"},
	)
	m.cspReportsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "csp",
		Name:      "reports_discarded_total",
		Help:      "Reports dropped because a batch exceeded the per-request limit",
	})
	m.cspReportsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "csp",
		Name:      "reports_malformed_total",
		Help:      "Reports skipped because they could not be normalized",
	})
	m.cspReportFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "csp",
			Name:      "report_flags_total",
			Help:      "Analysis flags attached to violation reports",
		},
		[]string{"flag"},
	)
	m.proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "image_proxy",
			Name:      "requests_total",
			Help:      "Image proxy requests by outcome",
		},
		[]string{"outcome"},
	)
	m.proxyUpstream = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "image_proxy",
		Name:      "upstream_seconds",
		Help:      "Time spent waiting for the upstream to answer",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cspReports,
		m.cspReportsDiscarded,
		m.cspReportsMalformed,
		m.cspReportFlags,
		m.proxyRequests,
		m.proxyUpstream,
	)
	return m
}

// ObserveIngest records one report endpoint call.
func (m *Metrics) ObserveIngest(res *csp.IngestResult) {
	for _, r := range res.Reports {
		m.cspReports.WithLabelValues(string(r.Disposition), r.EffectiveDirective).Inc()
		for _, f := range r.Flags {
			m.cspReportFlags.WithLabelValues(f).Inc()
		}
	}
	// Discarded counts malformed items too; split them out.
	m.cspReportsMalformed.Add(float64(len(res.Errors)))
	m.cspReportsDiscarded.Add(float64(res.Discarded - len(res.Errors)))
}

// ObserveProxy records one image proxy request. A zero elapsed means the
// upstream was never contacted.
func (m *Metrics) ObserveProxy(outcome string, elapsed time.Duration) {
	m.proxyRequests.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.proxyUpstream.Observe(elapsed.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// metricsHandler serves metrics outside production only.
func metricsHandler(m *Metrics) http.HandlerFunc {
	h := m.Handler()
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := GetConfigFromContext(r.Context())
		if !ok {
			ServerError(w, r, errConfigUnavailable)
			return
		}

		// Only allow in non-production environments
		if cfg.IsProduction() {
			NotFound(w, r)
			return
		}

		h.ServeHTTP(w, r)
	}
}
