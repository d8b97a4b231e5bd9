// Package metrics exposes per-request accounting as Prometheus
// instrumentation, promoting the teacher's hand-rolled top-level
// accounting.go Stats struct (bytes/errors/checks/transfers counters
// dumped as a string) to real counters and histograms an operator can
// scrape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the request pipeline touches.
type Registry struct {
	BytesIn          prometheus.Counter
	BytesOut         prometheus.Counter
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	SQTPVerbsTotal   *prometheus.CounterVec
	CGIInvocations   prometheus.Counter
	ActiveConnection prometheus.Gauge
}

// New constructs and registers a Registry against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wpphttpd_bytes_in_total",
			Help: "Total bytes read from client connections.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wpphttpd_bytes_out_total",
			Help: "Total bytes written to client connections.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpphttpd_requests_total",
			Help: "Total requests handled, labeled by resolved kind and status class.",
		}, []string{"kind", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wpphttpd_request_duration_seconds",
			Help:    "Request handling latency by resolved kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SQTPVerbsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpphttpd_sqtp_verbs_total",
			Help: "SQTP requests handled, labeled by verb.",
		}, []string{"verb"}),
		CGIInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wpphttpd_cgi_invocations_total",
			Help: "Total CGI/C-CGI/SCGI invocations.",
		}),
		ActiveConnection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wpphttpd_active_connections",
			Help: "Currently open client connections.",
		}),
	}
	reg.MustRegister(
		m.BytesIn, m.BytesOut, m.RequestsTotal, m.RequestDuration,
		m.SQTPVerbsTotal, m.CGIInvocations, m.ActiveConnection,
	)
	return m
}
