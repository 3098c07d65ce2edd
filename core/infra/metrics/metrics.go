package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the artifact pipeline and its
// lifecycle sweeps.
type Metrics interface {
	IncUploads(status string)
	IncRetrievals(status string)
	IncReaped(count int)
	IncReconciled(action string)
	IncConfigReloads(status string)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)       {}
func (Noop) IncRetrievals(string)    {}
func (Noop) IncReaped(int)           {}
func (Noop) IncReconciled(string)    {}
func (Noop) IncConfigReloads(string) {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	uploads       *prometheus.CounterVec
	retrievals    *prometheus.CounterVec
	reaped        prometheus.Counter
	reconciled    *prometheus.CounterVec
	configReloads *prometheus.CounterVec
	once          sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome",
		}, []string{"status"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval attempts by outcome",
		}, []string{"status"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_artifacts_total",
			Help:      "Expired artifacts removed by the reaper",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Reconciler repairs by action",
		}, []string{"action"}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by outcome",
		}, []string{"status"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.uploads, p.retrievals, p.reaped, p.reconciled, p.configReloads)
	})
}

func (p *Prom) IncUploads(status string) {
	p.uploads.WithLabelValues(status).Inc()
}

func (p *Prom) IncRetrievals(status string) {
	p.retrievals.WithLabelValues(status).Inc()
}

func (p *Prom) IncReaped(count int) {
	p.reaped.Add(float64(count))
}

func (p *Prom) IncReconciled(action string) {
	p.reconciled.WithLabelValues(action).Inc()
}

func (p *Prom) IncConfigReloads(status string) {
	p.configReloads.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// NoopGateway implements GatewayMetrics without emitting anything.
type NoopGateway struct{}

func (NoopGateway) ObserveRequest(string, string, string, float64) {}
