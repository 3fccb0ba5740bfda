package crawler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rule-crawler/pkg/models"
)

// Metrics holds the crawl collectors. Each instance owns a private registry
// so tests and repeated runs never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	pagesTotal       *prometheus.CounterVec
	fetchErrorsTotal *prometheus.CounterVec
	saveErrorsTotal  *prometheus.CounterVec
	linksDiscovered  prometheus.Counter
	linksEnqueued    prometheus.Counter
	fetchDuration    prometheus.Histogram
	fetchesInFlight  prometheus.Gauge
	queueLength      prometheus.Gauge
	outstanding      prometheus.Gauge
	seenURLs         prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Pages taken from the frontier, labeled by final status.",
		}, []string{"status"}),
		fetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Failed fetches, labeled by error category.",
		}, []string{"category"}),
		saveErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_save_errors_total",
			Help: "Failed record saves, labeled by error category.",
		}, []string{"category"}),
		linksDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_links_discovered_total",
			Help: "Links returned by link discovery, before deduplication.",
		}),
		linksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawler_links_enqueued_total",
			Help: "Discovered links accepted by the frontier.",
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency including fetch gate wait.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		fetchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_fetches_in_flight",
			Help: "Fetches currently holding a fetch gate permit.",
		}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_queue_length",
			Help: "Entries waiting in the frontier.",
		}),
		outstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_outstanding",
			Help: "Entries queued or in flight.",
		}),
		seenURLs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_seen_urls",
			Help: "Distinct URLs ever enqueued.",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observePage(status models.PageStatus) {
	m.pagesTotal.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) observeFetchError(category string) {
	m.fetchErrorsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) observeSaveError(category string) {
	m.saveErrorsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) observeLinks(discovered, enqueued int) {
	m.linksDiscovered.Add(float64(discovered))
	m.linksEnqueued.Add(float64(enqueued))
}

func (m *Metrics) observeFrontier(queueLen, outstanding, seen int) {
	m.queueLength.Set(float64(queueLen))
	m.outstanding.Set(float64(outstanding))
	m.seenURLs.Set(float64(seen))
}
