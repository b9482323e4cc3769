package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagebinder",
			Name:      "renders_total",
			Help:      "Thumbnail render attempts by result (ok, error, cancelled, cache_hit)",
		},
		[]string{"result"},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pagebinder",
			Name:      "render_duration_seconds",
			Help:      "Duration of thumbnail backend render calls",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagebinder",
			Name:      "thumb_cache_events_total",
			Help:      "Thumbnail cache events (hit, miss, evict)",
		},
		[]string{"event"},
	)

	entriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pagebinder",
			Name:      "collection_entries",
			Help:      "Current number of page entries in the collection",
		},
	)

	sourcesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pagebinder",
			Name:      "collection_sources",
			Help:      "Current number of distinct source documents",
		},
	)

	sourcesAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagebinder",
			Name:      "sources_added_total",
			Help:      "Source import attempts by result (ok, open_failed)",
		},
		[]string{"result"},
	)

	exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagebinder",
			Name:      "exports_total",
			Help:      "Document export attempts by result (ok, error)",
		},
		[]string{"result"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(renders, renderLatency, cacheEvents, entriesGauge, sourcesGauge, sourcesAdded, exports)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveRender(result string, dur time.Duration) {
	renders.WithLabelValues(result).Inc()
	renderLatency.Observe(dur.Seconds())
}

func IncCacheHit()   { cacheEvents.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheEvents.WithLabelValues("miss").Inc() }
func IncCacheEvict() { cacheEvents.WithLabelValues("evict").Inc() }

func SetEntries(n int) { entriesGauge.Set(float64(n)) }
func SetSources(n int) { sourcesGauge.Set(float64(n)) }

func IncSourceAdded(result string) { sourcesAdded.WithLabelValues(result).Inc() }
func IncExport(result string)      { exports.WithLabelValues(result).Inc() }
