// Package metrics holds the Prometheus collectors of the render, extract and
// publish pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector
const Namespace = "slothproxy"

// Metrics holds the pipeline collectors
type Metrics struct {
	RendersTotal    *prometheus.CounterVec
	RenderDuration  prometheus.Histogram
	RenderAttempts  prometheus.Counter
	RendersInFlight prometheus.Gauge
	RenderCoalesced prometheus.Counter
	ConsentOutcomes *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	ExtractedItems  prometheus.Histogram
	FeedBuilds      *prometheus.CounterVec
	BatchRuns       *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	RegistryReloads *prometheus.CounterVec
	RegistrySites   prometheus.Gauge
	EventsPublished *prometheus.CounterVec
}

// New creates and registers all collectors on reg, or the default registerer when nil
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{}
	m.initRender(factory)
	m.initPipeline(factory)
	m.initHTTP(factory)
	return m
}

func (m *Metrics) initRender(factory promauto.Factory) {
	m.RendersTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "total",
		Help:      "Completed render calls by result",
	}, []string{"result"})

	m.RenderDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Duration of a render including retries",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	m.RenderAttempts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "attempts_total",
		Help:      "Individual browser render attempts",
	})

	m.RendersInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "in_flight",
		Help:      "Shared renders currently running",
	})

	m.RenderCoalesced = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "coalesced_total",
		Help:      "Render results shared between concurrent cache misses",
	})

	m.ConsentOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "render",
		Name:      "consent_total",
		Help:      "Consent banner dismissal outcomes by matcher",
	}, []string{"matcher"})
}

func (m *Metrics) initPipeline(factory promauto.Factory) {
	m.CacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	m.ExtractedItems = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "extract",
		Name:      "items",
		Help:      "Items returned per extraction",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})

	m.FeedBuilds = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "feed",
		Name:      "builds_total",
		Help:      "Feed builds by site and result",
	}, []string{"site", "result"})

	m.BatchRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "batch",
		Name:      "sites_total",
		Help:      "Per-site batch outcomes",
	}, []string{"result"})

	m.BatchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Duration of a whole batch run",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	m.RegistryReloads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "registry",
		Name:      "reloads_total",
		Help:      "Registry reloads by source",
	}, []string{"source"})

	m.RegistrySites = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "registry",
		Name:      "sites",
		Help:      "Sites in the current registry snapshot",
	})

	m.EventsPublished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Build events published by result",
	}, []string{"result"})
}

func (m *Metrics) initHTTP(factory promauto.Factory) {
	m.HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"route", "status"})

	m.HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	m.RateLimited = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter",
	})
}

// ObserveRender records a finished render
func (m *Metrics) ObserveRender(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(result).Inc()
	m.RenderDuration.Observe(took.Seconds())
}

// RenderAttempt counts one browser attempt
func (m *Metrics) RenderAttempt() {
	if m == nil {
		return
	}
	m.RenderAttempts.Inc()
}

// RenderStarted tracks a shared render; call the returned func when it ends
func (m *Metrics) RenderStarted() func() {
	if m == nil {
		return func() {}
	}
	m.RendersInFlight.Inc()
	return m.RendersInFlight.Dec
}

// Coalesced counts a miss that joined a running render
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.RenderCoalesced.Inc()
}

// Consent records which consent matcher fired, "none" when none did
func (m *Metrics) Consent(matcher string) {
	if m == nil {
		return
	}
	if matcher == "" {
		matcher = "none"
	}
	m.ConsentOutcomes.WithLabelValues(matcher).Inc()
}

// CacheLookup records a hit or miss on the named cache
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// Extracted records the item count of an extraction
func (m *Metrics) Extracted(n int) {
	if m == nil {
		return
	}
	m.ExtractedItems.Observe(float64(n))
}

// FeedBuilt records a feed build for site
func (m *Metrics) FeedBuilt(site string, err error) {
	if m == nil {
		return
	}
	m.FeedBuilds.WithLabelValues(site, result(err)).Inc()
}

// BatchSite records one site outcome of a batch run
func (m *Metrics) BatchSite(err error) {
	if m == nil {
		return
	}
	m.BatchRuns.WithLabelValues(result(err)).Inc()
}

// BatchFinished records the duration of a batch run
func (m *Metrics) BatchFinished(took time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(took.Seconds())
}

// RegistryReloaded records a successful reload from source with n sites
func (m *Metrics) RegistryReloaded(source string, n int) {
	if m == nil {
		return
	}
	m.RegistryReloads.WithLabelValues(source).Inc()
	m.RegistrySites.Set(float64(n))
}

// EventPublished records a build event publication
func (m *Metrics) EventPublished(err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(result(err)).Inc()
}

// HTTPRequest records a served request
func (m *Metrics) HTTPRequest(route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}

// Throttled counts a rate limited request
func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
