package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRender("ok", time.Second)
		m.RenderAttempt()
		m.RenderStarted()()
		m.Coalesced()
		m.Consent("")
		m.CacheLookup("render", true)
		m.Extracted(3)
		m.FeedBuilt("nen", nil)
		m.BatchSite(errors.New("boom"))
		m.BatchFinished(time.Second)
		m.RegistryReloaded("file", 2)
		m.EventPublished(nil)
		m.HTTPRequest("/health", "200", time.Millisecond)
		m.Throttled()
	})
}

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheLookup("render", true)
	m.CacheLookup("render", false)
	m.CacheLookup("render", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("render", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("render", "miss")))

	done := m.RenderStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RendersInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RendersInFlight))

	m.Consent("")
	m.Consent("onetrust")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsentOutcomes.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsentOutcomes.WithLabelValues("onetrust")))

	m.BatchSite(nil)
	m.BatchSite(errors.New("touch failed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRuns.WithLabelValues("error")))

	m.RegistryReloaded("supabase", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RegistrySites))
}
