package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/internal/pipeline"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/internal/render"
	"sjsage522/slothproxy/services/cache"
	"sjsage522/slothproxy/services/worker"
)

const page = `<html><body>
<div class="item"><h2>Tom &amp; Jerry</h2><a href="/x">meer</a></div>
<div class="item"><h2>Tweede</h2><a href="/y">meer</a></div>
</body></html>`

type stubRenderer struct {
	html  string
	err   error
	calls atomic.Int32
}

func (s *stubRenderer) Render(ctx context.Context, url string) (string, error) {
	s.calls.Add(1)
	return s.html, s.err
}

type stubRegistry struct {
	sites     []registry.SiteConfig
	fetchErr  error
	reloadErr error
}

func (s *stubRegistry) Lookup(key string) (registry.SiteConfig, bool) {
	for _, site := range s.sites {
		if site.SiteKey == key {
			return site, true
		}
	}
	return registry.SiteConfig{}, false
}

func (s *stubRegistry) All() []registry.SiteConfig { return s.sites }

func (s *stubRegistry) Fetch(ctx context.Context) ([]registry.SiteConfig, error) {
	return s.sites, s.fetchErr
}

func (s *stubRegistry) Reload(ctx context.Context) (int, error) {
	return len(s.sites), s.reloadErr
}

type stubBatch struct {
	runs atomic.Int32
}

func (b *stubBatch) RunOnce(ctx context.Context) worker.Result {
	b.runs.Add(1)
	return worker.Result{
		Updated: time.Now(),
		Total:   2,
		OK:      1,
		Results: []worker.Outcome{
			{SiteKey: "example", URL: "https://example.com", OK: true, Count: 2},
			{SiteKey: "broken", URL: "https://broken.example.com", Error: "touch: rejected"},
		},
	}
}

type fixture struct {
	server   *Server
	renderer *stubRenderer
	registry *stubRegistry
	batch    *stubBatch
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	rend := &stubRenderer{html: page}
	reg := &stubRegistry{sites: []registry.SiteConfig{{
		SiteKey:   "example",
		Label:     "Example",
		URL:       "https://example.com/news",
		Active:    true,
		Selectors: extract.Schema{List: ".item", Title: "h2", Link: "a"},
	}}}
	batch := &stubBatch{}

	svc := pipeline.NewService(pipeline.Options{
		Renderer:     rend,
		ExtractCache: cache.NewMemoryCache[[]extract.Item]("extract", 10, time.Minute),
		Sites:        reg,
	})

	promReg := prometheus.NewRegistry()
	if cfg.Port == "" {
		cfg.Port = "0"
	}
	s := New(cfg, Deps{
		Pipeline: svc,
		Registry: reg,
		Batch:    batch,
		CacheStats: func() []cache.Stats {
			return []cache.Stats{{Name: "render", Capacity: 200}}
		},
		Gatherer: promReg,
	}, nil, metrics.New(promReg))

	return &fixture{server: s, renderer: rend, registry: reg, batch: batch}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})
	w := f.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		OK         bool          `json:"ok"`
		CacheStats []cache.Stats `json:"cacheStats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.Len(t, body.CacheStats, 1)
	assert.Equal(t, "render", body.CacheStats[0].Name)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/snapshot?url=https://example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.Equal(t, page, w.Body.String())
}

func TestSnapshotErrors(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/snapshot", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "snapshot_input", errorBody(t, w)["error"])

	w = f.do(http.MethodGet, "/snapshot?url=ftp://example.com", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.renderer.calls.Load())

	f.renderer.err = &render.RenderError{URL: "https://example.com", Cause: errors.New("net::ERR_CONNECTION_RESET")}
	w = f.do(http.MethodGet, "/snapshot?url=https://example.com", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "snapshot_upstream", body["error"])
	assert.Contains(t, body["detail"], "ERR_CONNECTION_RESET")

	f.renderer.err = &render.RenderError{URL: "https://example.com", Cause: render.ErrUnavailable, Permanent: true}
	w = f.do(http.MethodGet, "/snapshot?url=https://example.com", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPageAndSearch(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/page?url=https://example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	var text struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &text))
	assert.Contains(t, text.Text, "Tom & Jerry")

	w = f.do(http.MethodGet, "/search?url=https://example.com&q=tweede", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Query   string           `json:"query"`
		Matches []pipeline.Match `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tweede", body.Query)
	require.Len(t, body.Matches, 1)
	assert.Equal(t, "Tweede", body.Matches[0].Match)

	w = f.do(http.MethodGet, "/search?url=https://example.com", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtract(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/extract", `{"url":"https://example.com","selectors":{"list":".item","title":"h2","link":"a"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		URL   string         `json:"url"`
		Count int            `json:"count"`
		Items []extract.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "https://example.com/x", body.Items[0].Link)
	assert.Nil(t, body.Items[0].Date)
}

func TestExtractBadRequests(t *testing.T) {
	f := newFixture(t, Config{})

	for _, payload := range []string{
		`{"url":"https://example.com"}`,
		`{"url":"https://example.com","selectors":{"title":"h2"}}`,
		`{"selectors":{"list":".item"}}`,
		`{"url":"https://example.com","selectors":{"list":"div["}}`,
		`not json`,
	} {
		w := f.do(http.MethodPost, "/extract", payload)
		assert.Equal(t, http.StatusBadRequest, w.Code, payload)
	}
	assert.Zero(t, f.renderer.calls.Load())
}

func TestRSS(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/rss?site=example", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/rss+xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Tom &amp; Jerry")

	parsed, err := gofeed.NewParser().ParseString(w.Body.String())
	require.NoError(t, err)
	assert.Len(t, parsed.Items, 2)
}

func TestRSSUnknownSiteDoesNotRender(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/rss?site=unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "feed_not_found", errorBody(t, w)["error"])

	w = f.do(http.MethodGet, "/rss", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, f.renderer.calls.Load())
}

func TestStatusAndSites(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"siteKey":"example"`)
	assert.NotContains(t, w.Body.String(), "selectors")

	w = f.do(http.MethodGet, "/sites", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = f.do(http.MethodPost, "/sites/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"count":1}`, w.Body.String())

	f.registry.fetchErr = errors.New("supabase down")
	w = f.do(http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	f.registry.reloadErr = errors.New("file missing")
	w = f.do(http.MethodPost, "/sites/reload", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "registry_internal", errorBody(t, w)["error"])
}

func TestCronSecret(t *testing.T) {
	f := newFixture(t, Config{CronSecret: "s3cret"})

	w := f.do(http.MethodPost, "/cron?secret=wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "cron_auth", errorBody(t, w)["error"])

	w = f.do(http.MethodPost, "/cron", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.batch.runs.Load())

	w = f.do(http.MethodPost, "/cron?secret=s3cret", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res worker.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	assert.True(t, res.Results[0].OK)
	assert.Equal(t, "touch: rejected", res.Results[1].Error)
	assert.Equal(t, int32(1), f.batch.runs.Load())
}

func TestCronDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/cron?secret=", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.batch.runs.Load())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RatePerMin: 2})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sites", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sites", "").Code)

	w := f.do(http.MethodGet, "/sites", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// health stays reachable for liveness checks
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{AllowOrigin: "https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(http.MethodGet, "/health", "")

	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slothproxy_http_requests_total")
}

func TestRequestIDPassthrough(t *testing.T) {
	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
