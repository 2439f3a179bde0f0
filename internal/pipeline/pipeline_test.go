package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/internal/render"
	apperrors "sjsage522/slothproxy/pkg/errors"
	"sjsage522/slothproxy/services/cache"
)

const newsPage = `<html><body>
<script>var tracking = "ignored";</script>
<div class="item"><h2>Nieuwe norm &amp; richtlijn</h2><a href="/x">lees meer</a><time datetime="2024-03-12">12 maart</time></div>
<div class="item"><h2>Zonder link</h2></div>
<div class="item"><h2>Tweede bericht</h2><a href="https://example.com/y">lees meer</a></div>
</body></html>`

type stubRenderer struct {
	html  string
	err   error
	calls atomic.Int32
}

func (s *stubRenderer) Render(ctx context.Context, url string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.html, nil
}

type stubSites map[string]registry.SiteConfig

func (s stubSites) Lookup(key string) (registry.SiteConfig, bool) {
	site, ok := s[key]
	return site, ok
}

func newTestService(r render.Renderer, sites stubSites) *Service {
	svc := NewService(Options{
		Renderer:     r,
		ExtractCache: cache.NewMemoryCache[[]extract.Item]("extract", 10, time.Minute),
		Sites:        sites,
		TitlePrefix:  "Sloth: ",
	})
	svc.now = func() time.Time { return time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC) }
	return svc
}

func testSites() stubSites {
	return stubSites{
		"example": {
			SiteKey:   "example",
			Label:     "Example",
			URL:       "https://example.com/news",
			Active:    true,
			Selectors: extract.Schema{List: ".item", Title: "h2", Link: "a", Date: "time"},
		},
		"paused": {SiteKey: "paused", URL: "https://example.com", Selectors: extract.Schema{List: ".item"}},
		"broken": {SiteKey: "broken", URL: "https://example.com", Active: true},
	}
}

func statusOf(err error) int {
	status, _, _ := apperrors.StatusOf(err)
	return status
}

func TestSnapshotValidatesBeforeRender(t *testing.T) {
	stub := &stubRenderer{html: "<html></html>"}
	svc := newTestService(stub, nil)

	for _, u := range []string{"", "not a url", "ftp://example.com", "file:///etc/passwd", "http://"} {
		_, err := svc.Snapshot(context.Background(), u)
		require.Error(t, err, u)
		assert.Equal(t, http.StatusBadRequest, statusOf(err), u)
	}
	assert.Zero(t, stub.calls.Load())

	html, err := svc.Snapshot(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", html)
}

func TestSnapshotMapsRenderFailures(t *testing.T) {
	svc := newTestService(&stubRenderer{err: &render.RenderError{URL: "https://a.nl", Cause: errors.New("net::ERR_CONNECTION_RESET")}}, nil)
	_, err := svc.Snapshot(context.Background(), "https://a.nl")
	assert.Equal(t, http.StatusBadGateway, statusOf(err))

	svc = newTestService(&stubRenderer{err: &render.RenderError{URL: "https://a.nl", Cause: render.ErrUnavailable, Permanent: true}}, nil)
	_, err = svc.Snapshot(context.Background(), "https://a.nl")
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))
}

func TestExtract(t *testing.T) {
	stub := &stubRenderer{html: newsPage}
	svc := newTestService(stub, nil)
	schema := extract.Schema{List: ".item", Title: "h2", Link: "a", Date: "time"}

	items, err := svc.Extract(context.Background(), "https://example.com/news", schema)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Nieuwe norm & richtlijn", items[0].Title)
	assert.Equal(t, "https://example.com/x", items[0].Link)
	require.NotNil(t, items[0].Date)
	assert.Nil(t, items[1].Date)

	// second call within TTL comes from the extraction cache
	again, err := svc.Extract(context.Background(), "https://EXAMPLE.com/news#top", schema)
	require.NoError(t, err)
	assert.Equal(t, items, again)
	assert.Equal(t, int32(1), stub.calls.Load())

	// a different schema is a different key
	_, err = svc.Extract(context.Background(), "https://example.com/news", extract.Schema{List: ".item"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestExtractInputErrors(t *testing.T) {
	stub := &stubRenderer{html: newsPage}
	svc := newTestService(stub, nil)

	_, err := svc.Extract(context.Background(), "", extract.Schema{List: ".item"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, err = svc.Extract(context.Background(), "https://example.com", extract.Schema{})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, err = svc.Extract(context.Background(), "https://example.com", extract.Schema{List: "div["})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	assert.Zero(t, stub.calls.Load())
}

func TestExtractUpstreamFailureIsNotCached(t *testing.T) {
	stub := &stubRenderer{err: errors.New("net::ERR_CONNECTION_RESET")}
	svc := newTestService(stub, nil)
	schema := extract.Schema{List: ".item"}

	_, err := svc.Extract(context.Background(), "https://example.com", schema)
	assert.Equal(t, http.StatusBadGateway, statusOf(err))

	stub.err = nil
	stub.html = newsPage
	items, err := svc.Extract(context.Background(), "https://example.com", schema)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFeed(t *testing.T) {
	stub := &stubRenderer{html: newsPage}
	svc := newTestService(stub, testSites())

	out, err := svc.Feed(context.Background(), "example")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, "example", out.Site.SiteKey)

	parsed, err := gofeed.NewParser().ParseString(string(out.XML))
	require.NoError(t, err)
	assert.Equal(t, "Sloth: Example", parsed.Title)
	require.Len(t, parsed.Items, 2)
	assert.Equal(t, "Nieuwe norm & richtlijn", parsed.Items[0].Title)
	assert.Equal(t, "Tweede bericht", parsed.Items[1].Title)
}

func TestFeedUnknownSiteNeverRenders(t *testing.T) {
	stub := &stubRenderer{html: newsPage}
	svc := newTestService(stub, testSites())

	_, err := svc.Feed(context.Background(), "unknown")
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	_, err = svc.Feed(context.Background(), "paused")
	assert.Equal(t, http.StatusNotFound, statusOf(err))

	_, err = svc.Feed(context.Background(), "broken")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, err = svc.Feed(context.Background(), "")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	assert.Zero(t, stub.calls.Load())
}

func TestFeedFailsWhole(t *testing.T) {
	stub := &stubRenderer{err: render.ErrNavigationTimeout}
	svc := newTestService(stub, testSites())

	out, err := svc.Feed(context.Background(), "example")
	assert.Nil(t, out)
	assert.Equal(t, http.StatusBadGateway, statusOf(err))
}
