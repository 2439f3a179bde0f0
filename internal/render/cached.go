package render

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"sjsage522/slothproxy/helpers"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/logger"
	"sjsage522/slothproxy/services/cache"
)

// Cached serves renders from a cache keyed by normalized URL. Concurrent misses
// for one key share a single render; a waiter that gives up does not cancel it.
type Cached struct {
	next    Renderer
	cache   cache.Cache[string]
	group   singleflight.Group
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewCached wraps next with c
func NewCached(next Renderer, c cache.Cache[string], log *logger.Logger, m *metrics.Metrics) *Cached {
	if log == nil {
		log = logger.Nop()
	}
	return &Cached{next: next, cache: c, log: log, metrics: m}
}

// Render returns cached HTML or renders it once for all concurrent callers
func (c *Cached) Render(ctx context.Context, url string) (string, error) {
	key, err := helpers.NormalizeURL(url)
	if err != nil {
		return "", newRenderError(url, err)
	}

	if html, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookup("render", true)
		c.log.Debug().Str("key", key).Msg("Render cache hit")
		return html, nil
	}
	c.metrics.CacheLookup("render", false)

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		done := c.metrics.RenderStarted()
		defer done()

		start := time.Now()
		html, err := c.next.Render(shared, url)
		if err != nil {
			return "", err
		}

		c.cache.Set(key, html)
		c.log.Debug().
			Str("key", key).
			Dur("took", time.Since(start)).
			Msg("Render cached")
		return html, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.Coalesced()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", newRenderError(url, ctx.Err())
	}
}

// Stats reports the render cache counters
func (c *Cached) Stats() cache.Stats {
	return c.cache.Stats()
}
