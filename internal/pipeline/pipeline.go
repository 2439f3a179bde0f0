// Package pipeline composes rendering, extraction and publishing into the
// operations served over HTTP and by the batch worker.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"sjsage522/slothproxy/helpers"
	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/feed"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/internal/render"
	"sjsage522/slothproxy/logger"
	apperrors "sjsage522/slothproxy/pkg/errors"
	"sjsage522/slothproxy/services/cache"
)

// SiteLookup resolves a site key
type SiteLookup interface {
	Lookup(key string) (registry.SiteConfig, bool)
}

// Feed is a published site feed
type Feed struct {
	Site  registry.SiteConfig
	Count int
	XML   []byte
}

// Service runs the pipeline stages
type Service struct {
	renderer     render.Renderer
	extractor    *extract.Extractor
	extractCache cache.Cache[[]extract.Item]
	sites        SiteLookup
	titlePrefix  string
	now          func() time.Time
	log          *logger.Logger
	metrics      *metrics.Metrics
}

// Options holds the Service collaborators
type Options struct {
	Renderer     render.Renderer
	Extractor    *extract.Extractor
	ExtractCache cache.Cache[[]extract.Item]
	Sites        SiteLookup
	TitlePrefix  string
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// NewService creates a pipeline service
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.NewExtractor(extract.DefaultMaxItems, opts.Logger)
	}
	return &Service{
		renderer:     opts.Renderer,
		extractor:    opts.Extractor,
		extractCache: opts.ExtractCache,
		sites:        opts.Sites,
		titlePrefix:  opts.TitlePrefix,
		now:          time.Now,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
}

// Snapshot returns the rendered HTML of url. Invalid URLs fail before any render.
func (s *Service) Snapshot(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", apperrors.NewInput("snapshot", "missing url")
	}
	if _, err := helpers.ParseTargetURL(url); err != nil {
		return "", apperrors.New(apperrors.ErrorTypeInput, "snapshot", "invalid url", err)
	}

	html, err := s.renderer.Render(ctx, url)
	if err != nil {
		return "", render.AsPipelineError(err)
	}
	return html, nil
}

// Extract returns the items of url under schema, served from the extraction
// cache when fresh.
func (s *Service) Extract(ctx context.Context, url string, schema extract.Schema) ([]extract.Item, error) {
	if url == "" {
		return nil, apperrors.NewInput("extract", "missing url")
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	normalized, err := helpers.NormalizeURL(url)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeInput, "extract", "invalid url", err)
	}

	key := extract.CacheKey(normalized, schema)
	if s.extractCache != nil {
		if items, ok := s.extractCache.Get(key); ok {
			s.metrics.CacheLookup("extract", true)
			return items, nil
		}
		s.metrics.CacheLookup("extract", false)
	}

	html, err := s.Snapshot(ctx, url)
	if err != nil {
		return nil, err
	}

	items, err := s.extractor.Extract(html, schema, url)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewInternal("extract", "extraction failed", err)
	}

	if s.extractCache != nil {
		s.extractCache.Set(key, items)
	}
	s.metrics.Extracted(len(items))

	return items, nil
}

// Feed builds the RSS document of an active site. Unknown and inactive sites
// are not found and never rendered.
func (s *Service) Feed(ctx context.Context, siteKey string) (*Feed, error) {
	if siteKey == "" {
		return nil, apperrors.NewInput("feed", "missing site")
	}

	site, ok := s.sites.Lookup(siteKey)
	if !ok {
		return nil, apperrors.NewNotFound("feed", fmt.Sprintf("unknown site %q", siteKey))
	}
	if !site.Active {
		return nil, apperrors.NewNotFound("feed", fmt.Sprintf("site %q is inactive", siteKey))
	}
	if site.Selectors.List == "" {
		return nil, apperrors.NewInput("feed", fmt.Sprintf("site %q has no list selector", siteKey))
	}

	items, err := s.Extract(ctx, site.URL, site.Selectors)
	if err != nil {
		s.metrics.FeedBuilt(siteKey, err)
		return nil, err
	}

	label := site.Label
	if label == "" {
		label = site.SiteKey
	}

	xml, err := feed.Build(feed.Channel{
		Title:         s.titlePrefix + label,
		Link:          site.URL,
		Description:   fmt.Sprintf("Latest items from %s", label),
		LastBuildDate: s.now(),
		Items:         items,
	})
	if err != nil {
		err = apperrors.NewInternal("feed", "failed to build feed", err)
		s.metrics.FeedBuilt(siteKey, err)
		return nil, err
	}

	s.metrics.FeedBuilt(siteKey, nil)
	s.log.Debug().
		Str("site", siteKey).
		Int("items", len(items)).
		Msg("Feed built")

	return &Feed{Site: site, Count: len(items), XML: xml}, nil
}
