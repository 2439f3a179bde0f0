// Package registry maps site keys to their target URL and selector schema.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sjsage522/slothproxy/helpers"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/logger"
	apperrors "sjsage522/slothproxy/pkg/errors"
)

// snapshot is an immutable view of the site list
type snapshot struct {
	sites    []SiteConfig
	index    map[string]int
	source   string
	loadedAt time.Time
}

func newSnapshot(sites []SiteConfig, source string) *snapshot {
	s := &snapshot{
		sites:    sites,
		index:    make(map[string]int, len(sites)),
		source:   source,
		loadedAt: time.Now(),
	}
	for i, site := range sites {
		s.index[site.SiteKey] = i
	}
	return s
}

// Registry serves lookups from the last successfully loaded snapshot. The
// primary source is preferred; the fallback is used only when it fails or is
// not configured.
type Registry struct {
	primary  Source
	fallback Source
	snap     atomic.Pointer[snapshot]
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New creates an empty registry. Either source may be nil.
func New(primary, fallback Source, log *logger.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
		log:      log,
		metrics:  m,
	}
	r.snap.Store(newSnapshot(nil, "none"))
	return r
}

// Reload loads the site list and swaps it in whole. On failure the previous
// snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	sites, source, err := r.load(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Registry reload failed")
		return 0, err
	}

	r.snap.Store(newSnapshot(sites, source))
	r.metrics.RegistryReloaded(source, len(sites))

	r.log.Info().
		Str("source", source).
		Int("sites", len(sites)).
		Msg("Registry reloaded")

	return len(sites), nil
}

// load reads the primary source, filling missing selectors from the fallback
func (r *Registry) load(ctx context.Context) ([]SiteConfig, string, error) {
	var primaryErr error
	if r.primary != nil {
		sites, err := r.primary.Load(ctx)
		if err == nil {
			sites = r.withFallbackSelectors(ctx, sites)
			if verr := validate(sites); verr != nil {
				return nil, "", fmt.Errorf("%s: %w", r.primary.Name(), verr)
			}
			return sites, r.primary.Name(), nil
		}
		primaryErr = fmt.Errorf("%s: %w", r.primary.Name(), err)
		r.log.Warn().Err(err).Str("source", r.primary.Name()).Msg("Primary registry unavailable, trying fallback")
	}

	if r.fallback == nil {
		if primaryErr != nil {
			return nil, "", primaryErr
		}
		return nil, "", errors.New("no registry source configured")
	}

	sites, err := r.fallback.Load(ctx)
	if err != nil {
		return nil, "", errors.Join(primaryErr, fmt.Errorf("%s: %w", r.fallback.Name(), err))
	}
	if err := validate(sites); err != nil {
		return nil, "", fmt.Errorf("%s: %w", r.fallback.Name(), err)
	}
	return sites, r.fallback.Name(), nil
}

// withFallbackSelectors copies selectors from the fallback list onto primary
// sites that carry none, matching on site key first and URL second.
func (r *Registry) withFallbackSelectors(ctx context.Context, sites []SiteConfig) []SiteConfig {
	missing := false
	for _, s := range sites {
		if s.Selectors.List == "" {
			missing = true
			break
		}
	}
	if !missing || r.fallback == nil {
		return sites
	}

	local, err := r.fallback.Load(ctx)
	if err != nil {
		r.log.Debug().Err(err).Msg("No fallback selectors available")
		return sites
	}

	byKey := make(map[string]SiteConfig, len(local))
	byURL := make(map[string]SiteConfig, len(local))
	for _, s := range local {
		byKey[s.SiteKey] = s
		if u, err := helpers.NormalizeURL(s.URL); err == nil {
			byURL[u] = s
		}
	}

	for i, s := range sites {
		if s.Selectors.List != "" {
			continue
		}
		if l, ok := byKey[s.SiteKey]; ok {
			sites[i].Selectors = l.Selectors
			continue
		}
		if u, err := helpers.NormalizeURL(s.URL); err == nil {
			if l, ok := byURL[u]; ok {
				sites[i].Selectors = l.Selectors
			}
		}
	}
	return sites
}

// validate rejects lists the registry cannot index
func validate(sites []SiteConfig) error {
	seen := make(map[string]struct{}, len(sites))
	for i, s := range sites {
		if s.SiteKey == "" {
			return fmt.Errorf("site %d has no siteKey", i)
		}
		if _, dup := seen[s.SiteKey]; dup {
			return fmt.Errorf("duplicate siteKey %q", s.SiteKey)
		}
		seen[s.SiteKey] = struct{}{}
		if _, err := helpers.ParseTargetURL(s.URL); err != nil {
			return fmt.Errorf("site %q: %w", s.SiteKey, err)
		}
	}
	return nil
}

// Lookup returns the site registered under key
func (r *Registry) Lookup(key string) (SiteConfig, bool) {
	snap := r.snap.Load()
	i, ok := snap.index[key]
	if !ok {
		return SiteConfig{}, false
	}
	return snap.sites[i], true
}

// ListActive returns the active sites in registry order
func (r *Registry) ListActive() []SiteConfig {
	snap := r.snap.Load()
	active := make([]SiteConfig, 0, len(snap.sites))
	for _, s := range snap.sites {
		if s.Active {
			active = append(active, s)
		}
	}
	return active
}

// All returns every site in registry order
func (r *Registry) All() []SiteConfig {
	snap := r.snap.Load()
	all := make([]SiteConfig, len(snap.sites))
	copy(all, snap.sites)
	return all
}

// Source names where the current snapshot came from
func (r *Registry) Source() string {
	return r.snap.Load().source
}

// Fetch reads the site list live, bypassing the snapshot
func (r *Registry) Fetch(ctx context.Context) ([]SiteConfig, error) {
	sites, _, err := r.load(ctx)
	if err != nil {
		return nil, apperrors.NewInternal("registry", "failed to fetch sites", err)
	}
	return sites, nil
}

// Touch records a successful build of key in the primary source, then in the
// snapshot.
func (r *Registry) Touch(ctx context.Context, key string) error {
	if _, ok := r.Lookup(key); !ok {
		return apperrors.NewNotFound("registry", fmt.Sprintf("unknown site %q", key))
	}

	at := r.now().UTC()
	if t, ok := r.primary.(Toucher); ok && r.Source() == r.primary.Name() {
		if err := t.Touch(ctx, key, at); err != nil {
			return apperrors.NewInternal("registry", "failed to record build", err)
		}
	}

	for {
		old := r.snap.Load()
		i, ok := old.index[key]
		if !ok {
			return nil
		}

		sites := make([]SiteConfig, len(old.sites))
		copy(sites, old.sites)
		stamp := at
		sites[i].LastUpdated = &stamp

		next := &snapshot{sites: sites, index: old.index, source: old.source, loadedAt: old.loadedAt}
		if r.snap.CompareAndSwap(old, next) {
			return nil
		}
	}
}
