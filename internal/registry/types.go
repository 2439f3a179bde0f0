package registry

import (
	"context"
	"time"

	"sjsage522/slothproxy/internal/extract"
)

// SiteConfig is one feed source
type SiteConfig struct {
	SiteKey     string         `json:"siteKey"`
	Label       string         `json:"label"`
	URL         string         `json:"url"`
	Selectors   extract.Schema `json:"selectors"`
	Active      bool           `json:"active"`
	LastUpdated *time.Time     `json:"lastUpdated"`
}

// Source loads the full site list from a backend
type Source interface {
	Name() string
	Load(ctx context.Context) ([]SiteConfig, error)
}

// Toucher records a successful build in the backend
type Toucher interface {
	Touch(ctx context.Context, siteKey string, at time.Time) error
}
