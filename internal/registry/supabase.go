package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	siteColumns = "siteKey,label,url,active,lastUpdated,selectors"
	baseColumns = "siteKey,label,url,active,lastUpdated"

	// PostgreSQL undefined_column, passed through by PostgREST
	codeUndefinedColumn = "42703"
)

type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *postgrestError) Error() string {
	return e.Code + " " + e.Message
}

// SupabaseConfig holds the PostgREST connection settings
type SupabaseConfig struct {
	URL        string
	AnonKey    string
	ServiceKey string
	Table      string
	Timeout    time.Duration
}

// SupabaseSource reads sites through the Supabase REST API. Touch needs the
// service key; without it touches are accepted and not persisted. Tables
// without a selectors column are read without it, and the registry fills
// selectors from the fallback list.
type SupabaseSource struct {
	table       string
	reader      *resty.Client
	writer      *resty.Client
	noSelectors atomic.Bool
}

// NewSupabaseSource creates a Supabase backed source
func NewSupabaseSource(cfg SupabaseConfig) *SupabaseSource {
	if cfg.Table == "" {
		cfg.Table = "sites"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	s := &SupabaseSource{
		table:  cfg.Table,
		reader: newRestClient(cfg.URL, cfg.AnonKey, cfg.Timeout),
	}
	if cfg.ServiceKey != "" {
		s.writer = newRestClient(cfg.URL, cfg.ServiceKey, cfg.Timeout)
	}
	return s
}

func newRestClient(baseURL, key string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetHeader("apikey", key).
		SetAuthToken(key).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
}

// Name implements Source
func (s *SupabaseSource) Name() string { return "supabase" }

// Load implements Source
func (s *SupabaseSource) Load(ctx context.Context) ([]SiteConfig, error) {
	columns := siteColumns
	if s.noSelectors.Load() {
		columns = baseColumns
	}

	sites, err := s.load(ctx, columns)
	var perr *postgrestError
	if columns == siteColumns && errors.As(err, &perr) &&
		perr.Code == codeUndefinedColumn && strings.Contains(perr.Message, "selectors") {
		s.noSelectors.Store(true)
		return s.load(ctx, baseColumns)
	}
	return sites, err
}

func (s *SupabaseSource) load(ctx context.Context, columns string) ([]SiteConfig, error) {
	var (
		sites  []SiteConfig
		apiErr postgrestError
	)
	resp, err := s.reader.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": columns,
			"order":  "siteKey.asc",
		}).
		SetResult(&sites).
		SetError(&apiErr).
		Get("/" + s.table)
	if err != nil {
		return nil, fmt.Errorf("supabase request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr.Code != "" {
			return nil, fmt.Errorf("supabase returned %d: %w", resp.StatusCode(), &apiErr)
		}
		return nil, fmt.Errorf("supabase returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return sites, nil
}

// Touch implements Toucher
func (s *SupabaseSource) Touch(ctx context.Context, siteKey string, at time.Time) error {
	if s.writer == nil {
		return nil
	}

	resp, err := s.writer.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParam("siteKey", "eq."+siteKey).
		SetBody(map[string]string{"lastUpdated": at.UTC().Format(time.RFC3339Nano)}).
		Patch("/" + s.table)
	if err != nil {
		return fmt.Errorf("supabase touch failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("supabase touch returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
