package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"sjsage522/slothproxy/internal/extract"
)

const (
	selectSites = `SELECT site_key, label, url, selectors, active, last_updated FROM sites ORDER BY site_key`
	touchSite   = `UPDATE sites SET last_updated = $1 WHERE site_key = $2`

	defaultPingTimeout = 5 * time.Second
)

// ErrUnknownSite is returned when a touch matches no row
var ErrUnknownSite = errors.New("unknown site")

type siteRow struct {
	SiteKey     string         `db:"site_key"`
	Label       sql.NullString `db:"label"`
	URL         string         `db:"url"`
	Selectors   []byte         `db:"selectors"`
	Active      bool           `db:"active"`
	LastUpdated sql.NullTime   `db:"last_updated"`
}

func (r siteRow) toSite() (SiteConfig, error) {
	site := SiteConfig{
		SiteKey: r.SiteKey,
		Label:   r.Label.String,
		URL:     r.URL,
		Active:  r.Active,
	}
	if len(r.Selectors) > 0 {
		var schema extract.Schema
		if err := json.Unmarshal(r.Selectors, &schema); err != nil {
			return SiteConfig{}, fmt.Errorf("site %s: invalid selectors: %w", r.SiteKey, err)
		}
		site.Selectors = schema
	}
	if r.LastUpdated.Valid {
		t := r.LastUpdated.Time
		site.LastUpdated = &t
	}
	return site, nil
}

// PostgresSource reads sites from a "sites" table
type PostgresSource struct {
	db *sqlx.DB
}

// NewPostgresPool prepares a connection pool for dsn without dialing it
func NewPostgresPool(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// OpenPostgres prepares a pool for dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := NewPostgresPool(dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}
	return db, nil
}

// NewPostgresSource creates a source over db
func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Name implements Source
func (p *PostgresSource) Name() string { return "postgres" }

// Load implements Source
func (p *PostgresSource) Load(ctx context.Context) ([]SiteConfig, error) {
	var rows []siteRow
	if err := p.db.SelectContext(ctx, &rows, selectSites); err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}

	sites := make([]SiteConfig, 0, len(rows))
	for _, r := range rows {
		site, err := r.toSite()
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// Touch implements Toucher
func (p *PostgresSource) Touch(ctx context.Context, siteKey string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, touchSite, at.UTC(), siteKey)
	if err != nil {
		return fmt.Errorf("failed to touch site %s: %w", siteKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSite, siteKey)
	}
	return nil
}

// Close closes the database
func (p *PostgresSource) Close() error {
	return p.db.Close()
}
