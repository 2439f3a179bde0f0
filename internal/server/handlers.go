package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/registry"
	apperrors "sjsage522/slothproxy/pkg/errors"
	"sjsage522/slothproxy/services/cache"
)

// respondError writes the error body for err and aborts the chain
func respondError(c *gin.Context, err error) {
	status, code, detail := apperrors.StatusOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "detail": detail})
}

func (s *Server) health(c *gin.Context) {
	stats := []cache.Stats{}
	if s.deps.CacheStats != nil {
		stats = s.deps.CacheStats()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"t":          time.Now().UnixMilli(),
		"cacheStats": stats,
	})
}

type siteStatus struct {
	SiteKey     string     `json:"siteKey"`
	Label       string     `json:"label"`
	URL         string     `json:"url"`
	Active      bool       `json:"active"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

func (s *Server) status(c *gin.Context) {
	sites, err := s.deps.Registry.Fetch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]siteStatus, 0, len(sites))
	for _, site := range sites {
		out = append(out, siteStatus{
			SiteKey:     site.SiteKey,
			Label:       site.Label,
			URL:         site.URL,
			Active:      site.Active,
			LastUpdated: site.LastUpdated,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sites": out})
}

func (s *Server) snapshot(c *gin.Context) {
	html, err := s.deps.Pipeline.Snapshot(c.Request.Context(), c.Query("url"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) page(c *gin.Context) {
	url := c.Query("url")
	text, err := s.deps.Pipeline.Text(c.Request.Context(), url)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "text": text})
}

func (s *Server) search(c *gin.Context) {
	url, q := c.Query("url"), c.Query("q")
	matches, err := s.deps.Pipeline.Search(c.Request.Context(), url, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "query": q, "matches": matches})
}

type extractRequest struct {
	URL       string          `json:"url"`
	Selectors *extract.Schema `json:"selectors"`
}

func (s *Server) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.ErrorTypeInput, "extract", "invalid request body", err))
		return
	}
	if req.Selectors == nil {
		respondError(c, apperrors.NewInput("extract", "selectors.list is required"))
		return
	}

	items, err := s.deps.Pipeline.Extract(c.Request.Context(), req.URL, *req.Selectors)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": req.URL, "count": len(items), "items": items})
}

func (s *Server) rss(c *gin.Context) {
	f, err := s.deps.Pipeline.Feed(c.Request.Context(), c.Query("site"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", f.XML)
}

func (s *Server) sites(c *gin.Context) {
	all := s.deps.Registry.All()
	if all == nil {
		all = []registry.SiteConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(all), "sites": all})
}

func (s *Server) reloadSites(c *gin.Context) {
	n, err := s.deps.Registry.Reload(c.Request.Context())
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.NewInternal("registry", "reload failed", err)
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": n})
}

// errNoSecret is the cause when no CRON_SECRET is configured
var errNoSecret = errors.New("batch trigger disabled")

func (s *Server) cron(c *gin.Context) {
	if s.cfg.CronSecret == "" {
		respondError(c, apperrors.New(apperrors.ErrorTypeAuth, "cron", "invalid secret", errNoSecret))
		return
	}
	secret := c.Query("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.CronSecret)) != 1 {
		respondError(c, apperrors.NewAuth("cron", "invalid secret"))
		return
	}

	c.JSON(http.StatusOK, s.deps.Batch.RunOnce(c.Request.Context()))
}
