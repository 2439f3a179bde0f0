package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/internal/pipeline"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/logger"
	apperrors "sjsage522/slothproxy/pkg/errors"
	"sjsage522/slothproxy/services/publisher"
)

// Sites lists the sites to build and records successful builds
type Sites interface {
	ListActive() []registry.SiteConfig
	Touch(ctx context.Context, siteKey string) error
}

// FeedBuilder builds the feed of one site
type FeedBuilder interface {
	Feed(ctx context.Context, siteKey string) (*pipeline.Feed, error)
}

// Outcome is the result of one site in a batch run
type Outcome struct {
	SiteKey string `json:"siteKey"`
	URL     string `json:"url"`
	OK      bool   `json:"ok"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the result of a whole batch run
type Result struct {
	Updated time.Time `json:"updated"`
	Total   int       `json:"total"`
	OK      int       `json:"ok"`
	Results []Outcome `json:"results"`
}

// Worker builds the feeds of all active sites
type Worker struct {
	sites       Sites
	feeds       FeedBuilder
	publisher   publisher.Publisher
	concurrency int
	now         func() time.Time
	running     atomic.Bool
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// NewWorker creates a new worker
func NewWorker(
	sites Sites,
	feeds FeedBuilder,
	pub publisher.Publisher,
	concurrency int,
	log *logger.Logger,
	m *metrics.Metrics,
) *Worker {
	if pub == nil {
		pub = publisher.NopPublisher{}
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		sites:       sites,
		feeds:       feeds,
		publisher:   pub,
		concurrency: concurrency,
		now:         time.Now,
		log:         log,
		metrics:     m,
	}
}

// RunOnce builds every active site. A failing site never stops the others;
// outcomes keep registry order.
func (w *Worker) RunOnce(ctx context.Context) Result {
	start := time.Now()
	sites := w.sites.ListActive()
	outcomes := make([]Outcome, len(sites))

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)

	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			outcomes[i] = w.buildSite(ctx, site)
			return nil
		})
	}
	_ = g.Wait()

	if err := w.publisher.TrimStreams(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to trim build event stream")
	}

	res := Result{Updated: w.now().UTC(), Total: len(sites), Results: outcomes}
	for _, o := range outcomes {
		if o.OK {
			res.OK++
		}
	}

	w.metrics.BatchFinished(time.Since(start))
	w.log.Info().
		Int("total", res.Total).
		Int("ok", res.OK).
		Dur("took", time.Since(start)).
		Msg("Batch finished")

	return res
}

// buildSite builds, touches and announces one site
func (w *Worker) buildSite(ctx context.Context, site registry.SiteConfig) Outcome {
	out := Outcome{SiteKey: site.SiteKey, URL: site.URL}

	err := func() error {
		f, err := w.feeds.Feed(ctx, site.SiteKey)
		if err != nil {
			return err
		}
		out.Count = f.Count

		if err := w.sites.Touch(ctx, site.SiteKey); err != nil {
			return fmt.Errorf("touch: %w", err)
		}

		event := publisher.BuildEvent{
			SiteKey: site.SiteKey,
			URL:     site.URL,
			Count:   f.Count,
			BuiltAt: w.now().UTC(),
		}
		perr := w.publisher.Publish(ctx, event)
		w.metrics.EventPublished(perr)
		if perr != nil {
			return fmt.Errorf("publish: %w", perr)
		}
		return nil
	}()

	w.metrics.BatchSite(err)
	if err != nil {
		out.Count = 0
		out.Error = detail(err)
		w.log.Error().
			Err(err).
			Str("site", site.SiteKey).
			Msg("Site build failed")
		return out
	}

	out.OK = true
	w.log.Debug().
		Str("site", site.SiteKey).
		Int("items", out.Count).
		Msg("Site built")
	return out
}

func detail(err error) string {
	if pe, ok := apperrors.As(err); ok {
		return pe.Detail()
	}
	return err.Error()
}

// Schedule runs the batch on spec until ctx is done. Runs never overlap; a
// tick that fires while a batch is running is skipped.
func (w *Worker) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cronLogger{log: w.log}))
	_, err := c.AddFunc(spec, func() {
		if !w.running.CompareAndSwap(false, true) {
			w.log.Warn().Msg("Previous batch still running, skipping tick")
			return
		}
		defer w.running.Store(false)
		w.RunOnce(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	w.log.Info().Str("schedule", spec).Msg("Batch schedule started")
	return c, nil
}

// cronLogger routes cron's logging into zerolog
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
