package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"sjsage522/slothproxy/config"
	"sjsage522/slothproxy/helpers"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/logger"
)

const (
	// DefaultUserAgent is a current desktop Chrome
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	// DefaultAcceptLanguage matches the default nl-NL locale
	DefaultAcceptLanguage = "nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7"

	disposeTimeout = 5 * time.Second

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
)

// Viewport is the emulated window size
type Viewport struct {
	Width  int
	Height int
}

// Options configures a RodRenderer
type Options struct {
	// ChromeURL is a remote DevTools endpoint; a local Chromium is launched when empty
	ChromeURL      string
	UserAgent      string
	Locale         string
	AcceptLanguage string
	Viewport       Viewport
	WaitUntil      string
	NavTimeout     time.Duration
	RenderTimeout  time.Duration
	Settle         time.Duration
	Humanize       bool
	Evasion        bool
	Consent        []ConsentMatcher
}

// OptionsFromConfig derives renderer options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		ChromeURL:      cfg.ChromeURL,
		UserAgent:      DefaultUserAgent,
		Locale:         cfg.Locale,
		AcceptLanguage: DefaultAcceptLanguage,
		Viewport:       Viewport{Width: 1366, Height: 768},
		WaitUntil:      cfg.WaitUntil,
		NavTimeout:     cfg.NavTimeout(),
		RenderTimeout:  cfg.RenderTimeout(),
		Settle:         cfg.Settle(),
		Humanize:       cfg.Humanize,
		Evasion:        cfg.Evasion,
		Consent:        DefaultConsentMatchers,
	}
	if cfg.Locale != "" && cfg.Locale != "nl-NL" {
		opts.AcceptLanguage = cfg.Locale + ",en;q=0.8"
	}
	return opts
}

// RodRenderer renders pages in a fresh incognito context per call. The browser
// process is shared and connected on first use.
type RodRenderer struct {
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodRenderer creates a renderer; no browser is started until the first render
func NewRodRenderer(opts Options, log *logger.Logger, m *metrics.Metrics) *RodRenderer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = DefaultAcceptLanguage
	}
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: 1366, Height: 768}
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 25 * time.Second
	}
	if opts.RenderTimeout < opts.NavTimeout {
		opts.RenderTimeout = opts.NavTimeout + 20*time.Second
	}
	return &RodRenderer{opts: opts, log: log, metrics: m}
}

// Render loads url and returns the document HTML after the settle delay
func (r *RodRenderer) Render(ctx context.Context, url string) (string, error) {
	if _, err := helpers.ParseTargetURL(url); err != nil {
		return "", newRenderError(url, err)
	}
	r.metrics.RenderAttempt()

	ctx, cancel := context.WithTimeout(ctx, r.opts.RenderTimeout)
	defer cancel()

	browser, err := r.connect()
	if err != nil {
		return "", newRenderError(url, err)
	}

	// Pages, mice and elements created from a context-bound browser all carry
	// the render deadline, including input events that wait on the page.
	incognito, err := browser.Context(ctx).Incognito()
	if err != nil {
		if ctx.Err() == nil {
			r.reset(browser)
		}
		return "", newRenderError(url, fmt.Errorf("failed to open browser context: %w", err))
	}
	defer r.dispose(incognito)

	p, err := r.newPage(incognito)
	if err != nil {
		return "", newRenderError(url, fmt.Errorf("failed to create page: %w", err))
	}

	if err := r.prepare(p); err != nil {
		return "", newRenderError(url, fmt.Errorf("failed to prepare page: %w", err))
	}

	start := time.Now()
	if err := r.navigate(ctx, p, url); err != nil {
		return "", newRenderError(url, err)
	}

	if r.opts.Humanize {
		r.humanize(ctx, p)
	}

	if len(r.opts.Consent) > 0 {
		outcome := dismissConsent(ctx, r.opts.Consent, r.consentClicker(p))
		r.metrics.Consent(outcome.Matched)
		r.log.Debug().
			Str("url", url).
			Int("attempts", outcome.Attempts).
			Str("matched", outcome.Matched).
			Dur("elapsed", outcome.Elapsed).
			Msg("Consent dismissal finished")
	}

	if r.opts.Settle > 0 {
		timer := time.NewTimer(r.opts.Settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", newRenderError(url, ctx.Err())
		}
	}

	html, err := p.HTML()
	if err != nil {
		return "", newRenderError(url, fmt.Errorf("failed to serialize document: %w", err))
	}

	r.log.Debug().
		Str("url", url).
		Int("bytes", len(html)).
		Dur("took", time.Since(start)).
		Msg("Page rendered")

	return html, nil
}

// Close shuts down the browser and, when launched locally, its process
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher.Cleanup()
		r.launcher = nil
	}
	return err
}

// dispose closes the incognito context and its pages. It runs on its own
// deadline since the render context may already be done.
func (r *RodRenderer) dispose(incognito *rod.Browser) {
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if err := incognito.Context(ctx).Close(); err != nil {
		r.log.Debug().Err(err).Msg("Failed to dispose browser context")
	}
}

// connect returns the shared browser, starting or dialing it when needed
func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	var l *launcher.Launcher
	controlURL := r.opts.ChromeURL
	if controlURL != "" {
		u, err := launcher.ResolveURL(controlURL)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %v", ErrUnavailable, controlURL, err)
		}
		controlURL = u
	} else {
		bin, ok := launcher.LookPath()
		if !ok {
			return nil, fmt.Errorf("%w: no chromium binary found", ErrUnavailable)
		}
		l = launcher.New().
			Bin(bin).
			Headless(true).
			NoSandbox(true).
			Set("disable-dev-shm-usage")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch: %v", ErrUnavailable, err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	r.browser = browser
	r.launcher = l

	r.log.Info().
		Bool("remote", l == nil).
		Bool("evasion", r.opts.Evasion).
		Msg("Browser connected")

	return browser, nil
}

// reset drops a browser that stopped answering so the next call reconnects
func (r *RodRenderer) reset(stale *rod.Browser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != stale {
		return
	}
	_ = r.browser.Close()
	r.browser = nil
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher = nil
	}
	r.log.Warn().Msg("Browser connection reset")
}

func (r *RodRenderer) newPage(b *rod.Browser) (*rod.Page, error) {
	if r.opts.Evasion {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{})
}

// prepare applies user agent, locale, viewport and headers
func (r *RodRenderer) prepare(p *rod.Page) error {
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      r.opts.UserAgent,
		AcceptLanguage: r.opts.AcceptLanguage,
	}); err != nil {
		return err
	}

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.opts.Viewport.Width,
		Height:            r.opts.Viewport.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return err
	}

	if r.opts.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: r.opts.Locale}).Call(p); err != nil {
			return err
		}
	}

	_, err := p.SetExtraHeaders([]string{
		"Accept", acceptHeader,
		"Cache-Control", "no-cache",
		"Pragma", "no-cache",
	})
	return err
}

// navigate loads url and waits for the configured lifecycle event
func (r *RodRenderer) navigate(ctx context.Context, p *rod.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavTimeout)
	defer cancel()

	nav := p.Context(navCtx)
	wait := nav.WaitNavigation(lifecycleEvent(r.opts.WaitUntil))

	if err := nav.Navigate(url); err != nil {
		return navigationError(ctx, navCtx, err)
	}
	wait()

	if err := navCtx.Err(); err != nil {
		return navigationError(ctx, navCtx, err)
	}
	return nil
}

// navigationError separates the navigation deadline from the caller's own
func navigationError(parent, navCtx context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}

func lifecycleEvent(waitUntil string) proto.PageLifecycleEventName {
	switch waitUntil {
	case config.WaitLoad:
		return proto.PageLifecycleEventNameLoad
	case config.WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameDOMContentLoaded
	}
}

// humanize moves the pointer and scrolls a little; errors are ignored
func (r *RodRenderer) humanize(ctx context.Context, page *rod.Page) {
	w := float64(r.opts.Viewport.Width)
	h := float64(r.opts.Viewport.Height)

	steps := []func() error{
		func() error { return page.Mouse.MoveLinear(proto.NewPoint(w*0.3, h*0.4), 6) },
		func() error { return page.Mouse.MoveLinear(proto.NewPoint(w*0.6, h*0.55), 8) },
		func() error { return page.Mouse.Scroll(0, h/2, 4) },
		func() error { return page.Mouse.Scroll(0, -h/4, 2) },
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			return
		}
		if err := step(); err != nil {
			r.log.Debug().Err(err).Msg("Humanize step failed")
			return
		}
	}
}

// consentClicker looks up and clicks a matcher's element on p
func (r *RodRenderer) consentClicker(p *rod.Page) consentClicker {
	return func(ctx context.Context, m ConsentMatcher) error {
		mp := p.Context(ctx)

		var (
			found bool
			el    *rod.Element
			err   error
		)
		if m.Text != "" {
			found, el, err = mp.HasR(m.Selector, m.Text)
		} else {
			found, el, err = mp.Has(m.Selector)
		}
		if err != nil {
			return err
		}
		if !found {
			return errNoMatch
		}
		// DOM click, bounded by the matcher timeout
		_, err = el.Context(ctx).Eval(`() => this.click()`)
		return err
	}
}
