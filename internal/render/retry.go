package render

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/logger"
)

// RetryPolicy bounds the attempts of a render
type RetryPolicy struct {
	Retries  int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy allows two retries between 500ms and 1500ms
var DefaultRetryPolicy = RetryPolicy{Retries: 2, MinDelay: 500 * time.Millisecond, MaxDelay: 1500 * time.Millisecond}

// Retrying retries transient render failures with exponential backoff
type Retrying struct {
	next    Renderer
	policy  RetryPolicy
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewRetrying wraps next with policy
func NewRetrying(next Renderer, policy RetryPolicy, log *logger.Logger, m *metrics.Metrics) *Retrying {
	if log == nil {
		log = logger.Nop()
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = policy.MinDelay
	}
	return &Retrying{next: next, policy: policy, log: log, metrics: m}
}

// backOff doubles from MinDelay up to MaxDelay without jitter
func (r *Retrying) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.MinDelay
	b.Multiplier = 2
	b.MaxInterval = r.policy.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.Retries)), ctx)
}

// Render calls the wrapped renderer until it succeeds, fails permanently, or
// the attempt budget is spent. The last error is returned unchanged.
func (r *Retrying) Render(ctx context.Context, url string) (string, error) {
	var (
		html     string
		lastErr  error
		attempts int
	)
	start := time.Now()

	op := func() error {
		attempts++
		out, err := r.next.Render(ctx, url)
		if err == nil {
			html = out
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.log.Warn().
			Err(err).
			Str("url", url).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Render failed, retrying")
	}

	err := backoff.RetryNotify(op, r.backOff(ctx), notify)
	if err != nil {
		r.metrics.ObserveRender("error", time.Since(start))
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}

	r.metrics.ObserveRender("ok", time.Since(start))
	if attempts > 1 {
		r.log.Info().Str("url", url).Int("attempts", attempts).Msg("Render succeeded after retry")
	}
	return html, nil
}
