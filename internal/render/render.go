// Package render turns a URL into fully loaded HTML through a scripted browser.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"sjsage522/slothproxy/helpers"
	apperrors "sjsage522/slothproxy/pkg/errors"
)

// Renderer produces the document HTML of a URL
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, url string) (string, error)

// Render calls f
func (f RendererFunc) Render(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

var (
	// ErrUnavailable means no browser could be launched or reached
	ErrUnavailable = errors.New("browser unavailable")
	// ErrNavigationTimeout means the page did not reach the wait event in time
	ErrNavigationTimeout = errors.New("navigation timeout")
)

// permanent navigation failures reported by Chromium
var permanentReasons = []string{
	"ERR_NAME_NOT_RESOLVED",
	"ERR_NAME_RESOLUTION_FAILED",
	"ERR_INVALID_URL",
	"ERR_UNKNOWN_URL_SCHEME",
	"ERR_DISALLOWED_URL_SCHEME",
}

// RenderError is the failure of a single render call
type RenderError struct {
	URL       string
	Cause     error
	Permanent bool
}

// Error implements the error interface
func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.URL, e.Cause)
}

// Unwrap returns the cause
func (e *RenderError) Unwrap() error {
	return e.Cause
}

// newRenderError classifies cause and wraps it
func newRenderError(url string, cause error) *RenderError {
	return &RenderError{URL: url, Cause: cause, Permanent: isPermanent(cause)}
}

// isPermanent reports whether retrying cause cannot change the outcome
func isPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, helpers.ErrInvalidURL),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, context.Canceled):
		return true
	}

	var nav *rod.NavigationError
	if errors.As(err, &nav) {
		for _, reason := range permanentReasons {
			if strings.Contains(nav.Reason, reason) {
				return true
			}
		}
	}
	return false
}

// IsPermanent reports whether err is a render failure that must not be retried
func IsPermanent(err error) bool {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Permanent
	}
	return isPermanent(err)
}

// AsPipelineError maps a render failure onto the pipeline error taxonomy
func AsPipelineError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, helpers.ErrInvalidURL):
		return apperrors.New(apperrors.ErrorTypeInput, "snapshot", "invalid url", err)
	case errors.Is(err, ErrUnavailable):
		return apperrors.NewUnavailable("snapshot", "renderer unavailable", err)
	default:
		return apperrors.NewUpstream("snapshot", "render failed", err)
	}
}
