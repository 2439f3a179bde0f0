package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    *PipelineError
		status int
	}{
		{NewInput("snapshot", "missing url"), http.StatusBadRequest},
		{NewNotFound("feed", "unknown site"), http.StatusNotFound},
		{NewUpstream("snapshot", "render failed", stderrors.New("timeout")), http.StatusBadGateway},
		{NewUnavailable("snapshot", "no browser", nil), http.StatusServiceUnavailable},
		{NewAuth("cron", "secret mismatch"), http.StatusUnauthorized},
		{NewRateLimit("server", time.Minute), http.StatusTooManyRequests},
		{NewInternal("extract", "boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status())
		})
	}
}

func TestStatusOfWrapped(t *testing.T) {
	cause := stderrors.New("net::ERR_CONNECTION_REFUSED")
	err := fmt.Errorf("rss: %w", NewUpstream("snapshot", "render failed", cause))

	status, code, detail := StatusOf(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "snapshot_upstream", code)
	assert.Equal(t, "render failed: net::ERR_CONNECTION_REFUSED", detail)
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsType(err, ErrorTypeUpstream))
	assert.False(t, IsType(err, ErrorTypeInput))
}

func TestStatusOfUntyped(t *testing.T) {
	status, code, detail := StatusOf(stderrors.New("surprise"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)
	assert.Equal(t, "surprise", detail)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "[input] extract: selectors.list is required", NewInput("extract", "selectors.list is required").Error())
	assert.Equal(t, "[upstream] snapshot: render failed - eof",
		NewUpstream("snapshot", "render failed", stderrors.New("eof")).Error())
}
