package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.WithField("component", "renderer").
		Error().
		Err(errors.New("navigation timeout")).
		Str("url", "https://example.com").
		Msg("Render failed")

	out := buf.String()
	assert.Contains(t, out, `"component":"renderer"`)
	assert.Contains(t, out, `"error":"navigation timeout"`)
	assert.Contains(t, out, `"url":"https://example.com"`)
	assert.Contains(t, out, "Render failed")
}

func TestComponentLoggers(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	Init()

	assert.NotNil(t, ForRenderer())
	assert.NotNil(t, ForExtractor())
	assert.NotNil(t, ForRegistry())
	assert.NotNil(t, ForServer())
	assert.NotNil(t, ForWorker())
	assert.NotNil(t, ForPublisher())
	assert.NotNil(t, ForCache())
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
