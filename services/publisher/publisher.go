package publisher

import (
	"context"
	"time"
)

// BuildEvent announces a freshly built site feed
type BuildEvent struct {
	SiteKey string    `json:"siteKey"`
	URL     string    `json:"url"`
	Count   int       `json:"count"`
	BuiltAt time.Time `json:"builtAt"`
}

// Publisher represents a service for publishing build events
type Publisher interface {
	// Publish publishes an event to the stream
	Publish(ctx context.Context, event BuildEvent) error

	// TrimStreams trims the stream to the configured maximum length
	TrimStreams(ctx context.Context) error

	// Close closes the publisher connection
	Close() error
}

// NopPublisher drops every event; used when no stream is configured
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, BuildEvent) error { return nil }

// TrimStreams implements Publisher
func (NopPublisher) TrimStreams(context.Context) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }
