package notifier

import (
	"context"
	"time"
)

// Config controls the dispatcher.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Message is one system notification.
type Message struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Category string            `json:"category"`
	URI      string            `json:"uri,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Poster is the OS notification surface.
type Poster interface {
	Post(ctx context.Context, m Message) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, m Message) error

func (f PosterFunc) Post(ctx context.Context, m Message) error { return f(ctx, m) }

type HistoryItem struct {
	At    time.Time
	ID    string
	Title string
}

// Event is published on the bus for dispatcher lifecycle events.
type Event struct {
	ID    string    `json:"id"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Bus event types.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
	EventDeduped = "notifier.deduped"
)
