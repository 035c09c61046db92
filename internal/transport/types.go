package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Channel names an inbound transport.
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelRealtime Channel = "realtime"
)

// RawEvent is a provider event before normalization.
//
// Name is the realtime event name; push envelopes leave it empty.
// Payload is kept verbatim so it can be re-derived later.
type RawEvent struct {
	Channel    Channel
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Adapter feeds RawEvents into out until ctx is canceled or Stop is called.
// Start must not block.
type Adapter interface {
	Start(ctx context.Context, out chan<- RawEvent) error
	Stop(ctx context.Context) error
}
