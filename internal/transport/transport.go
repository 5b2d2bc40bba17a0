// Package transport is the real-time channel layer: a persistent socket that
// carries named events on named per-room channels. Consumers only see the
// Transport and Channel interfaces; the backend wiring stays opaque.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Event names delivered on room channels.
const (
	EventMessageSent     = "message.sent"
	EventMessageUpdated  = "message.updated"
	EventMessageDeleted  = "message.deleted"
	EventReactionAdded   = "reaction.added"
	EventReactionRemoved = "reaction.removed"
	EventUserTyping      = "user.typing"
)

// Control events used by the wire protocol itself.
const (
	eventSubscribed      = "subscription_succeeded"
	eventSubscribeFailed = "subscription_error"
)

// ErrNotConnected is returned when a channel operation is attempted before
// Connect succeeded (or after Disconnect).
var ErrNotConnected = errors.New("transport: not connected")

// Transport is the persistent connection. Implementations must be safe for
// use from multiple goroutines.
type Transport interface {
	// Connect establishes the connection. It blocks until the socket is up
	// or the attempt failed.
	Connect(ctx context.Context) error
	// JoinPrivateChannel subscribes to a named channel and returns its
	// handle. bind, when non-nil, runs on the handle before the subscribe
	// request is sent; handlers registered there cannot miss the ack.
	JoinPrivateChannel(name string, bind func(Channel)) (Channel, error)
	// LeaveChannel unsubscribes. Leaving an unknown channel is a no-op.
	LeaveChannel(name string)
	// Disconnect tears the connection down. Idempotent.
	Disconnect()
}

// Channel is a single named subscription.
type Channel interface {
	Name() string
	// Listen registers the callback for an event name. Callbacks run on the
	// transport's read loop, one at a time.
	Listen(event string, fn func(payload json.RawMessage))
	// Subscribed registers a callback fired once the server acks the join.
	Subscribed(fn func())
	// Error registers a callback for subscription failures.
	Error(fn func(err error))
	// Publish sends a client-originated event on this channel.
	Publish(event string, payload any) error
}

// frame is the wire format, both directions.
type frame struct {
	Action  string          `json:"action,omitempty"` // subscribe | unsubscribe | event
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
