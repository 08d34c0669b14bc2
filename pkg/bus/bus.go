// Package bus carries refresh events between processes that resolve the same
// configuration. A process publishes a refresh event after changing a backend;
// every listening process addressed by the event re-resolves its environment.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// TypeRefresh is the only event type understood by listeners.
const TypeRefresh = "refresh"

// ContentType is set on every published message.
const ContentType = "application/json"

// ErrClosed is returned by transports after Close.
var ErrClosed = errors.New("bus transport is closed")

// Event is the payload published on the bus.
type Event struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Origin string `json:"origin"`
	// Destination is a service name or a path.Match pattern. Empty addresses
	// every service.
	Destination string    `json:"destination,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRefreshEvent returns a refresh event sent by origin to destination.
func NewRefreshEvent(origin, destination string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        TypeRefresh,
		Origin:      origin,
		Destination: destination,
		Timestamp:   time.Now().UTC(),
	}
}

// AddressedTo reports whether service should act on the event.
func (e Event) AddressedTo(service string) bool {
	if e.Destination == "" || e.Destination == "*" {
		return true
	}
	matched, err := path.Match(e.Destination, service)
	return err == nil && matched
}

// Encode serializes an event for the wire.
func Encode(event Event) ([]byte, error) {
	if event.ID == "" {
		return nil, errors.New("event id is required")
	}
	return json.Marshal(event)
}

// Decode parses an event read from the wire.
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode bus event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, errors.New("decode bus event: id and type are required")
	}
	return event, nil
}

// Handler processes one event. A returned error leaves the message
// unacknowledged where the transport supports redelivery.
type Handler func(ctx context.Context, event Event) error

// Transport moves events over a broker.
type Transport interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe starts delivering events to handler in the background until
	// ctx is done or the transport is closed.
	Subscribe(ctx context.Context, handler Handler) error
	HealthCheck(ctx context.Context) error
	Close() error
}
