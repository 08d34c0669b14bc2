package bus

import (
	"context"
	"sync"
)

// MemoryTransport delivers events synchronously to in-process subscribers.
// It backs tests and single-process setups.
type MemoryTransport struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewMemoryTransport returns an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

// Publish passes the event through the wire encoding and hands it to every
// subscriber.
func (t *MemoryTransport) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	decoded, err := Decode(payload)
	if err != nil {
		return err
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]Handler(nil), t.handlers...)
	t.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, decoded); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler.
func (t *MemoryTransport) Subscribe(_ context.Context, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.handlers = append(t.handlers, handler)
	return nil
}

// HealthCheck fails only after Close.
func (t *MemoryTransport) HealthCheck(context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all subscribers.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handlers = nil
	return nil
}
