package configdata

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// mapBackend serves payloads keyed by path. Paths listed in failures return
// that error; unknown paths return ErrNotFound.
type mapBackend struct {
	mu       sync.Mutex
	payloads map[string]map[string]any
	failures map[string]error
	delay    time.Duration
	calls    atomic.Int32
}

func newMapBackend(payloads map[string]map[string]any) *mapBackend {
	return &mapBackend{payloads: payloads, failures: map[string]error{}}
}

func (b *mapBackend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failures[path]; ok {
		return nil, err
	}
	payload, ok := b.payloads[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return payload, nil
}

func (b *mapBackend) set(path string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[path] = payload
}

func (b *mapBackend) fail(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = err
}

type fetchEvent struct {
	scheme  string
	outcome string
}

type resolutionEvent struct {
	kind       string
	outcome    string
	properties int
}

type recordingObserver struct {
	mu          sync.Mutex
	fetches     []fetchEvent
	resolutions []resolutionEvent
}

func (o *recordingObserver) FetchCompleted(scheme, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, fetchEvent{scheme: scheme, outcome: outcome})
}

func (o *recordingObserver) ResolutionCompleted(kind, outcome string, properties int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolutions = append(o.resolutions, resolutionEvent{kind: kind, outcome: outcome, properties: properties})
}

func (o *recordingObserver) outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.fetches))
	for _, event := range o.fetches {
		out = append(out, event.outcome)
	}
	return out
}
