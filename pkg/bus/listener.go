package bus

import (
	"context"
	"sync"

	"github.com/nimburion/configdata/pkg/observability/logger"
)

const recentEvents = 256

// Listener turns bus events into refresh triggers for one process. It drops
// events addressed to other services, events sent by this instance, and
// redeliveries of an event it has already accepted.
type Listener struct {
	transport Transport
	service   string
	instance  string
	log       logger.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	order  []string
	events chan Event
}

// NewListener returns a listener for service, identified on the bus as instance.
func NewListener(transport Transport, service, instance string, log logger.Logger) *Listener {
	return &Listener{
		transport: transport,
		service:   service,
		instance:  instance,
		log:       log,
		seen:      make(map[string]struct{}, recentEvents),
		events:    make(chan Event, 1),
	}
}

// Listen subscribes to the transport and returns the channel of accepted
// refresh events. Events arriving while one is pending are coalesced into it.
func (l *Listener) Listen(ctx context.Context) (<-chan Event, error) {
	if err := l.transport.Subscribe(ctx, l.handle); err != nil {
		return nil, err
	}
	l.log.Info("listening for refresh events", "service", l.service, "instance", l.instance)
	return l.events, nil
}

func (l *Listener) handle(_ context.Context, event Event) error {
	if event.Type != TypeRefresh {
		l.log.Debug("ignoring bus event", "event_id", event.ID, "type", event.Type)
		return nil
	}
	if event.Origin == l.instance || !event.AddressedTo(l.service) {
		return nil
	}
	if !l.remember(event.ID) {
		l.log.Debug("duplicate bus event", "event_id", event.ID)
		return nil
	}

	select {
	case l.events <- event:
	default:
		l.log.Debug("refresh already pending, coalescing", "event_id", event.ID)
	}
	return nil
}

// remember records id and reports whether it was new. Only the most recent
// ids are kept.
func (l *Listener) remember(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return false
	}
	if len(l.order) == recentEvents {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	return true
}
