package events

import (
	"sync"
	"time"
)

type Kind string

const (
	KindOperationCommitted Kind = "operation_committed"
	KindRosterChanged      Kind = "roster_changed"
	KindSettingsPropagated Kind = "settings_propagated"
	KindSettingsConflict   Kind = "settings_conflict"
	KindSettingsResolved   Kind = "settings_resolved"
)

// Event is one committed fact fanned out to in-process listeners.
// SessionID is set for session-scoped kinds, SettingType/EntityID for
// settings-scoped kinds.
type Event struct {
	Kind        Kind
	SessionID   string
	SettingType string
	EntityID    string
	ActorID     string
	DeviceID    string
	Payload     any
	OccurredAt  time.Time
}

type Handler func(Event)

type subscriber struct {
	id uint64
	fn Handler
}

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent and safe to call after Shutdown.
type Subscription struct {
	gateway  *Gateway
	id       uint64
	kind     Kind
	wildcard bool
	once     sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.gateway.remove(s)
	})
}

// Gateway dispatches events to listeners registered for a specific kind
// plus a separate wildcard list. Delivery is synchronous and ordered by
// registration: kind-specific listeners first, wildcard listeners after.
// Cross-machine delivery is the transport's job, not the gateway's.
type Gateway struct {
	mu       sync.RWMutex
	nextID   uint64
	byKind   map[Kind][]*subscriber
	wildcard []*subscriber
	closed   bool
}

func NewGateway() *Gateway {
	return &Gateway{
		byKind: make(map[Kind][]*subscriber),
	}
}

// Subscribe registers a handler for one event kind.
func (g *Gateway) Subscribe(kind Kind, fn Handler) *Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()

	sub := &Subscription{gateway: g, kind: kind}
	if g.closed {
		return sub
	}

	g.nextID++
	sub.id = g.nextID
	g.byKind[kind] = append(g.byKind[kind], &subscriber{id: sub.id, fn: fn})

	return sub
}

// SubscribeAll registers a wildcard handler invoked for every kind.
func (g *Gateway) SubscribeAll(fn Handler) *Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()

	sub := &Subscription{gateway: g, wildcard: true}
	if g.closed {
		return sub
	}

	g.nextID++
	sub.id = g.nextID
	g.wildcard = append(g.wildcard, &subscriber{id: sub.id, fn: fn})

	return sub
}

// Publish delivers the event synchronously to matching listeners.
// Handlers run outside the gateway lock so they may subscribe or
// unsubscribe without deadlocking.
func (g *Gateway) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(g.byKind[ev.Kind])+len(g.wildcard))
	targets = append(targets, g.byKind[ev.Kind]...)
	targets = append(targets, g.wildcard...)
	g.mu.RUnlock()

	for _, sub := range targets {
		sub.fn(ev)
	}
}

func (g *Gateway) remove(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sub.wildcard {
		g.wildcard = dropSubscriber(g.wildcard, sub.id)
		return
	}

	g.byKind[sub.kind] = dropSubscriber(g.byKind[sub.kind], sub.id)
	if len(g.byKind[sub.kind]) == 0 {
		delete(g.byKind, sub.kind)
	}
}

func dropSubscriber(subs []*subscriber, id uint64) []*subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Shutdown releases every subscription. Publishing or subscribing after
// shutdown is a no-op.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.byKind = make(map[Kind][]*subscriber)
	g.wildcard = nil
	g.closed = true
}
