package events

import (
	"sync"
	"time"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// Event names
const (
	ResourceCreated = "resource-created"
	ResourceUpdated = "resource-updated"
	ResponseCreated = "response-created"
	ResponseUpdated = "response-updated"
	AuthChanged     = "auth-changed"
	RoleChanged     = "role-changed"
)

// Kind says which entity an event is about
type Kind string

const (
	KindResource     Kind = "resource"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindSession      Kind = "session"
)

// Event is the single typed change notification passed through the bus.
// EntityID is the resource, response or user id the event refers to.
type Event struct {
	Name     string
	Kind     Kind
	EntityID string
	Actor    model.Actor
	// Remote is set for events relayed from the store's change feed
	Remote bool
	At     time.Time
}

type Handler func(Event)

type subscription struct {
	name    string // empty matches every event
	handler Handler
}

// Bus is a synchronous fan-out publish/subscribe channel. Handlers run on
// the publishing goroutine, in subscription order, without the bus lock held.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Publish delivers e to every current subscriber of e.Name and to every
// catch-all subscriber. Callers publish only after the write it announces.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == e.Name {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.handler(e)
	}
}

// Subscribe registers h for events named name and returns its unsubscribe
func (b *Bus) Subscribe(name string, h Handler) func() {
	return b.add(&subscription{name: name, handler: h})
}

// SubscribeAll registers h for every event
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add(&subscription{handler: h})
}

func (b *Bus) add(s *subscription) func() {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}
