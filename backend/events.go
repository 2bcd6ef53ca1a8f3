package backend

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-storefront-auth/token"
)

// EventType names an auth-state change pushed by a client.
type EventType string

const (
	InitialSession EventType = "INITIAL_SESSION"
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is delivered to auth-state listeners. Bundle is nil for SignedOut.
type Event struct {
	Type   EventType
	Bundle *token.Bundle
}

type Listener func(Event)

// Subscription releases a registered listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Broadcaster fans values out to registered callbacks. Callbacks run on the
// emitting goroutine, outside the broadcaster's lock.
type Broadcaster[T any] struct {
	lock      sync.RWMutex
	listeners map[string]func(T)
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{listeners: make(map[string]func(T))}
}

func (b *Broadcaster[T]) Subscribe(fn func(T)) Subscription {
	id := uuid.New().String()

	b.lock.Lock()
	b.listeners[id] = fn
	b.lock.Unlock()

	return &subscription{release: func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.listeners, id)
	}}
}

func (b *Broadcaster[T]) Emit(v T) {
	b.lock.RLock()
	fns := make([]func(T), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.lock.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster[T]) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.listeners)
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}
