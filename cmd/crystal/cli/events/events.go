// Package events delivers execution lifecycle notifications to registered
// listeners, typically the UI layer of the host application.
package events

import (
	"sync"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
)

// Event names.
const (
	ExecutionStarted   = "execution-started"
	ExecutionCompleted = "execution-completed"
	ExecutionCancelled = "execution-cancelled"
)

// Event is one lifecycle notification. DiffID and Stats are only set on
// completion events.
type Event struct {
	Name              string
	SessionID         string
	ExecutionSequence int
	DiffID            string
	Stats             gitdiff.Stats
}

// Listener receives lifecycle events. Implementations must not block;
// delivery is synchronous on the publishing goroutine.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// HandleEvent calls f.
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Notifier fans events out to subscribed listeners. The zero value is not
// usable; create with NewNotifier. A nil *Notifier is safe to publish to and
// drops all events, so components can treat the notifier as optional.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = l

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Publish delivers the event to all current listeners. Delivery order is not
// guaranteed. Safe on a nil notifier.
func (n *Notifier) Publish(e Event) {
	if n == nil {
		return
	}

	n.mu.RLock()
	listeners := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.RUnlock()

	for _, l := range listeners {
		l.HandleEvent(e)
	}
}
