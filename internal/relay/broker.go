// Package relay fans coordinator events out to SSE observers on the admin
// API. It taps every router broadcast; it is an operator surface, not part
// of the extension-facing listener registry.
package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/types"
)

const subscriberBufSize = 256

// Event is one router event seen by the tap.
type Event struct {
	Session string
	Name    string
	Payload string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

// NewBroker creates an SSE event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Tap returns a router.EventTap publishing every event of one session into
// the broker. Installed on each router at session setup.
func (b *Broker) Tap(session types.SessionID) router.EventTap {
	return func(event string, _ types.ExtensionID, args []any) {
		payload, err := json.Marshal(args)
		if err != nil {
			return
		}
		b.Publish(Event{Session: string(session), Name: event, Payload: string(payload)})
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Non-blocking: slow clients
// have events dropped.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
