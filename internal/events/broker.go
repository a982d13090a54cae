package events

import (
	"sync"

	"homeraAi/internal/pipeline"
)

// Event is a pipeline log entry addressed to one session.
type Event struct {
	SessionKey string                     `json:"-"`
	Log        pipeline.TransformationLog `json:"log"`
}

// Broker manages SSE subscribers keyed by session.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
}

// NewBroker constructs a broker instance.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe returns a channel that receives events for sessionKey.
func (b *Broker) Subscribe(sessionKey string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = sessionKey
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the broker.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish fans the event out to subscribers of its session.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	for ch, key := range b.subscribers {
		if key != evt.SessionKey {
			continue
		}
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
}

// PublishLog implements pipeline.LogSink.
func (b *Broker) PublishLog(sessionKey string, entry pipeline.TransformationLog) {
	b.Publish(Event{SessionKey: sessionKey, Log: entry})
}
