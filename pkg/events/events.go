// Package events carries the Outbound stream: one event per chat or log line,
// for presentation layers that watch the server without joining the chat.
package events

import (
	"sync"
	"time"
)

// Kind separates chat traffic from server log lines.
type Kind string

const (
	KindChat Kind = "chat"
	KindLog  Kind = "log"
)

// Outbound is one line for a presentation layer.
type Outbound struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Bus fans Outbound events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Outbound
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Outbound),
		now:  time.Now,
	}
}

// Publish stamps and delivers an event to every subscriber.
func (b *Bus) Publish(kind Kind, text string) {
	ev := Outbound{Kind: kind, Text: text, Time: b.now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Chat publishes a chat line.
func (b *Bus) Chat(text string) { b.Publish(KindChat, text) }

// Log publishes a log line.
func (b *Bus) Log(text string) { b.Publish(KindLog, text) }

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Outbound, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Outbound, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
