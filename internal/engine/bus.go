package engine

import (
	"sync"
)

// defaultSubscriberBuffer absorbs bursts from chatty downloads before a
// slow consumer starts losing events.
const defaultSubscriberBuffer = 256

// Bus fans engine messages out to subscribers. Delivery is best-effort:
// events are transient by contract, so a subscriber that cannot keep up
// loses messages instead of stalling the engine.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan any
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan any)}
}

// Subscribe returns a receive channel and a cancel function. Cancel is
// idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan any, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
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

// Publish delivers msg to every subscriber without blocking.
func (b *Bus) Publish(msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
