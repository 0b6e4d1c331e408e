package scene

import (
	"sync"

	"github.com/emmanuelquintana/christmas/domain/events"
)

// Bus fans scene events out to subscribers without ever blocking the
// publisher. When a subscriber's buffer is full, flight frames are skipped
// for it; any other event closes its channel and drops the subscription.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]chan events.DomainEvent
	held   map[uint64]chan events.DomainEvent // reserved, not yet attached
	seq    uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]chan events.DomainEvent),
		held: make(map[uint64]chan events.DomainEvent),
	}
}

// Subscribe registers a subscriber with the given buffer size. The channel is
// closed when the subscription is cancelled, dropped, or the bus closes.
func (b *Bus) Subscribe(buffer int) (<-chan events.DomainEvent, func()) {
	id, ch, cancel := b.reserve(buffer)
	b.attach(id, nil)
	return ch, cancel
}

// reserve creates a subscription that receives nothing until attach.
func (b *Bus) reserve(buffer int) (uint64, <-chan events.DomainEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan events.DomainEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return 0, ch, func() {}
	}

	b.seq++
	id := b.seq
	b.held[id] = ch
	return id, ch, func() { b.unsubscribe(id) }
}

// attach starts delivery to a reserved subscription. A non-nil first is
// delivered before any later event.
func (b *Bus) attach(id uint64, first events.DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.held[id]
	if !ok {
		return
	}
	delete(b.held, id)
	b.subs[id] = ch
	if first != nil {
		b.offer(id, ch, first)
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	if ch, ok := b.held[id]; ok {
		delete(b.held, id)
		close(ch)
	}
}

// Publish delivers e to every subscriber. It returns the number of
// subscriptions dropped because they fell behind.
func (b *Bus) Publish(e events.DomainEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for id, ch := range b.subs {
		if !b.offer(id, ch, e) {
			dropped++
		}
	}
	return dropped
}

// offer must be called with mu held.
func (b *Bus) offer(id uint64, ch chan events.DomainEvent, e events.DomainEvent) bool {
	select {
	case ch <- e:
		return true
	default:
	}
	if _, frame := e.(events.FlightFrame); frame {
		return true
	}
	delete(b.subs, id)
	close(ch)
	return false
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later subscribers get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	for id, ch := range b.held {
		delete(b.held, id)
		close(ch)
	}
}
