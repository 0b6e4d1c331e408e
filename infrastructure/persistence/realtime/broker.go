// Package realtime fans inserted wishes out to subscribers of a namespace.
package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Metrics receives subscriber lifecycle counts.
type Metrics interface {
	SubscriberAdded()
	SubscriberRemoved()
	SubscriberDropped()
}

type nopMetrics struct{}

func (nopMetrics) SubscriberAdded()   {}
func (nopMetrics) SubscriberRemoved() {}
func (nopMetrics) SubscriberDropped() {}

type subscriber struct {
	queue  chan entities.Wish
	done   chan struct{}
	once   sync.Once
	onDrop func()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run(onInsert func(entities.Wish)) {
	for {
		select {
		case <-s.done:
			return
		case w := <-s.queue:
			// A cancel racing with a queued wish wins.
			select {
			case <-s.done:
				return
			default:
			}
			onInsert(w)
		}
	}
}

// Broker is an in-process ports.InsertBroker. Each subscriber gets its own
// queue and goroutine, so a slow callback never blocks Publish.
type Broker struct {
	mu         sync.Mutex
	namespaces map[string]map[uint64]*subscriber
	seq        uint64
	buffer     int

	logger  *zap.Logger
	metrics Metrics
}

// NewBroker creates a broker. buffer <= 0 selects DefaultBuffer and a nil
// metrics disables counting.
func NewBroker(buffer int, logger *zap.Logger, metrics Metrics) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Broker{
		namespaces: make(map[string]map[uint64]*subscriber),
		buffer:     buffer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Subscribe registers onInsert for username until the returned cancel runs.
// onDrop, which may be nil, runs on its own goroutine if the subscriber is
// dropped for falling behind.
func (b *Broker) Subscribe(username string, onInsert func(entities.Wish), onDrop func()) ports.CancelFunc {
	sub := &subscriber{
		queue:  make(chan entities.Wish, b.buffer),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	subs, ok := b.namespaces[username]
	if !ok {
		subs = make(map[uint64]*subscriber)
		b.namespaces[username] = subs
	}
	subs[id] = sub
	b.mu.Unlock()

	b.metrics.SubscriberAdded()
	go sub.run(onInsert)

	return func() {
		if b.remove(username, id) {
			b.metrics.SubscriberRemoved()
		}
	}
}

// Publish queues wish for every subscriber of username. Subscribers whose
// queue is full are dropped and told so through their onDrop hook.
func (b *Broker) Publish(username string, wish entities.Wish) {
	var dropped []*subscriber

	b.mu.Lock()
	for id, sub := range b.namespaces[username] {
		select {
		case sub.queue <- wish:
		default:
			b.removeLocked(username, id)
			b.metrics.SubscriberDropped()
			b.logger.Warn("Dropping slow realtime subscriber",
				zap.String("username", username),
				zap.Uint64("subscriber", id))
			dropped = append(dropped, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		if sub.onDrop != nil {
			go sub.onDrop()
		}
	}
}

// Subscribers returns the subscriber count of username.
func (b *Broker) Subscribers(username string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.namespaces[username])
}

// Namespaces returns how many namespaces have at least one subscriber.
func (b *Broker) Namespaces() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.namespaces)
}

func (b *Broker) remove(username string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(username, id)
}

func (b *Broker) removeLocked(username string, id uint64) bool {
	subs, ok := b.namespaces[username]
	if !ok {
		return false
	}
	sub, ok := subs[id]
	if !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.namespaces, username)
	}
	sub.stop()
	return true
}
