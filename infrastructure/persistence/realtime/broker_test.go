package realtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
)

type countingMetrics struct {
	added, removed, dropped atomic.Int32
}

func (m *countingMetrics) SubscriberAdded()   { m.added.Add(1) }
func (m *countingMetrics) SubscriberRemoved() { m.removed.Add(1) }
func (m *countingMetrics) SubscriberDropped() { m.dropped.Add(1) }

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) add(w entities.Wish) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, w.ID)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestBroker_DeliversToNamespaceOnly(t *testing.T) {
	b := NewBroker(0, zap.NewNop(), nil)
	var ana, luis recorder

	cancelAna := b.Subscribe("ana", ana.add, nil)
	defer cancelAna()
	cancelLuis := b.Subscribe("luis", luis.add, nil)
	defer cancelLuis()

	b.Publish("ana", entities.Wish{ID: "1"})
	b.Publish("ana", entities.Wish{ID: "2"})

	assert.Eventually(t, func() bool { return len(ana.got()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2"}, ana.got())
	assert.Empty(t, luis.got())
}

func TestBroker_CancelStopsDeliveryAndReclaims(t *testing.T) {
	m := &countingMetrics{}
	b := NewBroker(4, zap.NewNop(), m)
	var r recorder

	cancel := b.Subscribe("ana", r.add, nil)
	assert.Equal(t, 1, b.Subscribers("ana"))
	assert.Equal(t, 1, b.Namespaces())

	cancel()
	cancel()

	assert.Equal(t, 0, b.Subscribers("ana"))
	assert.Equal(t, 0, b.Namespaces())
	assert.Equal(t, int32(1), m.added.Load())
	assert.Equal(t, int32(1), m.removed.Load())

	b.Publish("ana", entities.Wish{ID: "late"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.got())
}

func TestBroker_DropsSlowSubscriber(t *testing.T) {
	m := &countingMetrics{}
	b := NewBroker(2, zap.NewNop(), m)

	release := make(chan struct{})
	started := make(chan struct{})
	var entered sync.Once
	var delivered recorder
	slow := func(w entities.Wish) {
		delivered.add(w)
		entered.Do(func() { close(started) })
		<-release
	}

	droppedCh := make(chan struct{})
	cancel := b.Subscribe("ana", slow, func() { close(droppedCh) })
	b.Publish("ana", entities.Wish{ID: "0"})
	<-started

	// Two fit in the queue, the third overflows it.
	for _, id := range []string{"1", "2", "3"} {
		b.Publish("ana", entities.Wish{ID: id})
	}

	assert.Equal(t, 0, b.Subscribers("ana"))
	assert.Equal(t, 0, b.Namespaces())
	assert.Equal(t, int32(1), m.dropped.Load())
	select {
	case <-droppedCh:
	case <-time.After(time.Second):
		t.Fatal("drop hook not called")
	}

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"0"}, delivered.got(), "nothing is delivered after the drop")

	cancel()
	assert.Equal(t, int32(0), m.removed.Load(), "cancel after drop is a no-op")
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	b := NewBroker(0, zap.NewNop(), nil)
	require.NotPanics(t, func() { b.Publish("nobody", entities.Wish{ID: "x"}) })
	assert.Equal(t, 0, b.Namespaces())
}
