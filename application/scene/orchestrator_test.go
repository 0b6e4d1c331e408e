package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/flight"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	"github.com/emmanuelquintana/christmas/domain/events"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/tests/mocks"
)

const username = "ana"

var viewport = valueobjects.Rect{Width: 1000, Height: 800}

type countingMetrics struct {
	mu        sync.Mutex
	added     map[string]int
	flights   int
	persisted int
	failed    int
}

func (m *countingMetrics) WishAdded(origin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.added == nil {
		m.added = make(map[string]int)
	}
	m.added[origin]++
}

func (m *countingMetrics) FlightStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flights++
}

func (m *countingMetrics) Persisted(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		return
	}
	m.persisted++
}

type harness struct {
	scene   *Orchestrator
	repo    *mocks.MockWishRepository
	frames  *flight.ManualSource
	metrics *countingMetrics
	events  <-chan events.DomainEvent
	stop    func()
}

func expectSubscribe(repo *mocks.MockWishRepository) {
	repo.On("SubscribeInserts", mock.Anything, username).Return(nil)
}

func startScene(t *testing.T, repo *mocks.MockWishRepository, configure func(*Options)) *harness {
	t.Helper()

	frames := flight.NewManualSource()
	metrics := &countingMetrics{}
	opts := Options{
		Username: username,
		Frames:   frames,
		Rand:     func() float64 { return 0.5 },
		Metrics:  metrics,
	}
	if configure != nil {
		configure(&opts)
	}

	o := NewOrchestrator(repo, zap.NewNop(), opts)
	evs, _ := o.Subscribe(4096)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)

	return &harness{scene: o, repo: repo, frames: frames, metrics: metrics, events: evs, stop: stop}
}

func waitFor[T events.DomainEvent](t *testing.T, ch <-chan events.DomainEvent) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if v, match := e.(T); match {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func drainEvents(ch <-chan events.DomainEvent) []events.DomainEvent {
	var out []events.DomainEvent
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func storedWish(n int) entities.Wish {
	return entities.Wish{
		ID:        fmt.Sprintf("00000000-0000-4000-8000-%012d", n),
		Name:      "guest",
		Message:   fmt.Sprintf("wish %d", n),
		X:         0.5,
		Y:         0.5,
		CreatedAt: int64(n),
	}
}

func withID(id string) interface{} {
	return mock.MatchedBy(func(w entities.Wish) bool { return w.ID == id })
}

func TestOrchestrator_SubmitFliesAndLands(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).Return(nil)

	h := startScene(t, repo, nil)
	snap := waitFor[events.Snapshot](t, h.events)
	assert.Empty(t, snap.Wishes)

	require.NoError(t, h.scene.Layout(ctx, viewport, viewport))

	f, err := h.scene.Submit(ctx, entities.Submission{
		Name:    "Ana",
		Message: "Feliz Navidad",
		Origin:  &valueobjects.Rect{Left: 220, Top: 680},
	})
	require.NoError(t, err)

	assert.Equal(t, valueobjects.Point{X: 220, Y: 680}, f.StartAbs)
	assert.True(t, valueobjects.SafeBand.Contains(f.EndPct))
	assert.InDelta(t, f.EndPct.X*1000, f.EndAbs.X, 1e-9)
	assert.InDelta(t, f.EndPct.Y*800, f.EndAbs.Y, 1e-9)
	assert.NoError(t, valueobjects.ValidateWishID(f.ID))

	inFlight, err := h.scene.InFlight(ctx)
	require.NoError(t, err)
	require.Len(t, inFlight, 1)

	for i := 0; i < 10; i++ {
		h.frames.Step(16 * time.Millisecond)
	}
	h.frames.Step(2 * time.Second)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	require.Len(t, wishes, 1)
	assert.Equal(t, f.ID, wishes[0].ID)
	assert.Equal(t, "Feliz Navidad", wishes[0].Message)
	assert.Equal(t, "Ana", wishes[0].Name)
	assert.Equal(t, f.EndPct, wishes[0].Position())

	inFlight, err = h.scene.InFlight(ctx)
	require.NoError(t, err)
	assert.Empty(t, inFlight)

	require.NoError(t, h.scene.Drain(ctx))
	repo.AssertCalled(t, "Insert", mock.Anything, withID(f.ID), username)
	repo.AssertNumberOfCalls(t, "Insert", 1)

	var started, frames, added, landed int
	for _, e := range drainEvents(h.events) {
		switch ev := e.(type) {
		case events.FlightStarted:
			started++
		case events.FlightFrame:
			frames++
			assert.Equal(t, f.ID, ev.GetAggregateID())
		case events.WishAdded:
			added++
			assert.Equal(t, events.OriginLocal, ev.Origin)
		case events.FlightLanded:
			landed++
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 11, frames)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, landed)
	assert.Equal(t, 1, h.metrics.persisted)
}

func TestOrchestrator_DefaultStartWithoutOrigin(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)

	h := startScene(t, repo, nil)
	scene := valueobjects.Rect{Left: 100, Top: 50, Width: 1000, Height: 800}
	sky := valueobjects.Rect{Left: 150, Top: 60, Width: 900, Height: 500}
	require.NoError(t, h.scene.Layout(ctx, scene, sky))

	f, err := h.scene.Submit(ctx, entities.Submission{Message: "hola"})
	require.NoError(t, err)

	assert.InDelta(t, 220, f.StartAbs.X, 1e-9)
	assert.InDelta(t, 688, f.StartAbs.Y, 1e-9)
	assert.InDelta(t, 50+f.EndPct.X*900, f.EndAbs.X, 1e-9)
	assert.InDelta(t, 10+f.EndPct.Y*500, f.EndAbs.Y, 1e-9)
}

func TestOrchestrator_BlankMessageCreatesNothing(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)

	h := startScene(t, repo, nil)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := h.scene.Submit(ctx, entities.Submission{Name: "Ana", Message: msg})
		assert.True(t, pkgerrors.IsValidation(err))
	}

	inFlight, err := h.scene.InFlight(ctx)
	require.NoError(t, err)
	assert.Empty(t, inFlight)

	h.frames.Step(2 * time.Second)
	require.NoError(t, h.scene.Drain(ctx))
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.metrics.flights)
}

func TestOrchestrator_ConvergesOnSameID(t *testing.T) {
	tests := []struct {
		name        string
		remoteFirst bool
	}{
		{name: "remote before landing", remoteFirst: true},
		{name: "remote after landing", remoteFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := mocks.NewMockWishRepository()
			expectSubscribe(repo)
			repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
			repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).Return(nil)

			h := startScene(t, repo, nil)
			waitFor[events.Snapshot](t, h.events)

			f, err := h.scene.Submit(ctx, entities.Submission{Message: "Paz"})
			require.NoError(t, err)

			remote := entities.Wish{ID: f.ID, Message: "Paz", X: f.EndPct.X, Y: f.EndPct.Y, CreatedAt: 1}

			if tt.remoteFirst {
				require.True(t, repo.Deliver(username, remote))
				_, err = h.scene.Wishes(ctx)
				require.NoError(t, err)
				h.frames.Step(2 * time.Second)
			} else {
				h.frames.Step(2 * time.Second)
				require.True(t, repo.Deliver(username, remote))
			}

			wishes, err := h.scene.Wishes(ctx)
			require.NoError(t, err)
			require.Len(t, wishes, 1)
			assert.Equal(t, f.ID, wishes[0].ID)

			require.NoError(t, h.scene.Drain(ctx))
			repo.AssertNumberOfCalls(t, "Insert", 1)
		})
	}
}

func TestOrchestrator_RemoteInsertDeduplicated(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{storedWish(1)}, nil)

	h := startScene(t, repo, nil)
	waitFor[events.Snapshot](t, h.events)

	repo.Deliver(username, storedWish(1))
	repo.Deliver(username, storedWish(2))
	repo.Deliver(username, storedWish(2))

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	require.Len(t, wishes, 2)
	assert.Equal(t, storedWish(2).ID, wishes[1].ID)

	added := waitFor[events.WishAdded](t, h.events)
	assert.Equal(t, events.OriginRemote, added.Origin)
	assert.Equal(t, 1, h.metrics.added[string(events.OriginRemote)])
}

func TestOrchestrator_DuplicateInsertIsSuccess(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).
		Return(pkgerrors.NewDuplicateKeyError("x", errors.New("23505")))

	h := startScene(t, repo, nil)

	_, err := h.scene.Submit(ctx, entities.Submission{Message: "otra vez"})
	require.NoError(t, err)
	h.frames.Step(2 * time.Second)

	require.NoError(t, h.scene.Drain(ctx))
	assert.Equal(t, 1, h.metrics.persisted)
	assert.Equal(t, 0, h.metrics.failed)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	assert.Len(t, wishes, 1)
}

func TestOrchestrator_InsertFailureKeepsStar(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).
		Return(pkgerrors.NewStoreError("insert", errors.New("connection refused")))

	h := startScene(t, repo, nil)

	f, err := h.scene.Submit(ctx, entities.Submission{Message: "sin red"})
	require.NoError(t, err)
	h.frames.Step(2 * time.Second)

	err = h.scene.Drain(ctx)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsStore(err))
	assert.Contains(t, err.Error(), f.ID)
	require.NoError(t, h.scene.Drain(ctx), "failures are reported once")

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	require.Len(t, wishes, 1)
	assert.Equal(t, f.ID, wishes[0].ID)
	assert.Equal(t, 1, h.metrics.failed)
}

func TestOrchestrator_FetchFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).
		Return(nil, pkgerrors.NewStoreError("fetch", errors.New("network down")))
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).Return(nil)

	h := startScene(t, repo, nil)
	snap := waitFor[events.Snapshot](t, h.events)
	assert.Empty(t, snap.Wishes)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	assert.Empty(t, wishes)

	_, err = h.scene.Submit(ctx, entities.Submission{Message: "sigue"})
	require.NoError(t, err)
	h.frames.Step(2 * time.Second)

	wishes, err = h.scene.Wishes(ctx)
	require.NoError(t, err)
	assert.Len(t, wishes, 1)
}

func TestOrchestrator_SubscribeFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	repo.On("SubscribeInserts", mock.Anything, username).Return(pkgerrors.NewUnavailableError("realtime", errors.New("dial")))
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{storedWish(1)}, nil)

	h := startScene(t, repo, nil)
	snap := waitFor[events.Snapshot](t, h.events)
	assert.Len(t, snap.Wishes, 1)

	h.stop()
	assert.Equal(t, 0, repo.Cancelled())
	_, err := h.scene.Wishes(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestOrchestrator_ReducedMotion(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).Return(nil)

	h := startScene(t, repo, func(o *Options) { o.Flight.ReducedMotion = true })
	waitFor[events.Snapshot](t, h.events)

	f, err := h.scene.Submit(ctx, entities.Submission{Message: "quieto"})
	require.NoError(t, err)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	require.Len(t, wishes, 1, "landed without any frame")
	assert.Equal(t, f.ID, wishes[0].ID)

	h.frames.Step(2 * time.Second)
	require.NoError(t, h.scene.Drain(ctx))
	repo.AssertNumberOfCalls(t, "Insert", 1)

	for _, e := range drainEvents(h.events) {
		_, isFrame := e.(events.FlightFrame)
		assert.False(t, isFrame)
	}
}

func TestOrchestrator_ToggleReducedMotion(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("entities.Wish"), username).Return(nil)

	h := startScene(t, repo, nil)
	require.NoError(t, h.scene.SetReducedMotion(ctx, true))

	_, err := h.scene.Submit(ctx, entities.Submission{Message: "rápido"})
	require.NoError(t, err)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	assert.Len(t, wishes, 1)
}

func TestOrchestrator_BoundedToCapacity(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)

	loaded := make([]entities.Wish, 200)
	for i := range loaded {
		loaded[i] = storedWish(i)
	}
	repo.On("FetchAll", mock.Anything, username, 200).Return(loaded, nil)

	h := startScene(t, repo, nil)
	snap := waitFor[events.Snapshot](t, h.events)
	assert.Len(t, snap.Wishes, 200)

	for i := 200; i < 205; i++ {
		repo.Deliver(username, storedWish(i))
	}

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	require.Len(t, wishes, 200)
	assert.Equal(t, storedWish(5).ID, wishes[0].ID)
	assert.Equal(t, storedWish(204).ID, wishes[199].ID)
}

func TestOrchestrator_RepairsLegacyCoordinatesOnLayout(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)

	legacy := storedWish(1)
	legacy.X, legacy.Y = 500, 400
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{legacy, storedWish(2)}, nil)

	h := startScene(t, repo, nil)
	snap := waitFor[events.Snapshot](t, h.events)
	require.Len(t, snap.Wishes, 2)
	assert.Equal(t, 500.0, snap.Wishes[0].X, "no layout yet")

	require.NoError(t, h.scene.Layout(ctx, viewport, viewport))

	repaired := waitFor[events.WishAdded](t, h.events)
	assert.Equal(t, events.OriginRepair, repaired.Origin)
	assert.Equal(t, legacy.ID, repaired.Wish.ID)

	wishes, err := h.scene.Wishes(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, wishes[0].X, 1e-9)
	assert.InDelta(t, 0.5, wishes[0].Y, 1e-9)
	assert.Equal(t, storedWish(2).Position(), wishes[1].Position())
}

func TestOrchestrator_LateSubscriberGetsSnapshot(t *testing.T) {
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{storedWish(1)}, nil)

	h := startScene(t, repo, nil)
	waitFor[events.Snapshot](t, h.events)

	late, cancel := h.scene.Subscribe(8)
	defer cancel()
	snap := waitFor[events.Snapshot](t, late)
	assert.Len(t, snap.Wishes, 1)
}

func TestOrchestrator_SnapshotPrecedesEarlierEvents(t *testing.T) {
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{storedWish(1)}, nil)

	h := startScene(t, repo, nil)
	waitFor[events.Snapshot](t, h.events)

	// Hold the loop so a publish is queued before the new subscriber.
	gate := make(chan struct{})
	require.True(t, h.scene.enqueue(context.Background(), func() { <-gate }))
	require.True(t, h.scene.enqueue(context.Background(), func() {
		h.scene.bus.Publish(events.NewShowAll(username, time.Now()))
	}))

	late, cancel := h.scene.Subscribe(8)
	defer cancel()
	close(gate)

	select {
	case first := <-late:
		snap, ok := first.(events.Snapshot)
		require.True(t, ok, "first event was %T", first)
		assert.Len(t, snap.Wishes, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the snapshot")
	}

	require.NoError(t, h.scene.ShowAll(context.Background()))
	waitFor[events.ShowAll](t, late)
	assert.Empty(t, drainEvents(late))
}

func TestOrchestrator_ShowAll(t *testing.T) {
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)

	h := startScene(t, repo, nil)
	require.NoError(t, h.scene.ShowAll(context.Background()))

	ev := waitFor[events.ShowAll](t, h.events)
	assert.Equal(t, username, ev.GetAggregateID())
}

func TestOrchestrator_TeardownCancelsEverything(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockWishRepository()
	expectSubscribe(repo)
	repo.On("FetchAll", mock.Anything, username, 200).Return([]entities.Wish{}, nil)

	h := startScene(t, repo, nil)
	waitFor[events.Snapshot](t, h.events)

	_, err := h.scene.Submit(ctx, entities.Submission{Message: "a medio camino"})
	require.NoError(t, err)
	h.frames.Step(100 * time.Millisecond)

	h.stop()

	assert.Equal(t, 1, repo.Cancelled())
	assert.False(t, repo.Deliver(username, storedWish(9)))
	assert.False(t, h.frames.Step(2*time.Second))
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)

	_, err = h.scene.Submit(ctx, entities.Submission{Message: "tarde"})
	assert.ErrorIs(t, err, ErrStopped)

	drainEvents(h.events)
	_, open := <-h.events
	assert.False(t, open)

	assert.ErrorIs(t, h.scene.Run(ctx), ErrAlreadyRunning)
}

func TestOrchestrator_CallsHonourContext(t *testing.T) {
	repo := mocks.NewMockWishRepository()
	o := NewOrchestrator(repo, nil, Options{Username: username})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Wishes(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
