// Package mocks provides testify mocks for the application ports.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/events"
)

// MockWishRepository mocks ports.WishRepository. Subscriptions are recorded
// so tests can push realtime inserts with Deliver.
type MockWishRepository struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[string]func(entities.Wish)
	cancelled int
}

func NewMockWishRepository() *MockWishRepository {
	return &MockWishRepository{listeners: make(map[string]func(entities.Wish))}
}

func (m *MockWishRepository) FetchAll(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	args := m.Called(ctx, username, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]entities.Wish), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWishRepository) Insert(ctx context.Context, wish entities.Wish, username string) error {
	args := m.Called(ctx, wish, username)
	return args.Error(0)
}

func (m *MockWishRepository) SubscribeInserts(ctx context.Context, username string, onInsert func(entities.Wish)) (ports.CancelFunc, error) {
	args := m.Called(ctx, username)
	if err := args.Error(0); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.listeners == nil {
		m.listeners = make(map[string]func(entities.Wish))
	}
	m.listeners[username] = onInsert
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, username)
			m.cancelled++
		})
	}, nil
}

// Deliver pushes w to the subscriber of username, if any.
func (m *MockWishRepository) Deliver(username string, w entities.Wish) bool {
	m.mu.Lock()
	fn, ok := m.listeners[username]
	m.mu.Unlock()
	if ok {
		fn(w)
	}
	return ok
}

// Cancelled returns how many subscriptions were cancelled.
func (m *MockWishRepository) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// MockWishStore mocks ports.WishStore.
type MockWishStore struct {
	mock.Mock
}

func (m *MockWishStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	args := m.Called(ctx, username, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]entities.Wish), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWishStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	args := m.Called(ctx, username, wish)
	return args.Error(0)
}

func (m *MockWishStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEventPublisher mocks ports.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}
