// Package persistence composes a durable wish store and a realtime broker
// into the repository the scene consumes.
package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/events"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

// RealtimeRepository implements ports.WishRepository.
type RealtimeRepository struct {
	store     ports.WishStore
	broker    ports.InsertBroker
	publisher ports.EventPublisher
	maxWishes int
	logger    *zap.Logger
	now       func() time.Time
}

// NewRealtimeRepository creates the repository. publisher may be nil.
func NewRealtimeRepository(
	store ports.WishStore,
	broker ports.InsertBroker,
	publisher ports.EventPublisher,
	maxWishes int,
	logger *zap.Logger,
) *RealtimeRepository {
	return &RealtimeRepository{
		store:     store,
		broker:    broker,
		publisher: publisher,
		maxWishes: maxWishes,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchAll returns up to limit recent wishes, oldest first. limit <= 0 or
// above the configured maximum is clamped to it.
func (r *RealtimeRepository) FetchAll(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	if err := checkUsername(username); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.maxWishes {
		limit = r.maxWishes
	}
	return r.store.FetchRecent(ctx, username, limit)
}

// Insert stores wish. A replayed id succeeds without notifying anyone.
func (r *RealtimeRepository) Insert(ctx context.Context, wish entities.Wish, username string) error {
	_, err := r.Create(ctx, wish, username)
	return err
}

// resyncTimeout bounds the store fetch that follows a dropped subscription.
const resyncTimeout = 10 * time.Second

// subscription keeps one consumer attached to the broker. If the broker
// drops it for falling behind, it resubscribes and replays the recent rows
// from the store so nothing published meanwhile is lost for good. Replayed
// rows may repeat wishes the consumer already has; consumers merge by id.
type subscription struct {
	repo     *RealtimeRepository
	username string
	onInsert func(entities.Wish)

	delivering sync.Mutex // serializes onInsert

	mu     sync.Mutex // guards closed and cancel
	closed bool
	cancel ports.CancelFunc
}

func (s *subscription) deliver(w entities.Wish) {
	s.delivering.Lock()
	defer s.delivering.Unlock()
	if s.isClosed() {
		return
	}
	s.onInsert(w)
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscription) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.cancel = s.repo.broker.Subscribe(s.username, s.deliver, s.resync)
	return true
}

func (s *subscription) resync() {
	logger := s.repo.logger.With(zap.String("username", s.username))
	if !s.attach() {
		return
	}
	logger.Warn("Realtime subscriber fell behind, replaying recent wishes")

	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	wishes, err := s.repo.store.FetchRecent(ctx, s.username, s.repo.maxWishes)
	if err != nil {
		logger.Warn("Failed to replay wishes after resubscribing", zap.Error(err))
		return
	}
	for _, w := range wishes {
		s.deliver(w)
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// SubscribeInserts registers onInsert with the broker. Deliveries to
// onInsert never overlap and stop once the returned cancel runs.
func (r *RealtimeRepository) SubscribeInserts(ctx context.Context, username string, onInsert func(entities.Wish)) (ports.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.NewStoreError("subscribe", err)
	}
	if err := checkUsername(username); err != nil {
		return nil, err
	}

	sub := &subscription{repo: r, username: username, onInsert: onInsert}
	sub.attach()
	return sub.stop, nil
}

// Ping checks the durable store.
func (r *RealtimeRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Create is Insert that also reports whether the wish was new. The REST
// handler uses it to answer 200 instead of 201 for a replayed id.
func (r *RealtimeRepository) Create(ctx context.Context, wish entities.Wish, username string) (bool, error) {
	if err := checkUsername(username); err != nil {
		return false, err
	}
	if err := wish.Validate(); err != nil {
		return false, err
	}
	if wish.CreatedAt == 0 {
		wish.CreatedAt = r.now().UnixMilli()
	}

	err := r.store.Insert(ctx, username, wish)
	if pkgerrors.IsDuplicateKey(err) {
		r.logger.Debug("Ignoring duplicate wish",
			zap.String("username", username),
			zap.String("wish_id", wish.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.broker.Publish(username, wish)
	if r.publisher != nil {
		event := events.NewWishCreated(username, wish, r.now())
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("Failed to publish wish event",
				zap.String("username", username),
				zap.String("wish_id", wish.ID),
				zap.Error(err))
		}
	}
	return true, nil
}

// checkUsername rejects namespaces that are not already in canonical form.
func checkUsername(username string) error {
	u, err := utils.ParseUsername(username)
	if err != nil {
		return err
	}
	if u != username {
		return pkgerrors.NewValidationError("username is not normalized").
			WithDetails(map[string]interface{}{"username": u})
	}
	return nil
}
