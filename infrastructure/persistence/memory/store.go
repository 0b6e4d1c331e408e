package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// namespace holds one user's wishes in insertion order.
type namespace struct {
	wishes []entities.Wish
	ids    map[string]struct{}
}

// WishStore provides an in-memory implementation of ports.WishStore.
// Nothing survives a restart; it backs local runs and tests.
type WishStore struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
}

// NewWishStore creates a new in-memory wish store
func NewWishStore() *WishStore {
	return &WishStore{
		namespaces: make(map[string]*namespace),
	}
}

// FetchRecent returns up to limit of the newest wishes, oldest first.
func (s *WishStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[username]
	if !ok || limit <= 0 {
		return []entities.Wish{}, nil
	}

	out := make([]entities.Wish, len(ns.wishes))
	copy(out, ns.wishes)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Insert stores wish under username. A repeated id is a duplicate key.
func (s *WishStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewStoreError("insert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[username]
	if !ok {
		ns = &namespace{ids: make(map[string]struct{})}
		s.namespaces[username] = ns
	}
	if _, exists := ns.ids[wish.ID]; exists {
		return pkgerrors.NewDuplicateKeyError(wish.ID, nil)
	}

	ns.ids[wish.ID] = struct{}{}
	ns.wishes = append(ns.wishes, wish)
	return nil
}

// Ping always succeeds.
func (s *WishStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Count returns how many wishes username has stored.
func (s *WishStore) Count(username string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ns, ok := s.namespaces[username]; ok {
		return len(ns.wishes)
	}
	return 0
}
