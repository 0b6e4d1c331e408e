package ports

import (
	"context"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/events"
)

// CancelFunc stops a subscription. Calling it more than once is a no-op.
type CancelFunc func()

// WishRepository is the persisted wish collection the scene consumes.
// Every operation is scoped to a username namespace.
type WishRepository interface {
	// FetchAll returns up to limit of the most recent wishes, oldest first.
	FetchAll(ctx context.Context, username string, limit int) ([]entities.Wish, error)

	// Insert stores a wish. Re-inserting an id that already exists succeeds.
	Insert(ctx context.Context, wish entities.Wish, username string) error

	// SubscribeInserts delivers wishes inserted into the namespace after the
	// call, asynchronously, until the returned CancelFunc is called. ctx only
	// bounds the setup of the subscription.
	SubscribeInserts(ctx context.Context, username string, onInsert func(entities.Wish)) (CancelFunc, error)
}

// WishStore is the durable backend behind a WishRepository. Insert returns a
// DUPLICATE_KEY AppError when the id already exists in the namespace.
type WishStore interface {
	FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error)
	Insert(ctx context.Context, username string, wish entities.Wish) error
	Ping(ctx context.Context) error
}

// InsertBroker fans inserted wishes out to subscribers of a namespace.
type InsertBroker interface {
	Publish(username string, wish entities.Wish)

	// Subscribe delivers wishes published to username until the CancelFunc
	// runs. A subscriber that falls behind is dropped and onDrop, if not
	// nil, is called once.
	Subscribe(username string, onInsert func(entities.Wish), onDrop func()) CancelFunc
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
