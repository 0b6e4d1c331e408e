package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// BreakerConfig holds configuration for the store circuit breaker
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a default configuration for the circuit breaker
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerObserver is told about breaker state transitions.
type BreakerObserver interface {
	BreakerStateChanged(name string, state gobreaker.State)
}

// BreakerStore guards a WishStore with a circuit breaker. Duplicate keys
// count as successes.
type BreakerStore struct {
	next ports.WishStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next. observer may be nil.
func NewBreakerStore(next ports.WishStore, cfg BreakerConfig, logger *zap.Logger, observer BreakerObserver) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if observer != nil {
				observer.BreakerStateChanged(name, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || pkgerrors.IsDuplicateKey(err) || pkgerrors.IsValidation(err)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// State reports the breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) execute(service string, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewUnavailableError(service, err)
	}
	return err
}

func (s *BreakerStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	var wishes []entities.Wish
	err := s.execute("wish store", func() error {
		var err error
		wishes, err = s.next.FetchRecent(ctx, username, limit)
		return err
	})
	return wishes, err
}

func (s *BreakerStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	return s.execute("wish store", func() error {
		return s.next.Insert(ctx, username, wish)
	})
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.execute("wish store", func() error {
		return s.next.Ping(ctx)
	})
}

// TracingStore opens a span around every store call.
type TracingStore struct {
	next   ports.WishStore
	tracer trace.Tracer
}

// NewTracingStore wraps next.
func NewTracingStore(next ports.WishStore, tracer trace.Tracer) *TracingStore {
	return &TracingStore{next: next, tracer: tracer}
}

func (s *TracingStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	ctx, span := s.tracer.Start(ctx, "WishStore.FetchRecent",
		trace.WithAttributes(
			attribute.String("wish.username", username),
			attribute.Int("wish.limit", limit),
		),
	)
	defer span.End()

	wishes, err := s.next.FetchRecent(ctx, username, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("wish.count", len(wishes)))
	return wishes, nil
}

func (s *TracingStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	ctx, span := s.tracer.Start(ctx, "WishStore.Insert",
		trace.WithAttributes(
			attribute.String("wish.username", username),
			attribute.String("wish.id", wish.ID),
			attribute.Int("message.length", len(wish.Message)),
		),
	)
	defer span.End()

	err := s.next.Insert(ctx, username, wish)
	switch {
	case err == nil:
	case pkgerrors.IsDuplicateKey(err):
		span.AddEvent("duplicate_key")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

func (s *TracingStore) Ping(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "WishStore.Ping")
	defer span.End()

	err := s.next.Ping(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")
	}
	return err
}

// StoreRecorder records store call outcomes.
type StoreRecorder interface {
	RecordStoreOperation(operation string, err error, duration time.Duration)
}

// MetricsStore times every store call.
type MetricsStore struct {
	next     ports.WishStore
	recorder StoreRecorder
}

// NewMetricsStore wraps next.
func NewMetricsStore(next ports.WishStore, recorder StoreRecorder) *MetricsStore {
	return &MetricsStore{next: next, recorder: recorder}
}

func (s *MetricsStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	start := time.Now()
	wishes, err := s.next.FetchRecent(ctx, username, limit)
	s.recorder.RecordStoreOperation("fetch", err, time.Since(start))
	return wishes, err
}

func (s *MetricsStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	start := time.Now()
	err := s.next.Insert(ctx, username, wish)
	if pkgerrors.IsDuplicateKey(err) {
		s.recorder.RecordStoreOperation("insert_duplicate", nil, time.Since(start))
		return err
	}
	s.recorder.RecordStoreOperation("insert", err, time.Since(start))
	return err
}

func (s *MetricsStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.recorder.RecordStoreOperation("ping", err, time.Since(start))
	return err
}
