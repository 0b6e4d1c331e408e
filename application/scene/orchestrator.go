// Package scene reconciles wish submissions, flight completions and the
// persisted collection into one in-memory sky per namespace.
//
// All state is owned by a single event loop started with Run. Public methods
// enqueue work onto that loop, and repository results are marshalled back to
// it, so merges happen one at a time and converge by wish id.
package scene

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/flight"
	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/aggregates"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	"github.com/emmanuelquintana/christmas/domain/events"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

var (
	// ErrStopped is returned by calls made after the orchestrator shut down.
	ErrStopped = errors.New("scene orchestrator stopped")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("scene orchestrator already running")
)

// DefaultViewport places flights until a layout is reported, so headless
// scenes still produce well-formed trajectories. It is never used to repair
// coordinates.
var DefaultViewport = valueobjects.Rect{Width: 1000, Height: 800}

// Metrics receives scene counters.
type Metrics interface {
	WishAdded(origin string)
	FlightStarted()
	Persisted(err error)
}

type nopMetrics struct{}

func (nopMetrics) WishAdded(string) {}
func (nopMetrics) FlightStarted()   {}
func (nopMetrics) Persisted(error)  {}

// Options configures an Orchestrator.
type Options struct {
	Username   string
	Capacity   int // in-memory bound, default 200
	FetchLimit int // initial load, default 200
	Flight     flight.Config

	// Frames drives the animator. Nil starts a ticker at FrameRate.
	Frames    flight.FrameSource
	FrameRate int

	IDs     *valueobjects.WishIDGenerator
	Rand    func() float64
	Now     func() time.Time
	Metrics Metrics
}

// Orchestrator is the single authority over one scene's wishes.
type Orchestrator struct {
	username string
	opts     Options
	repo     ports.WishRepository
	logger   *zap.Logger
	bus      *Bus

	ops     chan func()
	quit    chan struct{}
	done    chan struct{}
	started atomic.Bool

	// Owned by the loop.
	sky        *aggregates.Sky
	flying     map[string]entities.Flying
	animator   *flight.Animator
	sceneRect  valueobjects.Rect
	skyRect    valueobjects.Rect
	loaded     bool
	pending    map[string]chan struct{}
	failures   []error
	persistCtx context.Context
}

// NewOrchestrator creates an orchestrator for opts.Username. Call Run to
// start it.
func NewOrchestrator(repo ports.WishRepository, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Capacity <= 0 {
		opts.Capacity = aggregates.DefaultCapacity
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = aggregates.DefaultCapacity
	}
	if opts.Flight.Duration == 0 {
		reduced := opts.Flight.ReducedMotion
		opts.Flight = flight.DefaultConfig()
		opts.Flight.ReducedMotion = reduced
	}
	if opts.IDs == nil {
		opts.IDs = valueobjects.NewWishIDGenerator()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		username: opts.Username,
		opts:     opts,
		repo:     repo,
		logger:   logger.With(zap.String("username", opts.Username)),
		bus:      NewBus(),
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		sky:      aggregates.NewSky(opts.Capacity),
		flying:   make(map[string]entities.Flying),
		pending:  make(map[string]chan struct{}),
	}
	o.animator = flight.NewAnimator(opts.Flight, o.onFrame, o.onFlightDone)
	return o
}

// Username returns the namespace this scene is bound to.
func (o *Orchestrator) Username() string {
	return o.username
}

// Run subscribes to remote inserts, loads the namespace and processes events
// until ctx is cancelled. On return the subscription is cancelled, every
// flight is stopped and the event bus is closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)

	o.persistCtx = context.WithoutCancel(ctx)

	frames := o.opts.Frames
	if frames == nil {
		frames = flight.NewTickerSource(o.opts.FrameRate)
	}

	cancel, err := o.repo.SubscribeInserts(ctx, o.username, func(w entities.Wish) {
		o.enqueue(context.Background(), func() { o.onRemoteInsert(w) })
	})
	if err != nil {
		o.logger.Warn("Realtime subscription failed", zap.Error(err))
		cancel = func() {}
	}

	defer func() {
		close(o.quit)
		cancel()
		o.animator.Stop()
		frames.Stop()
		o.bus.Close()
		o.logger.Debug("Scene torn down")
	}()

	go o.load(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-o.ops:
			fn()
		case dt := <-frames.Frames():
			o.animator.Advance(dt)
		}
	}
}

func (o *Orchestrator) load(ctx context.Context) {
	wishes, err := o.repo.FetchAll(ctx, o.username, o.opts.FetchLimit)
	o.enqueue(ctx, func() { o.onLoaded(wishes, err) })
}

func (o *Orchestrator) enqueue(ctx context.Context, fn func()) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.ops <- fn:
		return true
	case <-o.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !o.enqueue(ctx, func() { fn(); close(finished) }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Subscribe registers a listener on the scene's event bus. The listener is
// attached on the loop, so if the initial load already completed its first
// event is a Snapshot and nothing published earlier reaches it.
func (o *Orchestrator) Subscribe(buffer int) (<-chan events.DomainEvent, func()) {
	id, ch, cancel := o.bus.reserve(buffer)
	attached := o.enqueue(context.Background(), func() {
		var first events.DomainEvent
		if o.loaded {
			first = events.NewSnapshot(o.username, o.sky.Wishes(), o.opts.Now())
		}
		o.bus.attach(id, first)
	})
	if !attached {
		cancel()
	}
	return ch, cancel
}

// Submit turns a submission into a flight. Submissions whose message is
// blank are rejected with a validation error and create nothing.
func (o *Orchestrator) Submit(ctx context.Context, sub entities.Submission) (entities.Flying, error) {
	var (
		f   entities.Flying
		err error
	)
	if callErr := o.do(ctx, func() { f, err = o.submit(sub) }); callErr != nil {
		return entities.Flying{}, callErr
	}
	return f, err
}

// Layout reports the current scene and sky rectangles in viewport pixels and
// reruns the coordinate repair pass.
func (o *Orchestrator) Layout(ctx context.Context, scene, sky valueobjects.Rect) error {
	return o.do(ctx, func() {
		o.sceneRect, o.skyRect = scene, sky
		if o.loaded {
			o.repair()
		}
	})
}

// ShowAll broadcasts the cosmetic pulse.
func (o *Orchestrator) ShowAll(ctx context.Context) error {
	return o.do(ctx, func() {
		o.bus.Publish(events.NewShowAll(o.username, o.opts.Now()))
	})
}

// SetReducedMotion toggles animation for subsequent flights.
func (o *Orchestrator) SetReducedMotion(ctx context.Context, reduced bool) error {
	return o.do(ctx, func() { o.animator.SetReducedMotion(reduced) })
}

// Wishes returns the settled stars, oldest arrival first.
func (o *Orchestrator) Wishes(ctx context.Context) ([]entities.Wish, error) {
	var out []entities.Wish
	err := o.do(ctx, func() { out = o.sky.Wishes() })
	return out, err
}

// InFlight returns the wishes still travelling.
func (o *Orchestrator) InFlight(ctx context.Context) ([]entities.Flying, error) {
	var out []entities.Flying
	err := o.do(ctx, func() {
		out = make([]entities.Flying, 0, len(o.flying))
		for _, f := range o.flying {
			out = append(out, f)
		}
	})
	return out, err
}

// Drain waits until every insert issued so far has completed and its result
// has been recorded. It returns the insert failures recorded since the
// previous Drain, joined; replayed ids are not failures.
func (o *Orchestrator) Drain(ctx context.Context) error {
	var waiting []chan struct{}
	err := o.do(ctx, func() {
		for _, ch := range o.pending {
			waiting = append(waiting, ch)
		}
	})
	if err != nil {
		return err
	}
	for _, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var failed []error
	if err := o.do(ctx, func() { failed, o.failures = o.failures, nil }); err != nil {
		return err
	}
	return errors.Join(failed...)
}

func (o *Orchestrator) submit(sub entities.Submission) (entities.Flying, error) {
	sub = sub.Normalized()
	if err := sub.Validate(); err != nil {
		return entities.Flying{}, err
	}

	scene, sky := o.sceneRect, o.skyRect
	if !scene.Valid() {
		scene = DefaultViewport
	}
	if !sky.Valid() {
		sky = scene
	}

	var start valueobjects.Point
	if sub.Origin != nil {
		start = valueobjects.Relative(sub.Origin.Center(), scene)
	} else {
		start = valueobjects.Point{X: scene.Width * 0.22, Y: scene.Height * 0.86}
	}

	endPct := valueobjects.SafeBand.Random(o.opts.Rand)
	f := entities.Flying{
		ID:       o.opts.IDs.New(),
		Name:     sub.Name,
		Message:  sub.Message,
		StartAbs: start,
		EndAbs:   valueobjects.ToAbsolute(endPct, sky, scene),
		EndPct:   endPct,
	}

	o.flying[f.ID] = f
	o.opts.Metrics.FlightStarted()
	o.bus.Publish(events.NewFlightStarted(f, o.opts.Now()))
	o.animator.Launch(f.ID, f.StartAbs, f.EndAbs)
	return f, nil
}

func (o *Orchestrator) onFrame(fr flight.Frame) {
	o.bus.Publish(events.NewFlightFrame(fr.ID, fr.Position.X, fr.Position.Y, fr.Angle, fr.Opacity, o.opts.Now()))
}

func (o *Orchestrator) onFlightDone(id string) {
	f, ok := o.flying[id]
	if !ok {
		return
	}
	delete(o.flying, id)

	now := o.opts.Now()
	w := f.Land(now)
	if o.sky.Merge(w) {
		o.opts.Metrics.WishAdded(string(events.OriginLocal))
		o.bus.Publish(events.NewWishAdded(w, events.OriginLocal, now))
	}
	o.bus.Publish(events.NewFlightLanded(id, now))
	o.persist(w)
}

func (o *Orchestrator) persist(w entities.Wish) {
	finished := make(chan struct{})
	o.pending[w.ID] = finished

	go func() {
		defer close(finished)
		err := o.repo.Insert(o.persistCtx, w, o.username)
		o.enqueue(context.Background(), func() { o.onPersisted(w, err) })
	}()
}

func (o *Orchestrator) onPersisted(w entities.Wish, err error) {
	delete(o.pending, w.ID)
	if pkgerrors.IsDuplicateKey(err) {
		err = nil
	}
	o.opts.Metrics.Persisted(err)
	if err != nil {
		o.logger.Warn("Failed to persist wish", zap.String("wish_id", w.ID), zap.Error(err))
		o.failures = append(o.failures, fmt.Errorf("wish %s: %w", w.ID, err))
		if over := len(o.failures) - o.opts.Capacity; over > 0 {
			o.failures = o.failures[over:]
		}
		return
	}
	o.logger.Debug("Wish persisted", zap.String("wish_id", w.ID))
}

func (o *Orchestrator) onRemoteInsert(w entities.Wish) {
	if o.sky.Contains(w.ID) {
		return
	}
	if p, err := valueobjects.Normalize(w.Position(), o.skyRect); err == nil {
		w = w.WithPosition(p)
	}
	if o.sky.Merge(w) {
		o.opts.Metrics.WishAdded(string(events.OriginRemote))
		o.bus.Publish(events.NewWishAdded(w, events.OriginRemote, o.opts.Now()))
	}
}

func (o *Orchestrator) onLoaded(wishes []entities.Wish, err error) {
	o.loaded = true
	if err != nil {
		o.logger.Warn("Failed to load wishes", zap.Error(err))
	} else {
		// Anything that arrived before the load is newer than the fetched rows.
		arrived := o.sky.Wishes()
		sky := aggregates.NewSky(o.opts.Capacity)
		for range sky.MergeAll(wishes) {
			o.opts.Metrics.WishAdded(string(events.OriginLoad))
		}
		sky.MergeAll(arrived)
		o.sky = sky
		o.logger.Debug("Wishes loaded", zap.Int("count", o.sky.Len()))
	}
	o.repair()
	o.bus.Publish(events.NewSnapshot(o.username, o.sky.Wishes(), o.opts.Now()))
}

func (o *Orchestrator) repair() {
	if !o.sky.NeedsRepair() {
		return
	}
	repaired, err := o.sky.Repair(o.skyRect)
	if err != nil {
		o.logger.Debug("Coordinate repair deferred until layout", zap.Error(err))
		return
	}
	now := o.opts.Now()
	for _, w := range repaired {
		o.bus.Publish(events.NewWishAdded(w, events.OriginRepair, now))
	}
}
