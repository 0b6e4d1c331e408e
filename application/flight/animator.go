// Package flight animates wishes travelling from the form to the sky.
//
// Each flight is an explicit state machine, Pending → InFlight → Landed, with
// a single terminal transition that invokes the done callback. Rendering is
// reduced to Frame values so the animator runs without any drawing surface.
package flight

import (
	"math/rand/v2"
	"time"

	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
)

// State of a single flight.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateLanded
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateLanded:
		return "LANDED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Default timings on the animation clock.
const (
	DefaultDuration = 1150 * time.Millisecond
	DefaultFade     = 120 * time.Millisecond
)

// Frame is the render state of one flight after a progress update.
type Frame struct {
	ID       string
	Position valueobjects.Point
	Angle    float64 // degrees
	Opacity  float64
	Progress float64 // eased progress along the curve, 0..1
}

// Config tunes the animator.
type Config struct {
	Duration      time.Duration
	FadeIn        time.Duration
	FadeOut       time.Duration
	ReducedMotion bool

	// Rand returns values in [0, 1) for control point jitter.
	Rand func() float64
}

// DefaultConfig returns the standard flight timings.
func DefaultConfig() Config {
	return Config{
		Duration: DefaultDuration,
		FadeIn:   DefaultFade,
		FadeOut:  DefaultFade,
		Rand:     rand.Float64,
	}
}

type flight struct {
	id         string
	trajectory Trajectory
	state      State
	elapsed    time.Duration
	fading     time.Duration
}

// Animator advances every active flight on each frame tick.
//
// Animator is not safe for concurrent use: it is driven from the owning
// scene's event loop, and its callbacks run synchronously on that loop.
type Animator struct {
	cfg     Config
	flights map[string]*flight
	order   []string
	stopped bool

	onFrame func(Frame)
	onDone  func(id string)
}

// NewAnimator creates an animator. onFrame may be nil.
func NewAnimator(cfg Config, onFrame func(Frame), onDone func(id string)) *Animator {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.FadeIn < 0 {
		cfg.FadeIn = 0
	}
	if cfg.FadeOut < 0 {
		cfg.FadeOut = 0
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if onFrame == nil {
		onFrame = func(Frame) {}
	}
	return &Animator{
		cfg:     cfg,
		flights: make(map[string]*flight),
		onFrame: onFrame,
		onDone:  onDone,
	}
}

// SetReducedMotion toggles reduced motion for flights launched afterwards.
func (a *Animator) SetReducedMotion(reduced bool) {
	a.cfg.ReducedMotion = reduced
}

// ReducedMotion reports whether motion is disabled.
func (a *Animator) ReducedMotion() bool {
	return a.cfg.ReducedMotion
}

// Launch starts a flight from start to end and returns its state. With
// reduced motion the flight lands immediately and done is signalled before
// Launch returns, without any frame. Launching an id that is already active,
// or launching after Stop, does nothing.
func (a *Animator) Launch(id string, start, end valueobjects.Point) State {
	if a.stopped {
		return StateCancelled
	}
	if f, ok := a.flights[id]; ok {
		return f.state
	}

	if a.cfg.ReducedMotion {
		a.onDone(id)
		return StateLanded
	}

	a.flights[id] = &flight{
		id:         id,
		trajectory: NewTrajectory(start, end, a.cfg.Rand),
		state:      StatePending,
	}
	a.order = append(a.order, id)
	return StatePending
}

// Advance moves every flight forward by dt, emitting one frame per active
// flight, and signals done for flights whose fade-out completed.
func (a *Animator) Advance(dt time.Duration) {
	if a.stopped || len(a.order) == 0 || dt < 0 {
		return
	}

	var landed []string
	for _, id := range a.order {
		f := a.flights[id]
		if f.state == StatePending {
			f.state = StateInFlight
		}

		if f.elapsed < a.cfg.Duration {
			f.elapsed += dt
		} else {
			f.fading += dt
		}
		if f.elapsed > a.cfg.Duration {
			f.fading += f.elapsed - a.cfg.Duration
			f.elapsed = a.cfg.Duration
		}

		a.onFrame(a.frame(f))

		if f.elapsed >= a.cfg.Duration && f.fading >= a.cfg.FadeOut {
			f.state = StateLanded
			landed = append(landed, id)
		}
	}

	for _, id := range landed {
		a.remove(id)
	}
	for _, id := range landed {
		if a.stopped {
			return
		}
		a.onDone(id)
	}
}

func (a *Animator) frame(f *flight) Frame {
	progress := EaseOutQuad(clamp01(float64(f.elapsed) / float64(a.cfg.Duration)))
	pos, angle := f.trajectory.At(progress)

	opacity := 1.0
	if a.cfg.FadeIn > 0 {
		opacity = clamp01(float64(f.elapsed) / float64(a.cfg.FadeIn))
	}
	if f.fading > 0 {
		if a.cfg.FadeOut > 0 {
			opacity = 1 - clamp01(float64(f.fading)/float64(a.cfg.FadeOut))
		} else {
			opacity = 0
		}
	}

	return Frame{ID: f.id, Position: pos, Angle: angle, Opacity: opacity, Progress: progress}
}

// Cancel drops a flight without signalling done.
func (a *Animator) Cancel(id string) bool {
	if _, ok := a.flights[id]; !ok {
		return false
	}
	a.remove(id)
	return true
}

// Stop cancels every flight. No callback fires after Stop returns.
func (a *Animator) Stop() {
	a.stopped = true
	a.flights = make(map[string]*flight)
	a.order = nil
}

// State returns the state of an active flight.
func (a *Animator) State(id string) (State, bool) {
	f, ok := a.flights[id]
	if !ok {
		return 0, false
	}
	return f.state, true
}

// Active returns the number of flights still animating.
func (a *Animator) Active() int {
	return len(a.order)
}

func (a *Animator) remove(id string) {
	delete(a.flights, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}
