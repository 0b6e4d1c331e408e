package flight

import (
	"sync"
	"time"
)

// FrameSource delivers elapsed animation time between frames.
type FrameSource interface {
	Frames() <-chan time.Duration
	Stop()
}

// TickerSource emits frames at a fixed rate from a time.Ticker.
type TickerSource struct {
	ticker *time.Ticker
	out    chan time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewTickerSource starts a source emitting fps frames per second.
func NewTickerSource(fps int) *TickerSource {
	if fps <= 0 {
		fps = 60
	}
	s := &TickerSource{
		ticker: time.NewTicker(time.Second / time.Duration(fps)),
		out:    make(chan time.Duration, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *TickerSource) run() {
	last := time.Now()
	for {
		select {
		case <-s.done:
			return
		case now := <-s.ticker.C:
			dt := now.Sub(last)
			last = now
			select {
			case s.out <- dt:
			default:
				// Consumer is behind; the next frame carries the accumulated time.
				last = last.Add(-dt)
			}
		}
	}
}

// Frames returns the frame channel.
func (s *TickerSource) Frames() <-chan time.Duration {
	return s.out
}

// Stop halts the ticker. It is safe to call more than once.
func (s *TickerSource) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}

// ManualSource emits frames only when Step is called.
type ManualSource struct {
	out  chan time.Duration
	done chan struct{}
	once sync.Once
}

// NewManualSource creates a source driven by Step.
func NewManualSource() *ManualSource {
	return &ManualSource{
		out:  make(chan time.Duration),
		done: make(chan struct{}),
	}
}

// Step delivers one frame of dt and blocks until it is consumed or the
// source is stopped. It reports whether the frame was delivered.
func (s *ManualSource) Step(dt time.Duration) bool {
	select {
	case s.out <- dt:
		return true
	case <-s.done:
		return false
	}
}

// Frames returns the frame channel.
func (s *ManualSource) Frames() <-chan time.Duration {
	return s.out
}

// Stop releases any blocked Step call.
func (s *ManualSource) Stop() {
	s.once.Do(func() { close(s.done) })
}
