package flight

import (
	"math"

	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
)

// Trajectory is a cubic Bézier curve from P0 to P3.
type Trajectory struct {
	P0, P1, P2, P3 valueobjects.Point
}

// NewTrajectory builds an arc from start to end. Both control points are
// lifted above the straight line and jittered horizontally; next must return
// values in [0, 1).
func NewTrajectory(start, end valueobjects.Point, next func() float64) Trajectory {
	dx := end.X - start.X
	return Trajectory{
		P0: start,
		P1: valueobjects.Point{
			X: start.X + dx*0.25 + (next()*40 - 20),
			Y: start.Y - 140 + (next()*35 - 10),
		},
		P2: valueobjects.Point{
			X: start.X + dx*0.75 + (next()*40 - 20),
			Y: end.Y - 120 + (next()*35 - 10),
		},
		P3: end,
	}
}

// At returns the point at parameter t in [0, 1] and the heading there in
// degrees, measured from the positive x axis with y pointing down.
func (tr Trajectory) At(t float64) (valueobjects.Point, float64) {
	u := 1 - t
	tt, uu := t*t, u*u
	uuu, ttt := uu*u, tt*t

	p := valueobjects.Point{
		X: uuu*tr.P0.X + 3*uu*t*tr.P1.X + 3*u*tt*tr.P2.X + ttt*tr.P3.X,
		Y: uuu*tr.P0.Y + 3*uu*t*tr.P1.Y + 3*u*tt*tr.P2.Y + ttt*tr.P3.Y,
	}

	dx := 3*uu*(tr.P1.X-tr.P0.X) + 6*u*t*(tr.P2.X-tr.P1.X) + 3*tt*(tr.P3.X-tr.P2.X)
	dy := 3*uu*(tr.P1.Y-tr.P0.Y) + 6*u*t*(tr.P2.Y-tr.P1.Y) + 3*tt*(tr.P3.Y-tr.P2.Y)

	return p, math.Atan2(dy, dx) * 180 / math.Pi
}

// EaseOutQuad decelerates towards the end: f(t) = 1 - (1-t)².
func EaseOutQuad(t float64) float64 {
	return 1 - (1-t)*(1-t)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
