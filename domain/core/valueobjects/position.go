package valueobjects

import (
	"errors"
	"math"
)

// ErrLayoutPending is returned when the reference rectangle has not been laid
// out yet (non-positive width or height). Callers retry on the next layout pass.
var ErrLayoutPending = errors.New("reference rectangle not laid out")

// Point is a position, either in absolute pixels or as fractions of a rectangle.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether p can be stored: both coordinates finite and not
// negative. Fractions and legacy pixel values both qualify.
func (p Point) Valid() bool {
	return isFinite(p.X) && isFinite(p.Y) && p.X >= 0 && p.Y >= 0
}

// Rect is a pixel rectangle in viewport coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rectangle has been laid out.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0 && isFinite(r.Left) && isFinite(r.Top)
}

// Center returns the centre of the rectangle in viewport coordinates.
func (r Rect) Center() Point {
	return Point{X: r.Left + r.Width/2, Y: r.Top + r.Height/2}
}

// Band is a sub-rectangle of the unit square, in fractional coordinates.
type Band struct {
	XMin, XMax float64
	YMin, YMax float64
}

// SafeBand keeps stars clear of the edges of the sky and above the tree.
var SafeBand = Band{XMin: 0.06, XMax: 0.94, YMin: 0.10, YMax: 0.78}

// Clamp pulls p inside the band.
func (b Band) Clamp(p Point) Point {
	return Point{X: clamp(p.X, b.XMin, b.XMax), Y: clamp(p.Y, b.YMin, b.YMax)}
}

// Contains reports whether p lies inside the band, edges included.
func (b Band) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Random picks a uniformly distributed point inside the band. next must
// return values in [0, 1).
func (b Band) Random(next func() float64) Point {
	return Point{
		X: b.XMin + next()*(b.XMax-b.XMin),
		Y: b.YMin + next()*(b.YMax-b.YMin),
	}
}

// LooksNormalized reports whether both coordinates are already fractions.
//
// A legacy pixel position within one pixel of the origin on both axes is
// indistinguishable from a fraction and is passed through as one.
func LooksNormalized(p Point) bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Normalize maps p into fractional coordinates of ref, clamped to SafeBand.
// Points that already look normalized are returned unchanged, so the
// operation is idempotent.
func Normalize(p Point, ref Rect) (Point, error) {
	if !ref.Valid() {
		return p, ErrLayoutPending
	}
	if LooksNormalized(p) {
		return p, nil
	}
	return SafeBand.Clamp(Point{X: p.X / ref.Width, Y: p.Y / ref.Height}), nil
}

// ToAbsolute converts a fractional position inside sky into pixels relative
// to the top-left corner of scene.
func ToAbsolute(pct Point, sky, scene Rect) Point {
	return Point{
		X: sky.Left - scene.Left + pct.X*sky.Width,
		Y: sky.Top - scene.Top + pct.Y*sky.Height,
	}
}

// Relative expresses an absolute viewport point relative to the top-left
// corner of scene.
func Relative(p Point, scene Rect) Point {
	return Point{X: p.X - scene.Left, Y: p.Y - scene.Top}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
