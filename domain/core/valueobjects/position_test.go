package valueobjects

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ref := Rect{Width: 1000, Height: 800}

	tests := []struct {
		name string
		in   Point
		want Point
	}{
		{
			name: "already normalized passes through",
			in:   Point{X: 0.5, Y: 0.25},
			want: Point{X: 0.5, Y: 0.25},
		},
		{
			name: "fraction outside safe band is not clamped",
			in:   Point{X: 0.01, Y: 0.99},
			want: Point{X: 0.01, Y: 0.99},
		},
		{
			name: "unit corners count as fractions",
			in:   Point{X: 1, Y: 0},
			want: Point{X: 1, Y: 0},
		},
		{
			name: "legacy pixels inside band",
			in:   Point{X: 500, Y: 400},
			want: Point{X: 0.5, Y: 0.5},
		},
		{
			name: "legacy pixels clamped low",
			in:   Point{X: 10, Y: 40},
			want: Point{X: 0.06, Y: 0.10},
		},
		{
			name: "legacy pixels clamped high",
			in:   Point{X: 990, Y: 790},
			want: Point{X: 0.94, Y: 0.78},
		},
		{
			name: "negative pixels clamped into band",
			in:   Point{X: -20, Y: 300},
			want: Point{X: 0.06, Y: 0.375},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, ref)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	ref := Rect{Width: 1280, Height: 720}

	for _, p := range []Point{{X: 220, Y: 680}, {X: 3000, Y: -50}, {X: 0.3, Y: 0.7}, {X: 640, Y: 0.5}} {
		once, err := Normalize(p, ref)
		require.NoError(t, err)
		twice, err := Normalize(once, ref)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalize_PixelFormula(t *testing.T) {
	ref := Rect{Width: 1000, Height: 800}
	for _, p := range []Point{{X: 220, Y: 680}, {X: 1500, Y: 90}, {X: 2, Y: 2}} {
		got, err := Normalize(p, ref)
		require.NoError(t, err)
		assert.InDelta(t, math.Max(0.06, math.Min(0.94, p.X/1000)), got.X, 1e-9)
		assert.InDelta(t, math.Max(0.10, math.Min(0.78, p.Y/800)), got.Y, 1e-9)
	}
}

func TestNormalize_LayoutPending(t *testing.T) {
	for _, ref := range []Rect{{}, {Width: 100}, {Height: 100}, {Width: -5, Height: 10}} {
		p := Point{X: 400, Y: 300}
		got, err := Normalize(p, ref)
		assert.ErrorIs(t, err, ErrLayoutPending)
		assert.Equal(t, p, got)
	}
}

func TestBand_Random(t *testing.T) {
	values := []float64{0, 0.999999, 0.5, 0.25}
	i := 0
	next := func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}

	for n := 0; n < 4; n++ {
		p := SafeBand.Random(next)
		assert.True(t, SafeBand.Contains(p), "point %v outside band", p)
	}
}

func TestToAbsolute(t *testing.T) {
	scene := Rect{Left: 0, Top: 0, Width: 1000, Height: 800}
	sky := Rect{Left: 0, Top: 0, Width: 1000, Height: 800}

	got := ToAbsolute(Point{X: 0.5, Y: 0.25}, sky, scene)
	assert.Equal(t, Point{X: 500, Y: 200}, got)

	offsetSky := Rect{Left: 40, Top: 60, Width: 500, Height: 400}
	got = ToAbsolute(Point{X: 0.5, Y: 0.5}, offsetSky, Rect{Left: 20, Top: 10, Width: 600, Height: 600})
	assert.Equal(t, Point{X: 270, Y: 250}, got)
}

func TestRect_Center(t *testing.T) {
	r := Rect{Left: 200, Top: 660, Width: 40, Height: 40}
	assert.Equal(t, Point{X: 220, Y: 680}, r.Center())
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, Point{}.Valid())
	assert.True(t, Point{X: 0.5, Y: 1}.Valid())
	assert.True(t, Point{X: 1200, Y: 640}.Valid())
	assert.False(t, Point{X: -1, Y: 0.5}.Valid())
	assert.False(t, Point{X: 0.5, Y: math.NaN()}.Valid())
	assert.False(t, Point{X: math.Inf(-1), Y: 0}.Valid())
}
