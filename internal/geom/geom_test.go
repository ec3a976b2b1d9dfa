package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestAbsAngleDiff(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		want float64
	}{
		{"equal angles", 1.0, 1.0, 0},
		{"quarter turn", 0, math.Pi / 2, math.Pi / 2},
		{"wrap across pi", math.Pi - 0.1, -math.Pi + 0.1, 0.2},
		{"full turn apart", 0, 2 * math.Pi, 0},
		{"opposite", 0, math.Pi, math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AbsAngleDiff(tt.x, tt.y, math.Pi), 1e-9)
		})
	}
}

func TestAbsAngleDiffProperties(t *testing.T) {
	angles := []float64{-3.1, -1.5, -0.3, 0, 0.7, 1.9, 3.0, 6.9, -8.2}
	for _, x := range angles {
		for _, y := range angles {
			d := AbsAngleDiff(x, y, math.Pi)
			assert.GreaterOrEqual(t, d, 0.0, "diff(%f,%f) below zero", x, y)
			assert.LessOrEqual(t, d, math.Pi+1e-9, "diff(%f,%f) above pi", x, y)
			assert.InDelta(t, d, AbsAngleDiff(y, x, math.Pi), 1e-9, "asymmetric at (%f,%f)", x, y)
		}
	}
}

func TestYawRoundTrip(t *testing.T) {
	for _, yaw := range []float64{0, 0.5, -0.5, math.Pi / 2, -math.Pi / 2, 3.0, -3.0} {
		p := NewPose(1, 2, 3, yaw)
		assert.InDelta(t, yaw, p.Yaw(), 1e-9, "yaw %f did not survive the round trip", yaw)
	}
}

func TestBearing(t *testing.T) {
	origin := r3.Vec{}
	tests := []struct {
		name string
		to   r3.Vec
		want float64
	}{
		{"east", r3.Vec{X: 1}, 0},
		{"north", r3.Vec{Y: 1}, math.Pi / 2},
		{"west", r3.Vec{X: -1}, math.Pi},
		{"south", r3.Vec{Y: -1}, -math.Pi / 2},
		{"north-east", r3.Vec{X: 1, Y: 1}, math.Pi / 4},
		{"ignores z", r3.Vec{X: 1, Z: 50}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Bearing(origin, tt.to), 1e-9)
		})
	}
}

func TestDistances(t *testing.T) {
	a := r3.Vec{X: 1, Y: 2, Z: 3}
	b := r3.Vec{X: 4, Y: 6, Z: 3}
	require.InDelta(t, 5.0, HorizontalDistance(a, b), 1e-9)
	require.InDelta(t, 5.0, Distance(a, b), 1e-9)

	c := r3.Vec{X: 1, Y: 2, Z: 15}
	assert.InDelta(t, 0.0, HorizontalDistance(a, c), 1e-9)
	assert.InDelta(t, 12.0, Distance(a, c), 1e-9)
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, math.Pi, NormalizeAngle(math.Pi), 1e-9)
	assert.InDelta(t, math.Pi, NormalizeAngle(-math.Pi), 1e-9)
	assert.InDelta(t, -math.Pi+0.5, NormalizeAngle(math.Pi+0.5), 1e-9)
	assert.InDelta(t, 0.0, NormalizeAngle(4*math.Pi), 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(5, -1, 1))
	assert.Equal(t, -1.0, Clamp(-5, -1, 1))
	assert.Equal(t, 0.25, Clamp(0.25, -1, 1))
}
