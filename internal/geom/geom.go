// Package geom provides the pose and angle math shared by the navigation
// servers. All poses are expressed in the fixed map frame (NEU, meters).
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a position and orientation snapshot in the map frame.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number // unit quaternion
}

// NewPose builds a Pose from a position and a yaw angle about the vertical
// axis. Roll and pitch are zero; the navigation stack never commands them.
func NewPose(x, y, z, yaw float64) Pose {
	return Pose{
		Position:    r3.Vec{X: x, Y: y, Z: z},
		Orientation: QuatFromYaw(yaw),
	}
}

// Yaw extracts the heading angle from the pose orientation, in radians in
// the range (-pi, pi].
func (p Pose) Yaw() float64 {
	q := p.Orientation
	return math.Atan2(
		2*(q.Real*q.Kmag+q.Imag*q.Jmag),
		1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag),
	)
}

// QuatFromYaw returns the unit quaternion for a rotation of yaw radians
// about the vertical axis.
func QuatFromYaw(yaw float64) quat.Number {
	return quat.Number{
		Real: math.Cos(yaw / 2),
		Kmag: math.Sin(yaw / 2),
	}
}

// HorizontalDistance is the XY-plane distance between two points.
func HorizontalDistance(a, b r3.Vec) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Hypot(dx, dy)
}

// Distance is the 3D Euclidean distance between two points.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// Bearing returns the heading from one point toward another, in radians in
// (-pi, pi]. Only the horizontal components contribute.
func Bearing(from, to r3.Vec) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X)
}

// AbsAngleDiff returns the shortest angular distance between x and y with
// half-modulus c (pi for radians, 180 for degrees). The result is in [0, c],
// symmetric in x and y, and zero when x == y modulo 2c.
func AbsAngleDiff(x, y, c float64) float64 {
	return c - math.Abs(math.Mod(math.Abs(x-y), 2*c)-c)
}

// NormalizeAngle wraps an angle into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Clamp keeps value inside [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
