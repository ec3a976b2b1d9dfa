// Package pid implements a single-axis proportional-integral-derivative
// control law with output clamping. Each controlled axis (forward speed,
// vertical speed, yaw rate) owns an independent instance.
package pid

import "github.com/helix-aero/navstack/internal/geom"

// Controller holds the gains and the accumulated state of one control axis.
// It is not safe for concurrent use; each control loop owns its instances.
type Controller struct {
	dt       float64 // loop interval in seconds
	max      float64 // upper output clamp
	min      float64 // lower output clamp
	kp       float64
	ki       float64
	kd       float64
	integral float64
	prevErr  float64
}

// New creates a Controller for a loop running every dt seconds with output
// clamped to [min, max].
func New(dt, max, min, kp, ki, kd float64) *Controller {
	return &Controller{dt: dt, max: max, min: min, kp: kp, ki: ki, kd: kd}
}

// Calculate returns the actuation output that drives the process value pv
// toward the setpoint. The returned value is clamped to [min, max].
func (c *Controller) Calculate(setpoint, pv float64) float64 {
	err := setpoint - pv

	pOut := c.kp * err

	c.integral += err * c.dt
	iOut := c.ki * c.integral

	derivative := (err - c.prevErr) / c.dt
	dOut := c.kd * derivative

	out := geom.Clamp(pOut+iOut+dOut, c.min, c.max)

	c.prevErr = err
	return out
}

// Reset clears the integral and derivative state. Call between goals so a
// stale integral from the previous leg cannot kick the next one.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevErr = 0
}
