package pid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProportionalOnly(t *testing.T) {
	c := New(0.5, 10, -10, 0.7, 0, 0)
	// error = 4, expect kp * error
	assert.InDelta(t, 2.8, c.Calculate(4, 0), 1e-9)
	// overshoot: error = -2
	assert.InDelta(t, -1.4, c.Calculate(0, 2), 1e-9)
}

func TestOutputClamped(t *testing.T) {
	c := New(0.5, 0.25, -0.25, 0.7, 0, 0)
	assert.Equal(t, 0.25, c.Calculate(100, 0))
	assert.Equal(t, -0.25, c.Calculate(-100, 0))
}

func TestIntegralAccumulates(t *testing.T) {
	c := New(0.5, 10, -10, 0, 1.0, 0)
	// constant error of 1: integral grows by err*dt each step
	assert.InDelta(t, 0.5, c.Calculate(1, 0), 1e-9)
	assert.InDelta(t, 1.0, c.Calculate(1, 0), 1e-9)
	assert.InDelta(t, 1.5, c.Calculate(1, 0), 1e-9)
}

func TestDerivativeOnErrorChange(t *testing.T) {
	c := New(0.5, 10, -10, 0, 0, 1.0)
	// first step: error jumps 0 -> 2, derivative = 2/0.5 = 4
	assert.InDelta(t, 4.0, c.Calculate(2, 0), 1e-9)
	// steady error: derivative term vanishes
	assert.InDelta(t, 0.0, c.Calculate(2, 0), 1e-9)
}

func TestResetClearsState(t *testing.T) {
	c := New(0.5, 10, -10, 0, 1.0, 1.0)
	c.Calculate(5, 0)
	c.Calculate(5, 0)
	c.Reset()
	// after reset the controller behaves like a fresh instance
	fresh := New(0.5, 10, -10, 0, 1.0, 1.0)
	assert.InDelta(t, fresh.Calculate(3, 0), c.Calculate(3, 0), 1e-9)
}

func TestConvergesTowardSetpoint(t *testing.T) {
	c := New(0.5, 0.25, -0.25, 0.7, 0, 0)
	pv := 0.0
	for i := 0; i < 200; i++ {
		out := c.Calculate(5, pv)
		pv += out * 0.5
	}
	assert.InDelta(t, 5.0, pv, 0.1)
}
