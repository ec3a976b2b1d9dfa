package mission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubNode returns a scripted sequence of statuses, repeating the last one,
// and counts its ticks.
type stubNode struct {
	statuses []Status
	ticks    int
	halts    int
}

func (n *stubNode) Tick(context.Context) Status {
	i := n.ticks
	n.ticks++
	if i >= len(n.statuses) {
		i = len(n.statuses) - 1
	}
	return n.statuses[i]
}

func (n *stubNode) Halt() { n.halts++ }

func success() *stubNode { return &stubNode{statuses: []Status{Success}} }
func failure() *stubNode { return &stubNode{statuses: []Status{Failure}} }

func TestSequenceAllSucceed(t *testing.T) {
	a, b := success(), success()
	seq := NewSequence(a, b)
	assert.Equal(t, Success, seq.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestSequenceShortCircuitsOnFailure(t *testing.T) {
	a, b, c := success(), failure(), success()
	seq := NewSequence(a, b, c)
	assert.Equal(t, Failure, seq.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
	assert.Equal(t, 0, c.ticks, "child after the failure must not be ticked")
}

func TestSequenceRemembersProgress(t *testing.T) {
	a := success()
	b := &stubNode{statuses: []Status{Running, Success}}
	seq := NewSequence(a, b)

	assert.Equal(t, Running, seq.Tick(context.Background()))
	assert.Equal(t, Success, seq.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks, "a succeeded child is not re-ticked")
	assert.Equal(t, 2, b.ticks)
}

func TestFallbackFirstSuccessWins(t *testing.T) {
	a, b, c := failure(), success(), success()
	fb := NewFallback(a, b, c)
	assert.Equal(t, Success, fb.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks, "exactly two child ticks")
	assert.Equal(t, 0, c.ticks)
}

func TestFallbackAllFail(t *testing.T) {
	a, b := failure(), failure()
	fb := NewFallback(a, b)
	assert.Equal(t, Failure, fb.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestRoundRobinRotates(t *testing.T) {
	a := &stubNode{statuses: []Status{Success, Success}}
	b := &stubNode{statuses: []Status{Success}}
	rr := NewRoundRobin(a, b)

	assert.Equal(t, Success, rr.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 0, b.ticks)

	// next tick starts at the next sibling
	assert.Equal(t, Success, rr.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestRoundRobinSkipsFailedUntilAllTried(t *testing.T) {
	a := failure()
	b := success()
	rr := NewRoundRobin(a, b)

	// a fails, b picks up within the same tick
	assert.Equal(t, Success, rr.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestRoundRobinAllFail(t *testing.T) {
	a, b := failure(), failure()
	rr := NewRoundRobin(a, b)
	assert.Equal(t, Failure, rr.Tick(context.Background()))
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestRateControllerThrottles(t *testing.T) {
	child := success()
	rc := NewRateController(child, time.Hour)
	now := time.Unix(1000, 0)
	rc.now = func() time.Time { return now }

	assert.Equal(t, Success, rc.Tick(context.Background()))
	assert.Equal(t, 1, child.ticks)

	// within the period: Running, child untouched
	now = now.Add(time.Minute)
	assert.Equal(t, Running, rc.Tick(context.Background()))
	assert.Equal(t, 1, child.ticks)

	// period elapsed: child re-invoked
	now = now.Add(time.Hour)
	assert.Equal(t, Success, rc.Tick(context.Background()))
	assert.Equal(t, 2, child.ticks)
}

func TestRateControllerKeepsTickingRunningChild(t *testing.T) {
	child := &stubNode{statuses: []Status{Running, Running, Success}}
	rc := NewRateController(child, time.Hour)
	now := time.Unix(1000, 0)
	rc.now = func() time.Time { return now }

	assert.Equal(t, Running, rc.Tick(context.Background()))
	assert.Equal(t, Running, rc.Tick(context.Background()))
	assert.Equal(t, Success, rc.Tick(context.Background()))
	assert.Equal(t, 3, child.ticks, "an in-flight child is not throttled")
}

func TestHaltPropagates(t *testing.T) {
	a := &stubNode{statuses: []Status{Running}}
	b := success()
	seq := NewSequence(a, NewFallback(b))
	seq.Tick(context.Background())
	seq.Halt()
	assert.Equal(t, 1, a.halts)
	assert.Equal(t, 1, b.halts)
}
