// Package mission executes navigate-to-pose requests by ticking a behavior
// tree loaded from a mission script. The tree encodes all retry and
// recovery policy; the executor itself only ticks, reports feedback and
// honors cancellation.
package mission

import (
	"context"
	"time"
)

// Status is the outcome of one tick of a tree node.
type Status int

const (
	Running Status = iota
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "invalid"
}

// Node is one behavior-tree node. Tick advances it one cooperative step.
// Halt cancels any in-flight work and returns the node to its initial
// state; it must be safe to call at any time.
type Node interface {
	Tick(ctx context.Context) Status
	Halt()
}

// Sequence ticks children in order. Every child must succeed; the first
// failure short-circuits. Progress is remembered across ticks, so an
// earlier child that already succeeded is not re-ticked.
type Sequence struct {
	children []Node
	current  int
}

// NewSequence creates a Sequence over children.
func NewSequence(children ...Node) *Sequence {
	return &Sequence{children: children}
}

func (s *Sequence) Tick(ctx context.Context) Status {
	for s.current < len(s.children) {
		switch s.children[s.current].Tick(ctx) {
		case Running:
			return Running
		case Failure:
			s.current = 0
			return Failure
		case Success:
			s.current++
		}
	}
	s.current = 0
	return Success
}

func (s *Sequence) Halt() {
	for _, c := range s.children {
		c.Halt()
	}
	s.current = 0
}

// Fallback ticks children in order until one succeeds. The first success
// short-circuits; all children failing fails the node.
type Fallback struct {
	children []Node
	current  int
}

// NewFallback creates a Fallback over children.
func NewFallback(children ...Node) *Fallback {
	return &Fallback{children: children}
}

func (f *Fallback) Tick(ctx context.Context) Status {
	for f.current < len(f.children) {
		switch f.children[f.current].Tick(ctx) {
		case Running:
			return Running
		case Success:
			f.current = 0
			return Success
		case Failure:
			f.current++
		}
	}
	f.current = 0
	return Failure
}

func (f *Fallback) Halt() {
	for _, c := range f.children {
		c.Halt()
	}
	f.current = 0
}

// RoundRobin rotates through children across successive ticks. A child
// that fails is not retried until every sibling has been tried; the node
// fails only when all children have failed in one pass.
type RoundRobin struct {
	children []Node
	current  int
	failures int
}

// NewRoundRobin creates a RoundRobin over children.
func NewRoundRobin(children ...Node) *RoundRobin {
	return &RoundRobin{children: children}
}

func (r *RoundRobin) Tick(ctx context.Context) Status {
	for range r.children {
		switch r.children[r.current].Tick(ctx) {
		case Running:
			return Running
		case Success:
			r.advance()
			r.failures = 0
			return Success
		case Failure:
			r.advance()
			r.failures++
			if r.failures >= len(r.children) {
				r.failures = 0
				return Failure
			}
		}
	}
	return Running
}

func (r *RoundRobin) advance() {
	r.current = (r.current + 1) % len(r.children)
}

func (r *RoundRobin) Halt() {
	for _, c := range r.children {
		c.Halt()
	}
	r.current = 0
	r.failures = 0
}

// RateController throttles how often its child is ticked. Between child
// ticks it reports Running without invoking the child. A child left
// Running is re-ticked every cycle; throttling applies to starting the
// child over after it finished.
type RateController struct {
	child    Node
	period   time.Duration
	running  bool
	lastTick time.Time
	now      func() time.Time
}

// NewRateController wraps child, re-invoking it at most once per period.
func NewRateController(child Node, period time.Duration) *RateController {
	return &RateController{child: child, period: period, now: time.Now}
}

func (rc *RateController) Tick(ctx context.Context) Status {
	if !rc.running {
		if !rc.lastTick.IsZero() && rc.now().Sub(rc.lastTick) < rc.period {
			return Running
		}
		rc.lastTick = rc.now()
	}
	st := rc.child.Tick(ctx)
	rc.running = st == Running
	return st
}

func (rc *RateController) Halt() {
	rc.child.Halt()
	rc.running = false
	rc.lastTick = time.Time{}
}
