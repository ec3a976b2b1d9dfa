package mission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/controller"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/planner"
	"github.com/helix-aero/navstack/internal/recovery"
)

// Collaborators are the services mission-tree leaves drive. Leaves bind
// them at construction; nothing is looked up or down-cast at tick time.
type Collaborators struct {
	Planner    *planner.Service
	Controller *controller.Service
	Recovery   *recovery.Service
}

// blackboard is the state shared between leaves of one mission execution:
// the leg goal, the last planned path and the recovery tally.
type blackboard struct {
	goal       geom.Pose
	path       []geom.Pose
	recoveries atomic.Int64
}

// computePathLeaf asks the planner for a path to the mission goal and
// stores it on the blackboard for the follow leaf.
type computePathLeaf struct {
	planner *planner.Service
	bb      *blackboard
	handle  *action.Handle[planner.Goal, planner.Feedback, planner.Result]
}

func (l *computePathLeaf) Tick(ctx context.Context) Status {
	if l.handle == nil {
		h, err := l.planner.Send(ctx, planner.Goal{Goal: l.bb.goal})
		if err != nil {
			return Failure
		}
		l.handle = h
	}
	switch l.handle.Status() {
	case action.StatusSucceeded:
		l.bb.path = l.handle.Result().Waypoints
		l.handle = nil
		return Success
	case action.StatusAborted, action.StatusCancelled:
		l.handle = nil
		return Failure
	default:
		return Running
	}
}

func (l *computePathLeaf) Halt() {
	if l.handle != nil {
		l.handle.Cancel()
		l.handle = nil
	}
}

// followPathLeaf hands the blackboard path to the waypoint follower.
type followPathLeaf struct {
	controller *controller.Service
	bb         *blackboard
	handle     *action.Handle[controller.Goal, controller.Feedback, controller.Result]
}

func (l *followPathLeaf) Tick(ctx context.Context) Status {
	if l.handle == nil {
		if len(l.bb.path) == 0 {
			return Failure
		}
		h, err := l.controller.Send(ctx, controller.Goal{Waypoints: l.bb.path})
		if err != nil {
			// busy or rejected: this leg fails, the tree decides what next
			return Failure
		}
		l.handle = h
	}
	switch l.handle.Status() {
	case action.StatusSucceeded:
		l.handle = nil
		return Success
	case action.StatusAborted, action.StatusCancelled:
		l.handle = nil
		return Failure
	default:
		return Running
	}
}

func (l *followPathLeaf) Halt() {
	if l.handle != nil {
		l.handle.Cancel()
		l.handle = nil
	}
}

// waitLeaf runs the wait recovery behavior.
type waitLeaf struct {
	recovery *recovery.Service
	bb       *blackboard
	duration time.Duration
	handle   *action.Handle[recovery.WaitGoal, recovery.WaitFeedback, recovery.WaitResult]
}

func (l *waitLeaf) Tick(ctx context.Context) Status {
	if l.handle == nil {
		h, err := l.recovery.SendWait(ctx, recovery.WaitGoal{Duration: l.duration})
		if err != nil {
			return Failure
		}
		l.handle = h
	}
	switch l.handle.Status() {
	case action.StatusSucceeded:
		// only completed recoveries count; cancelled or aborted ones don't
		l.bb.recoveries.Add(1)
		l.handle = nil
		return Success
	case action.StatusAborted, action.StatusCancelled:
		l.handle = nil
		return Failure
	default:
		return Running
	}
}

func (l *waitLeaf) Halt() {
	if l.handle != nil {
		l.handle.Cancel()
		l.handle = nil
	}
}

// spinLeaf runs the spin recovery behavior.
type spinLeaf struct {
	recovery *recovery.Service
	bb       *blackboard
	arc      float64
	handle   *action.Handle[recovery.SpinGoal, recovery.SpinFeedback, recovery.SpinResult]
}

func (l *spinLeaf) Tick(ctx context.Context) Status {
	if l.handle == nil {
		h, err := l.recovery.SendSpin(ctx, recovery.SpinGoal{Arc: l.arc})
		if err != nil {
			return Failure
		}
		l.handle = h
	}
	switch l.handle.Status() {
	case action.StatusSucceeded:
		l.bb.recoveries.Add(1)
		l.handle = nil
		return Success
	case action.StatusAborted, action.StatusCancelled:
		l.handle = nil
		return Failure
	default:
		return Running
	}
}

func (l *spinLeaf) Halt() {
	if l.handle != nil {
		l.handle.Cancel()
		l.handle = nil
	}
}
