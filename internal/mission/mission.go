package mission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/transform"
)

// Goal is a navigate-to-pose request: where to go and which script's tree
// decides how.
type Goal struct {
	Pose   geom.Pose
	Script string
}

// Feedback is emitted once per tick regardless of tree status.
type Feedback struct {
	Pose               geom.Pose
	NavigationTime     time.Duration
	EstimatedRemaining time.Duration
	DistanceRemaining  float64 // 3D, altitude error included
	Recoveries         int
}

// Result carries the failure reason; empty on success.
type Result struct {
	Err string
}

// Service is the navigate-to-pose action server.
type Service struct {
	registry *Registry
	collab   Collaborators
	pose     func() transform.Snapshot
	rec      flightlog.Recorder
	logger   *log.Logger

	period time.Duration
	maxXY  float64

	server *action.Server[Goal, Feedback, Result]
}

// ServiceConfig contains configuration for a mission Service.
type ServiceConfig struct {
	Registry      *Registry
	Collaborators Collaborators
	// Pose feeds the per-tick feedback.
	Pose     func() transform.Snapshot
	Recorder flightlog.Recorder
	Logger   *log.Logger

	// Period is the tree tick period. Defaults to 500ms (2 Hz).
	Period time.Duration
	// MaxSpeedXY converts distance remaining into a time estimate.
	MaxSpeedXY float64
}

// NewService creates the mission action server.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = flightlog.Discard{}
	}
	period := cfg.Period
	if period <= 0 {
		period = 500 * time.Millisecond
	}
	s := &Service{
		registry: cfg.Registry,
		collab:   cfg.Collaborators,
		pose:     cfg.Pose,
		rec:      rec,
		logger:   logger,
		period:   period,
		maxXY:    cfg.MaxSpeedXY,
	}
	s.server = action.NewServer("mission", s.accept, s.execute, logger)
	return s
}

// Send submits a navigate-to-pose goal.
func (s *Service) Send(ctx context.Context, g Goal) (*action.Handle[Goal, Feedback, Result], error) {
	return s.server.Send(ctx, g)
}

// accept verifies the script exists and builds before any acceptance is
// signaled: a malformed mission never appears to start.
func (s *Service) accept(g Goal) error {
	script, err := s.registry.Get(g.Script)
	if err != nil {
		return err
	}
	if _, err := script.build(s.collab, &blackboard{goal: g.Pose}); err != nil {
		return fmt.Errorf("script %q does not build: %v", g.Script, err)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, h *action.Handle[Goal, Feedback, Result]) {
	g := h.Goal()
	goalID := h.ID().String()

	script, err := s.registry.Get(g.Script)
	if err != nil {
		h.Abort(Result{Err: err.Error()})
		return
	}
	bb := &blackboard{goal: g.Pose}
	root, err := script.build(s.collab, bb)
	if err != nil {
		h.Abort(Result{Err: err.Error()})
		return
	}

	s.rec.RecordEvent("mission", goalID, "started", g.Script)
	began := time.Now()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		if h.Cancelling() {
			root.Halt()
			s.rec.RecordEvent("mission", goalID, "cancelled", time.Since(began).String())
			h.Cancelled(Result{})
			return
		}
		if err := ctx.Err(); err != nil {
			root.Halt()
			h.Abort(Result{Err: err.Error()})
			return
		}

		st := root.Tick(ctx)
		s.emitFeedback(h, bb, began)

		switch st {
		case Success:
			s.rec.RecordEvent("mission", goalID, "succeeded", time.Since(began).String())
			h.Succeed(Result{})
			return
		case Failure:
			s.rec.RecordEvent("mission", goalID, "failed", time.Since(began).String())
			h.Abort(Result{Err: "mission tree failed"})
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
}

func (s *Service) emitFeedback(h *action.Handle[Goal, Feedback, Result], bb *blackboard, began time.Time) {
	fb := Feedback{
		NavigationTime: time.Since(began),
		Recoveries:     int(bb.recoveries.Load()),
	}
	if snap := s.pose(); snap.Valid {
		fb.Pose = snap.Pose
		fb.DistanceRemaining = geom.Distance(snap.Pose.Position, bb.goal.Position)
		if s.maxXY > 0 {
			fb.EstimatedRemaining = time.Duration(fb.DistanceRemaining / s.maxXY * float64(time.Second))
		}
	}
	h.PublishFeedback(fb)
}
