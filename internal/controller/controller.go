// Package controller realizes waypoint sequences as velocity setpoints.
// It owns the actuation lock: while a follow-waypoints goal executes,
// nothing else may command the airframe. The contract with the map is
// re-checked every cycle, so motion never crosses newly-discovered
// obstacles.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/flightlink"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/pid"
	"github.com/helix-aero/navstack/internal/transform"
	"github.com/helix-aero/navstack/internal/worldmap"
)

// ErrBusy reports that another execution holds the actuation lock.
var ErrBusy = errors.New("controller: vehicle busy")

const (
	// yawAlignGate is the yaw error below which forward speed is
	// commanded; the vehicle turns to face the waypoint before moving.
	yawAlignGate = 0.087 // rad, about 5 degrees
	// finalYawDone ends the final orientation correction when the
	// commanded yaw rate falls this low.
	finalYawDone = 0.02
)

// Goal is an ordered waypoint sequence to fly.
type Goal struct {
	Waypoints []geom.Pose
}

// Feedback reports which waypoint is currently targeted.
type Feedback struct {
	Index    int
	Distance float64 // horizontal meters to the targeted waypoint
}

// Result lists the waypoints never reached. Empty means full success.
type Result struct {
	Missed []int
	Err    string
}

// Service is the follow-waypoints action server.
type Service struct {
	lock    *Lock
	pose    func() transform.Snapshot
	querier worldmap.Querier
	pub     flightlink.Publisher
	rec     flightlog.Recorder
	logger  *log.Logger

	period       time.Duration
	queryTimeout time.Duration
	radius       float64
	maxXY        float64
	maxZ         float64
	maxYaw       float64
	gainsXY      [3]float64
	gainsZ       [3]float64
	gainsYaw     [3]float64

	server *action.Server[Goal, Feedback, Result]
}

// ServiceConfig contains configuration for a controller Service.
type ServiceConfig struct {
	Lock *Lock
	// Pose returns the latest pose snapshot; one call per cycle.
	Pose    func() transform.Snapshot
	Querier worldmap.Querier
	// Publisher receives one setpoint per control cycle.
	Publisher flightlink.Publisher
	// Recorder gets a copy of every published setpoint. Optional.
	Recorder flightlog.Recorder
	Logger   *log.Logger

	// Period is the control cycle length. Defaults to 500ms (2 Hz).
	Period time.Duration
	// QueryTimeout bounds each map/pose collaborator call.
	QueryTimeout time.Duration
	// WaypointRadius is the horizontal reach distance in meters.
	WaypointRadius float64
	// MaxSpeedXY, MaxSpeedZ, MaxYawSpeed clamp the PID outputs.
	MaxSpeedXY, MaxSpeedZ, MaxYawSpeed float64
	// GainsXY, GainsZ, GainsYaw are (p, i, d) per axis.
	GainsXY, GainsZ, GainsYaw [3]float64
}

// NewService creates the follow-waypoints action server.
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
	qt := cfg.QueryTimeout
	if qt <= 0 {
		qt = 200 * time.Millisecond
	}
	radius := cfg.WaypointRadius
	if radius <= 0 {
		radius = 0.3
	}
	s := &Service{
		lock:         cfg.Lock,
		pose:         cfg.Pose,
		querier:      cfg.Querier,
		pub:          cfg.Publisher,
		rec:          rec,
		logger:       logger,
		period:       period,
		queryTimeout: qt,
		radius:       radius,
		maxXY:        cfg.MaxSpeedXY,
		maxZ:         cfg.MaxSpeedZ,
		maxYaw:       cfg.MaxYawSpeed,
		gainsXY:      cfg.GainsXY,
		gainsZ:       cfg.GainsZ,
		gainsYaw:     cfg.GainsYaw,
	}
	s.server = action.NewServer("controller", s.accept, s.execute, logger)
	return s
}

// accept takes the actuation lock; a held lock rejects the goal outright.
// The matching Release happens when execution terminates.
func (s *Service) accept(g Goal) error {
	if len(g.Waypoints) == 0 {
		return errors.New("empty waypoint sequence")
	}
	if !s.lock.TryAcquire() {
		return ErrBusy
	}
	return nil
}

// Send submits a follow-waypoints goal. A goal rejected because the
// vehicle is busy wraps ErrBusy.
func (s *Service) Send(ctx context.Context, g Goal) (*action.Handle[Goal, Feedback, Result], error) {
	return s.server.Send(ctx, g)
}

func missedFrom(index, total int) []int {
	missed := make([]int, 0, total-index)
	for i := index; i < total; i++ {
		missed = append(missed, i)
	}
	return missed
}

// stop publishes the all-zero setpoint twice: if the link drops one frame
// the flight controller must not latch the last nonzero command.
func (s *Service) stop(goalID string) {
	for i := 0; i < 2; i++ {
		if err := s.pub.Publish(flightlink.Zero); err != nil {
			s.logger.Printf("[controller] stop publish failed: %v", err)
		}
		s.rec.RecordSetpoint(goalID, 0, 0, 0, 0)
	}
}

func (s *Service) publish(goalID string, sp flightlink.Setpoint) {
	if err := s.pub.Publish(sp); err != nil {
		s.logger.Printf("[controller] setpoint publish failed: %v", err)
	}
	s.rec.RecordSetpoint(goalID, sp.LinearX, sp.LinearY, sp.LinearZ, sp.YawRate)
}

func (s *Service) segmentFree(ctx context.Context, from, to geom.Pose) bool {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.querier.IsSegmentFree(qctx, from.Position, to.Position)
	if err != nil {
		// a map we cannot ask is a map we cannot trust
		s.logger.Printf("[controller] segment query failed, treating as blocked: %v", err)
		return false
	}
	return res.Free
}

func (s *Service) execute(ctx context.Context, h *action.Handle[Goal, Feedback, Result]) {
	defer s.lock.Release()

	goalID := h.ID().String()
	waypoints := h.Goal().Waypoints
	s.rec.RecordEvent("controller", goalID, "accepted", fmt.Sprintf("%d waypoints", len(waypoints)))

	dt := s.period.Seconds()
	pidX := pid.New(dt, s.maxXY, -s.maxXY, s.gainsXY[0], s.gainsXY[1], s.gainsXY[2])
	pidZ := pid.New(dt, s.maxZ, -s.maxZ, s.gainsZ[0], s.gainsZ[1], s.gainsZ[2])
	pidYaw := pid.New(dt, s.maxYaw, -s.maxYaw, s.gainsYaw[0], s.gainsYaw[1], s.gainsYaw[2])

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for i, wp := range waypoints {
	cycle:
		for {
			if h.Cancelling() {
				s.stop(goalID)
				s.rec.RecordEvent("controller", goalID, "cancelled", fmt.Sprintf("at waypoint %d", i))
				h.Cancelled(Result{Missed: missedFrom(i, len(waypoints))})
				return
			}
			if err := ctx.Err(); err != nil {
				s.stop(goalID)
				h.Abort(Result{Missed: missedFrom(i, len(waypoints)), Err: err.Error()})
				return
			}

			snap := s.pose()
			if !snap.Valid {
				s.logger.Printf("[controller] no pose yet, holding")
				s.publish(goalID, flightlink.Zero)
				select {
				case <-ticker.C:
					continue
				case <-ctx.Done():
					continue
				}
			}

			dist := geom.HorizontalDistance(snap.Pose.Position, wp.Position)
			h.PublishFeedback(Feedback{Index: i, Distance: dist})

			if dist < s.radius {
				s.rec.RecordEvent("controller", goalID, "waypoint_reached", fmt.Sprintf("index %d", i))
				break cycle
			}

			if !s.segmentFree(ctx, snap.Pose, wp) {
				s.stop(goalID)
				s.rec.RecordEvent("controller", goalID, "obstructed",
					fmt.Sprintf("segment to waypoint %d", i))
				s.logger.Printf("[controller] goal %s: segment to waypoint %d no longer free", goalID, i)
				h.Abort(Result{Missed: missedFrom(i, len(waypoints)), Err: "segment obstructed"})
				return
			}

			bearing := geom.Bearing(snap.Pose.Position, wp.Position)
			yawErr := geom.NormalizeAngle(bearing - snap.Yaw)

			var sp flightlink.Setpoint
			sp.YawRate = pidYaw.Calculate(0, -yawErr)
			sp.LinearZ = pidZ.Calculate(wp.Position.Z, snap.Pose.Position.Z)
			if math.Abs(yawErr) < yawAlignGate {
				sp.LinearX = pidX.Calculate(0, -dist)
			}
			s.publish(goalID, sp)

			select {
			case <-ticker.C:
			case <-ctx.Done():
			}
		}
	}

	// all waypoints reached; rotate to the goal orientation
	goalYaw := waypoints[len(waypoints)-1].Yaw()
	for {
		if h.Cancelling() {
			s.stop(goalID)
			h.Cancelled(Result{})
			return
		}
		if err := ctx.Err(); err != nil {
			s.stop(goalID)
			h.Abort(Result{Err: err.Error()})
			return
		}
		snap := s.pose()
		yawErr := geom.NormalizeAngle(goalYaw - snap.Yaw)
		cmd := pidYaw.Calculate(0, -yawErr)
		if math.Abs(cmd) <= finalYawDone {
			break
		}
		s.publish(goalID, flightlink.Setpoint{YawRate: cmd})
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	s.stop(goalID)
	s.rec.RecordEvent("controller", goalID, "succeeded", "")
	h.Succeed(Result{})
}
