// Package recovery executes the fallback behaviors a mission script reaches
// for when normal progress fails: holding station for a while, or spinning
// in place to let the mapper see more of the world. Both take the actuation
// lock, so they contend with the waypoint follower like any other owner of
// the airframe.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/controller"
	"github.com/helix-aero/navstack/internal/flightlink"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/pid"
	"github.com/helix-aero/navstack/internal/transform"
)

// ErrBusy reports that another execution holds the actuation lock.
var ErrBusy = errors.New("recovery: vehicle busy")

// spinDone ends a spin when the commanded yaw rate falls this low.
const spinDone = 0.02

// WaitGoal holds position for the given duration.
type WaitGoal struct {
	Duration time.Duration
}

// WaitFeedback reports the time left.
type WaitFeedback struct {
	Remaining time.Duration
}

// WaitResult reports how long the vehicle actually held.
type WaitResult struct {
	Elapsed time.Duration
}

// SpinGoal rotates in place through a signed arc in radians.
type SpinGoal struct {
	Arc float64
}

// SpinFeedback reports the rotation accumulated so far.
type SpinFeedback struct {
	Traveled float64
}

// SpinResult reports the total rotation achieved.
type SpinResult struct {
	Traveled float64
}

// Service runs the wait and spin action servers.
type Service struct {
	lock   *controller.Lock
	pose   func() transform.Snapshot
	pub    flightlink.Publisher
	rec    flightlog.Recorder
	logger *log.Logger

	period   time.Duration
	maxZ     float64
	maxYaw   float64
	gainsZ   [3]float64
	gainsYaw [3]float64

	waitServer *action.Server[WaitGoal, WaitFeedback, WaitResult]
	spinServer *action.Server[SpinGoal, SpinFeedback, SpinResult]
}

// ServiceConfig contains configuration for a recovery Service.
type ServiceConfig struct {
	Lock      *controller.Lock
	Pose      func() transform.Snapshot
	Publisher flightlink.Publisher
	Recorder  flightlog.Recorder
	Logger    *log.Logger

	// Period is the control cycle length. Defaults to 500ms (2 Hz).
	Period time.Duration
	// MaxSpeedZ and MaxYawSpeed clamp the station-keeping PIDs.
	MaxSpeedZ, MaxYawSpeed float64
	// GainsZ and GainsYaw are (p, i, d).
	GainsZ, GainsYaw [3]float64
}

// NewService creates the wait and spin action servers.
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
		lock:     cfg.Lock,
		pose:     cfg.Pose,
		pub:      cfg.Publisher,
		rec:      rec,
		logger:   logger,
		period:   period,
		maxZ:     cfg.MaxSpeedZ,
		maxYaw:   cfg.MaxYawSpeed,
		gainsZ:   cfg.GainsZ,
		gainsYaw: cfg.GainsYaw,
	}
	s.waitServer = action.NewServer("recovery/wait", s.acceptWait, s.executeWait, logger)
	s.spinServer = action.NewServer("recovery/spin", s.acceptSpin, s.executeSpin, logger)
	return s
}

// SendWait submits a wait goal. Wraps ErrBusy when the vehicle is owned.
func (s *Service) SendWait(ctx context.Context, g WaitGoal) (*action.Handle[WaitGoal, WaitFeedback, WaitResult], error) {
	return s.waitServer.Send(ctx, g)
}

// SendSpin submits a spin goal. Wraps ErrBusy when the vehicle is owned.
func (s *Service) SendSpin(ctx context.Context, g SpinGoal) (*action.Handle[SpinGoal, SpinFeedback, SpinResult], error) {
	return s.spinServer.Send(ctx, g)
}

func (s *Service) acceptWait(g WaitGoal) error {
	if g.Duration <= 0 {
		return errors.New("non-positive wait duration")
	}
	if !s.lock.TryAcquire() {
		return ErrBusy
	}
	return nil
}

func (s *Service) acceptSpin(g SpinGoal) error {
	if g.Arc == 0 {
		return errors.New("zero spin arc")
	}
	if !s.lock.TryAcquire() {
		return ErrBusy
	}
	return nil
}

func (s *Service) stop(goalID string) {
	for i := 0; i < 2; i++ {
		if err := s.pub.Publish(flightlink.Zero); err != nil {
			s.logger.Printf("[recovery] stop publish failed: %v", err)
		}
		s.rec.RecordSetpoint(goalID, 0, 0, 0, 0)
	}
}

func (s *Service) publish(goalID string, sp flightlink.Setpoint) {
	if err := s.pub.Publish(sp); err != nil {
		s.logger.Printf("[recovery] setpoint publish failed: %v", err)
	}
	s.rec.RecordSetpoint(goalID, sp.LinearX, sp.LinearY, sp.LinearZ, sp.YawRate)
}

// executeWait streams the zero setpoint until the duration elapses. The
// steady stream matters: the flight controller expects commands every
// cycle even when the command is "do not move".
func (s *Service) executeWait(ctx context.Context, h *action.Handle[WaitGoal, WaitFeedback, WaitResult]) {
	defer s.lock.Release()

	goalID := h.ID().String()
	d := h.Goal().Duration
	s.rec.RecordEvent("recovery", goalID, "wait_started", d.String())

	began := time.Now()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		if h.Cancelling() {
			s.stop(goalID)
			s.rec.RecordEvent("recovery", goalID, "cancelled", time.Since(began).String())
			h.Cancelled(WaitResult{Elapsed: time.Since(began)})
			return
		}
		if err := ctx.Err(); err != nil {
			s.stop(goalID)
			h.Abort(WaitResult{Elapsed: time.Since(began)})
			return
		}

		elapsed := time.Since(began)
		if elapsed >= d {
			break
		}
		h.PublishFeedback(WaitFeedback{Remaining: d - elapsed})
		s.publish(goalID, flightlink.Zero)

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	s.stop(goalID)
	s.rec.RecordEvent("recovery", goalID, "wait_done", "")
	h.Succeed(WaitResult{Elapsed: time.Since(began)})
}

// executeSpin turns through the requested arc at PID-limited yaw rate while
// holding altitude, finishing when the remaining command decays below the
// done threshold.
func (s *Service) executeSpin(ctx context.Context, h *action.Handle[SpinGoal, SpinFeedback, SpinResult]) {
	defer s.lock.Release()

	goalID := h.ID().String()
	arc := h.Goal().Arc
	s.rec.RecordEvent("recovery", goalID, "spin_started", fmt.Sprintf("%.3f rad", arc))

	dt := s.period.Seconds()
	pidYaw := pid.New(dt, s.maxYaw, -s.maxYaw, s.gainsYaw[0], s.gainsYaw[1], s.gainsYaw[2])
	pidZ := pid.New(dt, s.maxZ, -s.maxZ, s.gainsZ[0], s.gainsZ[1], s.gainsZ[2])

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	// The start yaw and hold altitude latch from the first valid pose, not
	// the first pose: a zero-valued snapshot here would aim the altitude
	// hold at z=0.
	first := s.pose()
	for !first.Valid {
		if h.Cancelling() {
			s.stop(goalID)
			s.rec.RecordEvent("recovery", goalID, "cancelled", "0.000 rad traveled")
			h.Cancelled(SpinResult{})
			return
		}
		if err := ctx.Err(); err != nil {
			s.stop(goalID)
			h.Abort(SpinResult{})
			return
		}
		s.logger.Printf("[recovery] no pose yet, holding")
		s.publish(goalID, flightlink.Zero)
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
		first = s.pose()
	}
	startYaw := first.Yaw
	holdZ := first.Pose.Position.Z
	targetYaw := geom.NormalizeAngle(startYaw + arc)

	prevYaw := startYaw
	traveled := 0.0

	for {
		if h.Cancelling() {
			s.stop(goalID)
			s.rec.RecordEvent("recovery", goalID, "cancelled", fmt.Sprintf("%.3f rad traveled", traveled))
			h.Cancelled(SpinResult{Traveled: traveled})
			return
		}
		if err := ctx.Err(); err != nil {
			s.stop(goalID)
			h.Abort(SpinResult{Traveled: traveled})
			return
		}

		snap := s.pose()
		if !snap.Valid {
			s.logger.Printf("[recovery] pose lost, holding")
			s.publish(goalID, flightlink.Zero)
			select {
			case <-ticker.C:
			case <-ctx.Done():
			}
			continue
		}
		traveled += math.Abs(geom.NormalizeAngle(snap.Yaw - prevYaw))
		prevYaw = snap.Yaw

		yawErr := geom.NormalizeAngle(targetYaw - snap.Yaw)
		cmd := pidYaw.Calculate(0, -yawErr)
		if math.Abs(cmd) <= spinDone {
			break
		}
		h.PublishFeedback(SpinFeedback{Traveled: traveled})

		var sp flightlink.Setpoint
		sp.YawRate = cmd
		sp.LinearZ = pidZ.Calculate(holdZ, snap.Pose.Position.Z)
		s.publish(goalID, sp)

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	s.stop(goalID)
	s.rec.RecordEvent("recovery", goalID, "spin_done", fmt.Sprintf("%.3f rad traveled", traveled))
	h.Succeed(SpinResult{Traveled: traveled})
}
