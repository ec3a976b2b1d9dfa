package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/worldmap"
)

// ErrNoPath reports that the goal is unreachable on the current map.
var ErrNoPath = errors.New("planner: no path to goal")

// ErrOutOfBounds reports a goal outside the map extents.
var ErrOutOfBounds = errors.New("planner: goal outside map bounds")

// Strategy computes a waypoint sequence between two poses. Implementations
// may keep state between calls to repair instead of recomputing.
type Strategy interface {
	ComputePath(ctx context.Context, start, goal geom.Pose) ([]geom.Pose, error)
}

// Goal requests a path. A nil Start means "plan from the current pose";
// the service resolves it before searching.
type Goal struct {
	Start *geom.Pose
	Goal  geom.Pose
}

// Feedback is empty: planning is a single burst of work with no
// intermediate state worth streaming.
type Feedback struct{}

// Result carries the planned path.
type Result struct {
	Waypoints    []geom.Pose
	PlanningTime time.Duration
	Err          string
}

// PoseFunc supplies the current vehicle pose when a goal omits the start.
type PoseFunc func() (geom.Pose, bool)

// DStarLite is the incremental Strategy. It keeps the last search alive and
// feeds map edits into it, so a replan over the same endpoints repairs the
// previous solution instead of starting over.
type DStarLite struct {
	grid           *worldmap.Grid
	unknownBlocked bool
	logger         *log.Logger

	mu      sync.Mutex
	search  *Search
	applied uint64 // grid revision folded into the live search
}

// DStarLiteConfig contains configuration for a DStarLite strategy.
type DStarLiteConfig struct {
	Grid *worldmap.Grid
	// UnknownIsBlocked treats never-observed cells as untraversable.
	UnknownIsBlocked bool
	Logger           *log.Logger
}

// NewDStarLite creates the strategy. Call Run to start consuming map edits.
func NewDStarLite(cfg DStarLiteConfig) *DStarLite {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &DStarLite{
		grid:           cfg.Grid,
		unknownBlocked: cfg.UnknownIsBlocked,
		logger:         logger,
	}
}

// Run subscribes to map edits and applies them to the live search until ctx
// is cancelled. Without a running Run loop every plan is a full search.
func (d *DStarLite) Run(ctx context.Context) {
	id, ch := d.grid.Subscribe()
	defer d.grid.Unsubscribe(id)

	d.logger.Printf("[planner] consuming map edits (sub %s)", id)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			d.mu.Lock()
			if d.search != nil {
				d.search.NotifyChanged(change.Cell)
				d.applied++
			}
			d.mu.Unlock()
		}
	}
}

func (d *DStarLite) blocked(c worldmap.Cell) bool {
	occ, err := d.grid.CellOccupancy(context.Background(), c)
	if err != nil {
		return true
	}
	switch occ {
	case worldmap.Occupied:
		return true
	case worldmap.Unknown:
		return d.unknownBlocked
	default:
		return false
	}
}

// ComputePath searches from start to goal. When the previous search used
// the same start and goal cells the accumulated map edits have already been
// folded in and only the invalidated region is re-expanded.
func (d *DStarLite) ComputePath(ctx context.Context, start, goal geom.Pose) ([]geom.Pose, error) {
	startCell := d.grid.CellAt(start.Position)
	goalCell := d.grid.CellAt(goal.Position)
	if !d.grid.InBounds(goalCell) {
		return nil, fmt.Errorf("%w: cell %v", ErrOutOfBounds, goalCell)
	}
	if !d.grid.InBounds(startCell) {
		return nil, fmt.Errorf("planner: start cell %v outside map bounds", startCell)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	began := time.Now()
	// Reuse the live search only when the endpoints match and every grid
	// edit since it was built has been folded in. A lagging or dropped
	// edit feed falls back to a full search rather than a stale repair.
	reused := d.search != nil &&
		d.search.Start() == startCell && d.search.Goal() == goalCell &&
		d.applied == d.grid.Revision()
	if !reused {
		d.search = NewSearch(startCell, goalCell, d.blocked, d.grid.InBounds)
		d.applied = d.grid.Revision()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.search.ComputeShortestPath() {
		d.logger.Printf("[planner] no path %v -> %v (reused=%t, %d cells touched)",
			startCell, goalCell, reused, len(d.search.Visited()))
		return nil, ErrNoPath
	}

	cells := d.search.ExtractPath()
	if cells == nil {
		return nil, ErrNoPath
	}
	d.logger.Printf("[planner] path %v -> %v: %d waypoints in %s (reused=%t)",
		startCell, goalCell, len(cells), time.Since(began).Round(time.Microsecond), reused)
	return d.cellsToPoses(cells, goal), nil
}

// cellsToPoses converts the cell walk to waypoint poses at cell centers.
// Each waypoint faces the next; the last one carries the goal orientation
// so the vehicle ends the leg pointing the way the mission asked.
func (d *DStarLite) cellsToPoses(cells []worldmap.Cell, goal geom.Pose) []geom.Pose {
	poses := make([]geom.Pose, len(cells))
	for i, c := range cells {
		center := d.grid.CellCenter(c)
		yaw := goal.Yaw()
		if i+1 < len(cells) {
			yaw = geom.Bearing(center, d.grid.CellCenter(cells[i+1]))
		}
		poses[i] = geom.Pose{Position: center, Orientation: geom.QuatFromYaw(yaw)}
	}
	if n := len(poses); n > 0 {
		poses[n-1].Orientation = goal.Orientation
	}
	return poses
}

// Service exposes path planning as an action server.
type Service struct {
	strategy Strategy
	grid     *worldmap.Grid
	poseFn   PoseFunc
	rec      flightlog.Recorder
	server   *action.Server[Goal, Feedback, Result]
	logger   *log.Logger
}

// ServiceConfig contains configuration for a planner Service.
type ServiceConfig struct {
	Strategy Strategy
	Grid     *worldmap.Grid
	// Pose supplies the start pose for goals that omit one.
	Pose     PoseFunc
	Recorder flightlog.Recorder
	Logger   *log.Logger
}

// NewService creates the planner action server.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = flightlog.Discard{}
	}
	s := &Service{
		strategy: cfg.Strategy,
		grid:     cfg.Grid,
		poseFn:   cfg.Pose,
		rec:      rec,
		logger:   logger,
	}
	s.server = action.NewServer("planner", s.accept, s.execute, logger)
	return s
}

// accept rejects goals outside the map before any search work starts.
func (s *Service) accept(g Goal) error {
	if !s.grid.InBounds(s.grid.CellAt(g.Goal.Position)) {
		return fmt.Errorf("goal %v outside map bounds", g.Goal.Position)
	}
	if g.Start == nil && s.poseFn == nil {
		return errors.New("no start pose given and no pose source configured")
	}
	return nil
}

func (s *Service) execute(ctx context.Context, h *action.Handle[Goal, Feedback, Result]) {
	g := h.Goal()

	start := geom.Pose{}
	if g.Start != nil {
		start = *g.Start
	} else {
		p, ok := s.poseFn()
		if !ok {
			h.Abort(Result{Err: "current pose unavailable"})
			return
		}
		start = p
	}

	began := time.Now()
	waypoints, err := s.strategy.ComputePath(ctx, start, g.Goal)
	if err != nil {
		s.logger.Printf("[planner] goal %s failed: %v", h.ID(), err)
		h.Abort(Result{Err: err.Error(), PlanningTime: time.Since(began)})
		return
	}
	pts := make([]flightlog.PathPoint, len(waypoints))
	for i, wp := range waypoints {
		pts[i] = flightlog.PathPoint{
			Seq: i,
			X:   wp.Position.X,
			Y:   wp.Position.Y,
			Z:   wp.Position.Z,
			Yaw: wp.Yaw(),
		}
	}
	if err := s.rec.RecordPath(h.ID().String(), pts); err != nil {
		s.logger.Printf("[planner] path record failed: %v", err)
	}
	h.Succeed(Result{Waypoints: waypoints, PlanningTime: time.Since(began)})
}

// Send submits a planning goal.
func (s *Service) Send(ctx context.Context, g Goal) (*action.Handle[Goal, Feedback, Result], error) {
	return s.server.Send(ctx, g)
}
