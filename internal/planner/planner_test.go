package planner

import (
	"context"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-aero/navstack/internal/action"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/worldmap"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// openGrid returns a grid with every cell marked Free.
func openGrid(t *testing.T) *worldmap.Grid {
	t.Helper()
	g := worldmap.NewGrid(worldmap.GridConfig{DimX: 20, DimY: 20, DimZ: 4, Resolution: 1.0})
	g.MarkBoxFree(worldmap.Cell{X: -10, Y: -10, Z: 0}, worldmap.Cell{X: 9, Y: 9, Z: 3})
	return g
}

func gridBlocked(g *worldmap.Grid) BlockedFunc {
	return func(c worldmap.Cell) bool {
		occ, err := g.CellOccupancy(context.Background(), c)
		return err != nil || occ != worldmap.Free
	}
}

func TestSearchStraightCorridor(t *testing.T) {
	g := openGrid(t)
	start := worldmap.Cell{X: 0, Y: 0, Z: 0}
	goal := worldmap.Cell{X: 5, Y: 0, Z: 0}

	s := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.True(t, s.ComputeShortestPath())

	path := s.ExtractPath()
	require.Len(t, path, 5, "one cell per step, start omitted")
	assert.Equal(t, goal, path[len(path)-1])
	for _, c := range path {
		assert.NotEqual(t, start, c, "path must not revisit the start cell")
		assert.Equal(t, 0, c.Z, "level flight is cheaper than climbing")
	}
}

func TestSearchDetoursAroundWall(t *testing.T) {
	g := openGrid(t)
	// wall across x=3 at every altitude, with a gap at y=6
	for z := 0; z < 4; z++ {
		for y := -10; y < 10; y++ {
			if y == 6 {
				continue
			}
			g.SetOccupancy(worldmap.Cell{X: 3, Y: y, Z: z}, worldmap.Occupied)
		}
	}

	start := worldmap.Cell{X: 0, Y: 0, Z: 1}
	goal := worldmap.Cell{X: 6, Y: 0, Z: 1}
	s := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.True(t, s.ComputeShortestPath())

	path := s.ExtractPath()
	require.NotNil(t, path)
	assert.Equal(t, goal, path[len(path)-1])

	crossedGap := false
	for _, c := range path {
		occ, err := g.CellOccupancy(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, worldmap.Free, occ, "path enters occupied cell %v", c)
		if c.X == 3 {
			assert.Equal(t, 6, c.Y, "the only opening is at y=6")
			crossedGap = true
		}
	}
	assert.True(t, crossedGap)
}

func TestSearchUnreachableGoal(t *testing.T) {
	g := openGrid(t)
	// seal the goal in a box
	goal := worldmap.Cell{X: 5, Y: 5, Z: 1}
	g.MarkBoxOccupied(worldmap.Cell{X: 4, Y: 4, Z: 0}, worldmap.Cell{X: 6, Y: 6, Z: 3})
	g.SetOccupancy(goal, worldmap.Free)

	s := NewSearch(worldmap.Cell{X: 0, Y: 0, Z: 1}, goal, gridBlocked(g), g.InBounds)
	assert.False(t, s.ComputeShortestPath())
	assert.Nil(t, s.ExtractPath())
}

func TestSearchRepairMatchesRecompute(t *testing.T) {
	start := worldmap.Cell{X: -4, Y: 0, Z: 1}
	goal := worldmap.Cell{X: 7, Y: 0, Z: 1}

	g := openGrid(t)
	s := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.True(t, s.ComputeShortestPath())
	require.NotNil(t, s.ExtractPath())

	// a wall appears across the solved path, gap at y=-5
	var edited []worldmap.Cell
	for z := 0; z < 4; z++ {
		for y := -10; y < 10; y++ {
			if y == -5 {
				continue
			}
			edited = append(edited, worldmap.Cell{X: 2, Y: y, Z: z})
		}
	}
	for _, c := range edited {
		g.SetOccupancy(c, worldmap.Occupied)
		s.NotifyChanged(c)
	}
	require.True(t, s.ComputeShortestPath(), "repair must find the detour")
	assertConverged(t, s)
	repaired := s.ExtractPath()

	fresh := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.True(t, fresh.ComputeShortestPath())
	assertConverged(t, fresh)
	recomputed := fresh.ExtractPath()

	// equal-cost ties may extract different cell walks, so compare the
	// solutions, not the walks: same cost, same endpoints, all cells free
	type solution struct {
		Cost float64
		Last worldmap.Cell
	}
	got := solution{Cost: pathCost(t, s, repaired), Last: repaired[len(repaired)-1]}
	want := solution{Cost: pathCost(t, fresh, recomputed), Last: recomputed[len(recomputed)-1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("repaired solution differs from full recompute (-recompute +repair):\n%s", diff)
	}
	assert.InDelta(t, fresh.G(start), s.G(start), 1e-9,
		"cost to goal must agree after repair")
	for _, c := range repaired {
		occ, err := g.CellOccupancy(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, worldmap.Free, occ, "repaired path enters %v", c)
	}
}

// assertConverged checks local consistency across every cell the search has
// touched: after compute-shortest-path converges a cell either still awaits
// expansion (g infinite) or has been driven to g == rhs.
func assertConverged(t *testing.T, s *Search) {
	t.Helper()
	for _, c := range s.Visited() {
		g, rhs := s.G(c), s.Rhs(c)
		if math.IsInf(g, 1) {
			continue
		}
		assert.InDelta(t, rhs, g, 1e-9, "cell %v left inconsistent (g=%v rhs=%v)", c, g, rhs)
	}
}

// pathCost sums edge costs along a walk starting at the search's start cell.
func pathCost(t *testing.T, s *Search, path []worldmap.Cell) float64 {
	t.Helper()
	require.NotEmpty(t, path)
	total := 0.0
	prev := s.Start()
	for _, c := range path {
		step := s.edgeCost(prev, c)
		require.False(t, math.IsInf(step, 1), "blocked edge %v -> %v", prev, c)
		total += step
		prev = c
	}
	return total
}

func TestSearchRepairAfterClearing(t *testing.T) {
	start := worldmap.Cell{X: 0, Y: 0, Z: 1}
	goal := worldmap.Cell{X: 6, Y: 0, Z: 1}

	g := openGrid(t)
	// full wall first, forces failure
	var wall []worldmap.Cell
	for z := 0; z < 4; z++ {
		for y := -10; y < 10; y++ {
			wall = append(wall, worldmap.Cell{X: 3, Y: y, Z: z})
		}
	}
	for _, c := range wall {
		g.SetOccupancy(c, worldmap.Occupied)
	}

	s := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.False(t, s.ComputeShortestPath())

	// a doorway opens; the repair must recover a path
	opened := worldmap.Cell{X: 3, Y: 0, Z: 1}
	g.SetOccupancy(opened, worldmap.Free)
	s.NotifyChanged(opened)
	require.True(t, s.ComputeShortestPath())

	path := s.ExtractPath()
	require.NotNil(t, path)
	assert.Equal(t, goal, path[len(path)-1])
}

func TestSearchVerticalCostPenalty(t *testing.T) {
	g := openGrid(t)
	start := worldmap.Cell{X: 0, Y: 0, Z: 0}
	goal := worldmap.Cell{X: 0, Y: 0, Z: 2}

	s := NewSearch(start, goal, gridBlocked(g), g.InBounds)
	require.True(t, s.ComputeShortestPath())
	// two climbs: (1.0 + 0.4) each
	assert.InDelta(t, 2.8, s.G(start), 1e-9)
}

func TestDStarLiteComputePath(t *testing.T) {
	g := openGrid(t)
	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})

	start := geom.NewPose(0.5, 0.5, 1.5, 0)
	goal := geom.NewPose(5.5, 0.5, 1.5, math.Pi/2)
	path, err := d.ComputePath(context.Background(), start, goal)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	last := path[len(path)-1]
	assert.InDelta(t, 5.5, last.Position.X, 1e-9)
	assert.InDelta(t, math.Pi/2, last.Yaw(), 1e-9,
		"final waypoint carries the goal orientation")
	for i := 0; i+1 < len(path); i++ {
		assert.InDelta(t,
			geom.Bearing(path[i].Position, path[i+1].Position),
			path[i].Yaw(), 1e-9,
			"intermediate waypoints face the next one")
	}
}

func TestDStarLiteUnknownPolicy(t *testing.T) {
	g := worldmap.NewGrid(worldmap.GridConfig{DimX: 20, DimY: 20, DimZ: 4, Resolution: 1.0})
	// grid left entirely Unknown

	start := geom.NewPose(0.5, 0.5, 0.5, 0)
	goal := geom.NewPose(4.5, 0.5, 0.5, 0)

	strict := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})
	_, err := strict.ComputePath(context.Background(), start, goal)
	assert.ErrorIs(t, err, ErrNoPath)

	permissive := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: false, Logger: testLogger()})
	path, err := permissive.ComputePath(context.Background(), start, goal)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestDStarLiteOutOfBounds(t *testing.T) {
	g := openGrid(t)
	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})

	_, err := d.ComputePath(context.Background(),
		geom.NewPose(0.5, 0.5, 0.5, 0), geom.NewPose(500, 0, 0.5, 0))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestDStarLiteReusesSearchAcrossCalls(t *testing.T) {
	g := openGrid(t)
	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	start := geom.NewPose(0.5, 0.5, 1.5, 0)
	goal := geom.NewPose(7.5, 0.5, 1.5, 0)

	first, err := d.ComputePath(context.Background(), start, goal)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// edit the map and wait for the change feed to fold it in
	g.SetOccupancy(worldmap.Cell{X: 4, Y: 0, Z: 1}, worldmap.Occupied)
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.applied == g.Revision()
	}, time.Second, 5*time.Millisecond)

	second, err := d.ComputePath(context.Background(), start, goal)
	require.NoError(t, err)
	for _, p := range second {
		assert.NotEqual(t, worldmap.Cell{X: 4, Y: 0, Z: 1}, g.CellAt(p.Position))
	}
}

func TestServicePlanAndReject(t *testing.T) {
	g := openGrid(t)
	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})
	current := geom.NewPose(0.5, 0.5, 1.5, 0)
	svc := NewService(ServiceConfig{
		Strategy: d,
		Grid:     g,
		Pose:     func() (geom.Pose, bool) { return current, true },
		Logger:   testLogger(),
	})

	// goal outside the map is rejected before acceptance
	_, err := svc.Send(context.Background(), Goal{Goal: geom.NewPose(900, 0, 1.5, 0)})
	assert.ErrorIs(t, err, action.ErrRejected)

	// start omitted: plans from the current pose
	h, err := svc.Send(context.Background(), Goal{Goal: geom.NewPose(5.5, 0.5, 1.5, 0)})
	require.NoError(t, err)
	res, status, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusSucceeded, status)
	assert.NotEmpty(t, res.Waypoints)
	assert.Greater(t, res.PlanningTime, time.Duration(0))
}

// pathRecorder captures recorded paths by goal; everything else discards.
type pathRecorder struct {
	flightlog.Discard

	mu    sync.Mutex
	goals map[string][]flightlog.PathPoint
}

func (r *pathRecorder) RecordPath(goalID string, pts []flightlog.PathPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.goals == nil {
		r.goals = map[string][]flightlog.PathPoint{}
	}
	r.goals[goalID] = pts
	return nil
}

func (r *pathRecorder) path(goalID string) []flightlog.PathPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.goals[goalID]
}

func TestServiceRecordsPlannedPath(t *testing.T) {
	g := openGrid(t)
	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})
	rec := &pathRecorder{}
	svc := NewService(ServiceConfig{
		Strategy: d,
		Grid:     g,
		Pose:     func() (geom.Pose, bool) { return geom.NewPose(0.5, 0.5, 1.5, 0), true },
		Recorder: rec,
		Logger:   testLogger(),
	})

	h, err := svc.Send(context.Background(), Goal{Goal: geom.NewPose(5.5, 0.5, 1.5, math.Pi/2)})
	require.NoError(t, err)
	res, status, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, action.StatusSucceeded, status)

	pts := rec.path(h.ID().String())
	require.Len(t, pts, len(res.Waypoints), "every waypoint of a successful plan is logged")
	for i, p := range pts {
		assert.Equal(t, i, p.Seq)
		assert.InDelta(t, res.Waypoints[i].Position.X, p.X, 1e-9)
		assert.InDelta(t, res.Waypoints[i].Yaw(), p.Yaw, 1e-9)
	}
}

func TestServiceAbortsOnNoPath(t *testing.T) {
	g := openGrid(t)
	// entomb the start
	g.MarkBoxOccupied(worldmap.Cell{X: -1, Y: -1, Z: 0}, worldmap.Cell{X: 1, Y: 1, Z: 3})
	g.SetOccupancy(worldmap.Cell{X: 0, Y: 0, Z: 1}, worldmap.Free)

	d := NewDStarLite(DStarLiteConfig{Grid: g, UnknownIsBlocked: true, Logger: testLogger()})
	svc := NewService(ServiceConfig{
		Strategy: d,
		Grid:     g,
		Pose:     func() (geom.Pose, bool) { return geom.NewPose(0.5, 0.5, 1.5, 0), true },
		Logger:   testLogger(),
	})

	h, err := svc.Send(context.Background(), Goal{Goal: geom.NewPose(5.5, 5.5, 1.5, 0)})
	require.NoError(t, err)
	res, status, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusAborted, status)
	assert.Contains(t, res.Err, "no path")
}
