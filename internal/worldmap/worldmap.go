// Package worldmap holds the volumetric occupancy grid the planner and
// controller query. The map builder that populates it is an external
// collaborator; this package answers occupancy and line-of-sight questions
// and feeds cell edits to replanning subscribers.
package worldmap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// Occupancy classifies one map cell.
type Occupancy int8

const (
	Unknown Occupancy = iota
	Free
	Occupied
)

// String returns the state name for logging.
func (o Occupancy) String() string {
	switch o {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Cell addresses one grid cell. X and Y are signed, centered on the map
// origin; Z counts up from ground level.
type Cell struct {
	X, Y, Z int
}

// Change records one cell edit, delivered to replanning subscribers.
type Change struct {
	Cell Cell
	Was  Occupancy
	Now  Occupancy
}

// SegmentResult is a snapshot answer to "is this segment free". It is
// valid only at query time; callers re-check every control cycle.
type SegmentResult struct {
	Free     bool
	Blocking []Cell // occupied or unknown cells intersecting the segment
}

// Querier is the narrow interface the planner and controller consume.
type Querier interface {
	// IsSegmentFree reports whether the straight segment from a to b,
	// inflated by the vehicle radius, crosses only free space.
	IsSegmentFree(ctx context.Context, a, b r3.Vec) (SegmentResult, error)
	// CellOccupancy returns the tri-state classification of one cell.
	CellOccupancy(ctx context.Context, c Cell) (Occupancy, error)
}

// Grid is an in-memory implementation of the occupancy structure. Extents
// are in cells: x spans [-dimX/2, dimX/2), y spans [-dimY/2, dimY/2) and z
// spans [0, dimZ).
type Grid struct {
	mu    sync.RWMutex
	dimX  int
	dimY  int
	dimZ  int
	res   float64 // meters per cell
	infl  float64 // vehicle radius in meters
	cells []Occupancy

	rev atomic.Uint64

	subMu sync.Mutex
	subs  map[string]chan Change
}

// GridConfig contains configuration for a Grid.
type GridConfig struct {
	// DimX, DimY, DimZ are the map extents in cells.
	DimX, DimY, DimZ int
	// Resolution is the cell edge length in meters.
	Resolution float64
	// VehicleRadius inflates every query so the whole airframe fits.
	VehicleRadius float64
}

// NewGrid allocates a grid with every cell Unknown.
func NewGrid(cfg GridConfig) *Grid {
	res := cfg.Resolution
	if res <= 0 {
		res = 1.0
	}
	return &Grid{
		dimX:  cfg.DimX,
		dimY:  cfg.DimY,
		dimZ:  cfg.DimZ,
		res:   res,
		infl:  cfg.VehicleRadius,
		cells: make([]Occupancy, cfg.DimX*cfg.DimY*cfg.DimZ),
		subs:  make(map[string]chan Change),
	}
}

// Dims returns the grid extents in cells.
func (g *Grid) Dims() (x, y, z int) { return g.dimX, g.dimY, g.dimZ }

// Resolution returns the cell edge length in meters.
func (g *Grid) Resolution() float64 { return g.res }

// InBounds reports whether a cell lies inside the grid.
func (g *Grid) InBounds(c Cell) bool {
	return c.X >= -g.dimX/2 && c.X < g.dimX-g.dimX/2 &&
		c.Y >= -g.dimY/2 && c.Y < g.dimY-g.dimY/2 &&
		c.Z >= 0 && c.Z < g.dimZ
}

func (g *Grid) index(c Cell) int {
	x := c.X + g.dimX/2
	y := c.Y + g.dimY/2
	return (c.Z*g.dimY+y)*g.dimX + x
}

// CellAt maps a point in meters to its containing cell.
func (g *Grid) CellAt(p r3.Vec) Cell {
	return Cell{
		X: int(math.Floor(p.X / g.res)),
		Y: int(math.Floor(p.Y / g.res)),
		Z: int(math.Floor(p.Z / g.res)),
	}
}

// CellCenter returns the map-frame center of a cell, in meters.
func (g *Grid) CellCenter(c Cell) r3.Vec {
	return r3.Vec{
		X: (float64(c.X) + 0.5) * g.res,
		Y: (float64(c.Y) + 0.5) * g.res,
		Z: (float64(c.Z) + 0.5) * g.res,
	}
}

// SetOccupancy edits one cell and notifies subscribers of the change.
// Out-of-bounds edits are ignored.
func (g *Grid) SetOccupancy(c Cell, o Occupancy) {
	if !g.InBounds(c) {
		return
	}
	g.mu.Lock()
	i := g.index(c)
	was := g.cells[i]
	g.cells[i] = o
	g.mu.Unlock()

	if was == o {
		return
	}
	g.rev.Add(1)
	g.publish(Change{Cell: c, Was: was, Now: o})
}

// Revision counts effective cell edits since creation. Consumers that
// mirror the grid incrementally compare revisions to detect missed edits.
func (g *Grid) Revision() uint64 { return g.rev.Load() }

// CellOccupancy returns the classification of one cell. Cells outside the
// map are Unknown.
func (g *Grid) CellOccupancy(_ context.Context, c Cell) (Occupancy, error) {
	if !g.InBounds(c) {
		return Unknown, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[g.index(c)], nil
}

// IsSegmentFree samples the segment from a to b at half-resolution steps
// and checks a vehicle-radius sphere around each sample. Occupied or
// unknown cells block the segment.
func (g *Grid) IsSegmentFree(_ context.Context, a, b r3.Vec) (SegmentResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	length := r3.Norm(r3.Sub(b, a))
	step := g.res / 2
	steps := int(length/step) + 1

	blocking := make(map[Cell]struct{})
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
		for _, c := range g.cellsWithin(p, g.infl) {
			if !g.InBounds(c) {
				blocking[c] = struct{}{}
				continue
			}
			if occ := g.cells[g.index(c)]; occ != Free {
				blocking[c] = struct{}{}
			}
		}
	}

	if len(blocking) == 0 {
		return SegmentResult{Free: true}, nil
	}
	res := SegmentResult{Free: false, Blocking: make([]Cell, 0, len(blocking))}
	for c := range blocking {
		res.Blocking = append(res.Blocking, c)
	}
	return res, nil
}

// cellsWithin lists the cells intersecting a sphere at p. Called with the
// read lock held.
func (g *Grid) cellsWithin(p r3.Vec, radius float64) []Cell {
	if radius <= 0 {
		return []Cell{g.CellAt(p)}
	}
	span := int(math.Ceil(radius / g.res))
	center := g.CellAt(p)
	cells := make([]Cell, 0, (2*span+1)*(2*span+1))
	for dz := -span; dz <= span; dz++ {
		for dy := -span; dy <= span; dy++ {
			for dx := -span; dx <= span; dx++ {
				c := Cell{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				if r3.Norm(r3.Sub(g.CellCenter(c), p)) <= radius+g.res/2 {
					cells = append(cells, c)
				}
			}
		}
	}
	return cells
}

// MarkBoxOccupied sets every cell in the inclusive cell range to Occupied.
// Intended for tests and simulation setup.
func (g *Grid) MarkBoxOccupied(min, max Cell) {
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				g.SetOccupancy(Cell{X: x, Y: y, Z: z}, Occupied)
			}
		}
	}
}

// MarkBoxFree sets every cell in the inclusive cell range to Free.
func (g *Grid) MarkBoxFree(min, max Cell) {
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				g.SetOccupancy(Cell{X: x, Y: y, Z: z}, Free)
			}
		}
	}
}

// Reset returns every cell to Unknown. Subscribers are not notified; a
// reset invalidates any plan wholesale and callers replan from scratch.
func (g *Grid) Reset() {
	g.rev.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.cells {
		g.cells[i] = Unknown
	}
}

// Subscribe creates a channel receiving cell changes. The returned ID is
// used to unsubscribe.
func (g *Grid) Subscribe() (string, <-chan Change) {
	id := randomID()
	ch := make(chan Change, 64)
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a change subscriber and closes its channel.
func (g *Grid) Unsubscribe(id string) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if ch, ok := g.subs[id]; ok {
		close(ch)
		delete(g.subs, id)
	}
}

func (g *Grid) publish(ch Change) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for _, sub := range g.subs {
		select {
		case sub <- ch:
		default:
			// a full subscriber drops the edit rather than blocking map updates
		}
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// String summarises the grid for logging.
func (g *Grid) String() string {
	return fmt.Sprintf("grid %dx%dx%d @ %.2fm", g.dimX, g.dimY, g.dimZ, g.res)
}
