// Package planner computes waypoint sequences over the occupancy grid and
// repairs them incrementally when the map changes. The search is D* Lite
// (Koenig & Likhachev, 2002) run backward from the goal, so replanning near
// the vehicle touches only the invalidated region.
package planner

import (
	"container/heap"
	"math"

	"github.com/helix-aero/navstack/internal/worldmap"
)

// inf marks unreachable cells.
var inf = math.Inf(1)

// key is the two-field priority. Keys compare lexicographically; both
// fields are required for incremental repair to converge, this is not an
// optimization detail.
type key struct {
	k1 float64 // min(g, rhs) + heuristic to start
	k2 float64 // min(g, rhs)
}

func (a key) less(b key) bool {
	if a.k1 != b.k1 {
		return a.k1 < b.k1
	}
	return a.k2 < b.k2
}

// cellState carries the per-cell search state: the best known cost to goal
// g and the one-step lookahead rhs. A cell is consistent when g == rhs.
type cellState struct {
	cell worldmap.Cell
	g    float64
	rhs  float64
	item *queueItem // non-nil while on the open queue
}

func (s *cellState) consistent() bool { return s.g == s.rhs }

// queueItem is one open-queue entry.
type queueItem struct {
	state *cellState
	key   key
	index int
}

// openQueue is a min-heap over keys.
type openQueue []*queueItem

func (q openQueue) Len() int            { return len(q) }
func (q openQueue) Less(i, j int) bool  { return q[i].key.less(q[j].key) }
func (q openQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *openQueue) Push(x interface{}) { it := x.(*queueItem); it.index = len(*q); *q = append(*q, it) }
func (q *openQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// BlockedFunc reports whether a cell may not be entered. It captures the
// occupancy query, including the unknown-blocks policy.
type BlockedFunc func(worldmap.Cell) bool

// BoundsFunc reports whether a cell lies inside the map.
type BoundsFunc func(worldmap.Cell) bool

// Search is one D* Lite instance for a fixed (start, goal) pair. It stays
// alive across map edits so Repair can reuse prior work.
type Search struct {
	blocked  BlockedFunc
	inBounds BoundsFunc
	start    worldmap.Cell
	goal     worldmap.Cell

	states map[worldmap.Cell]*cellState
	queue  openQueue
}

// NewSearch seeds a search: the goal cell gets rhs = 0 and goes on the open
// queue as the only inconsistent cell.
func NewSearch(start, goal worldmap.Cell, blocked BlockedFunc, inBounds BoundsFunc) *Search {
	s := &Search{
		blocked:  blocked,
		inBounds: inBounds,
		start:    start,
		goal:     goal,
		states:   make(map[worldmap.Cell]*cellState),
	}
	gs := s.state(goal)
	gs.rhs = 0
	s.push(gs)
	return s
}

func (s *Search) state(c worldmap.Cell) *cellState {
	if st, ok := s.states[c]; ok {
		return st
	}
	st := &cellState{cell: c, g: inf, rhs: inf}
	s.states[c] = st
	return st
}

// heuristic is a lower bound on the cost from the start to c. Chebyshev
// distance in cells: every move costs at least 1.0 and shortens the
// dominant axis by at most one cell.
func (s *Search) heuristic(c worldmap.Cell) float64 {
	dx := math.Abs(float64(c.X - s.start.X))
	dy := math.Abs(float64(c.Y - s.start.Y))
	dz := math.Abs(float64(c.Z - s.start.Z))
	return math.Max(dx, math.Max(dy, dz))
}

func (s *Search) calcKey(st *cellState) key {
	m := math.Min(st.g, st.rhs)
	return key{k1: m + s.heuristic(st.cell), k2: m}
}

func (s *Search) push(st *cellState) {
	if st.item != nil {
		s.remove(st)
	}
	it := &queueItem{state: st, key: s.calcKey(st)}
	st.item = it
	heap.Push(&s.queue, it)
}

func (s *Search) remove(st *cellState) {
	if st.item == nil {
		return
	}
	heap.Remove(&s.queue, st.item.index)
	st.item = nil
}

// edgeCost is the transition cost between two adjacent cells, in cell
// units: 1.0 axis-aligned in the horizontal plane, 1.4 diagonal, plus 0.4
// for any vertical component. Infinite when either endpoint is blocked.
func (s *Search) edgeCost(a, b worldmap.Cell) float64 {
	if s.blocked(a) || s.blocked(b) {
		return inf
	}
	cost := 1.0
	if a.X != b.X && a.Y != b.Y {
		cost = 1.4
	}
	if a.Z != b.Z {
		cost += 0.4
	}
	return cost
}

// neighbors visits the 26-neighborhood of c that lies inside the map.
func (s *Search) neighbors(c worldmap.Cell, visit func(worldmap.Cell)) {
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := worldmap.Cell{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
				if s.inBounds(n) {
					visit(n)
				}
			}
		}
	}
}

// updateVertex recomputes the one-step lookahead for a cell and requeues
// it when inconsistent. The goal keeps rhs = 0 by definition.
func (s *Search) updateVertex(st *cellState) {
	if st.cell != s.goal {
		best := inf
		s.neighbors(st.cell, func(n worldmap.Cell) {
			c := s.edgeCost(st.cell, n)
			if c == inf {
				return
			}
			if g := s.state(n).g; g+c < best {
				best = g + c
			}
		})
		st.rhs = best
	}
	s.remove(st)
	if !st.consistent() {
		s.push(st)
	}
}

// ComputeShortestPath drives every cell whose optimal cost could have
// changed to consistency. It returns true when the start cell is reachable.
func (s *Search) ComputeShortestPath() bool {
	startState := s.state(s.start)
	for len(s.queue) > 0 {
		top := s.queue[0]
		if !top.key.less(s.calcKey(startState)) && startState.consistent() {
			break
		}
		st := heap.Pop(&s.queue).(*queueItem).state
		st.item = nil

		if kNew := s.calcKey(st); top.key.less(kNew) {
			// key went stale while queued; requeue with the fresh key
			it := &queueItem{state: st, key: kNew}
			st.item = it
			heap.Push(&s.queue, it)
			continue
		}

		if st.g > st.rhs {
			// over-consistent: lowering pass
			st.g = st.rhs
			s.neighbors(st.cell, func(n worldmap.Cell) {
				s.updateVertex(s.state(n))
			})
		} else {
			// under-consistent: raise this cell and propagate outward
			st.g = inf
			s.updateVertex(st)
			s.neighbors(st.cell, func(n worldmap.Cell) {
				s.updateVertex(s.state(n))
			})
		}
	}
	return startState.consistent() && startState.g != inf
}

// NotifyChanged marks a cell whose occupancy changed. The edit invalidates
// the edges touching the cell, so the cell and its neighbors get their
// lookahead recomputed and requeued when inconsistent. Call
// ComputeShortestPath afterward to re-converge.
func (s *Search) NotifyChanged(c worldmap.Cell) {
	if !s.inBounds(c) {
		return
	}
	s.updateVertex(s.state(c))
	s.neighbors(c, func(n worldmap.Cell) {
		s.updateVertex(s.state(n))
	})
}

// ExtractPath walks greedily from the start toward the goal, at each step
// taking the neighbor minimizing edge cost plus cost-to-goal. The start
// cell itself is omitted: the vehicle is already there. Returns nil when no
// path exists.
func (s *Search) ExtractPath() []worldmap.Cell {
	startState := s.state(s.start)
	if !startState.consistent() || startState.g == inf {
		return nil
	}

	var path []worldmap.Cell
	current := s.start
	// bound the walk so a cost-field defect cannot loop forever
	for limit := len(s.states) + 1; limit > 0; limit-- {
		if current == s.goal {
			return path
		}
		best := inf
		var next worldmap.Cell
		s.neighbors(current, func(n worldmap.Cell) {
			c := s.edgeCost(current, n)
			if c == inf {
				return
			}
			if total := c + s.state(n).g; total < best {
				best = total
				next = n
			}
		})
		if best == inf {
			return nil
		}
		path = append(path, next)
		current = next
	}
	return nil
}

// Start returns the search's start cell.
func (s *Search) Start() worldmap.Cell { return s.start }

// Goal returns the search's goal cell.
func (s *Search) Goal() worldmap.Cell { return s.goal }

// G exposes the cost-to-goal estimate for a cell. Used by tests to verify
// the consistency invariant.
func (s *Search) G(c worldmap.Cell) float64 { return s.state(c).g }

// Rhs exposes the one-step lookahead for a cell.
func (s *Search) Rhs(c worldmap.Cell) float64 { return s.state(c).rhs }

// Visited returns every cell the search has touched.
func (s *Search) Visited() []worldmap.Cell {
	cells := make([]worldmap.Cell, 0, len(s.states))
	for c := range s.states {
		cells = append(cells, c)
	}
	return cells
}
