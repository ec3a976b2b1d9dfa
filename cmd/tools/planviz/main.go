// planviz renders a saved occupancy grid and, optionally, a planned path
// through it as a top-down PNG, one image per altitude level. Useful for
// eyeballing what the planner did with a map captured in flight.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/planner"
	"github.com/helix-aero/navstack/internal/worldmap"
)

var (
	mapFile   = flag.String("map", "", "Occupancy grid snapshot to render (required)")
	outDir    = flag.String("out", "plots", "Output directory for PNG files")
	startFlag = flag.String("start", "", "Optional plan start as x,y,z")
	goalFlag  = flag.String("goal", "", "Optional plan goal as x,y,z")
	unknownOK = flag.Bool("unknown-free", false, "Plan through unknown cells")
)

func parsePoint(s string) (geom.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Pose{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Pose{}, fmt.Errorf("invalid component %q: %v", p, err)
		}
		vals[i] = v
	}
	return geom.NewPose(vals[0], vals[1], vals[2], 0), nil
}

func main() {
	flag.Parse()
	if *mapFile == "" {
		log.Fatal("-map is required")
	}

	grid := worldmap.NewGrid(worldmap.GridConfig{DimX: 1, DimY: 1, DimZ: 1})
	if err := grid.LoadFile(*mapFile); err != nil {
		log.Fatalf("failed to load map: %v", err)
	}
	log.Printf("[planviz] loaded %s", grid)

	var path []geom.Pose
	if *startFlag != "" && *goalFlag != "" {
		start, err := parsePoint(*startFlag)
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
		goal, err := parsePoint(*goalFlag)
		if err != nil {
			log.Fatalf("invalid -goal: %v", err)
		}
		strategy := planner.NewDStarLite(planner.DStarLiteConfig{
			Grid:             grid,
			UnknownIsBlocked: !*unknownOK,
		})
		path, err = strategy.ComputePath(context.Background(), start, goal)
		if err != nil {
			log.Fatalf("planning failed: %v", err)
		}
		log.Printf("[planviz] planned %d waypoints", len(path))
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	_, _, dimZ := grid.Dims()
	for z := 0; z < dimZ; z++ {
		file := filepath.Join(*outDir, fmt.Sprintf("level_%02d.png", z))
		if err := renderLevel(grid, path, z, file); err != nil {
			log.Fatalf("failed to render level %d: %v", z, err)
		}
		log.Printf("[planviz] wrote %s", file)
	}
}

// renderLevel draws one altitude slice: occupied cells as filled squares,
// unknown cells faint, and the path polyline where it crosses this level.
func renderLevel(grid *worldmap.Grid, path []geom.Pose, z int, file string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("occupancy level %d", z)
	p.X.Label.Text = "east (m)"
	p.Y.Label.Text = "north (m)"

	dimX, dimY, _ := grid.Dims()
	var occupied, unknown plotter.XYs
	for y := -dimY / 2; y < dimY-dimY/2; y++ {
		for x := -dimX / 2; x < dimX-dimX/2; x++ {
			c := worldmap.Cell{X: x, Y: y, Z: z}
			occ, err := grid.CellOccupancy(context.Background(), c)
			if err != nil {
				continue
			}
			center := grid.CellCenter(c)
			switch occ {
			case worldmap.Occupied:
				occupied = append(occupied, plotter.XY{X: center.X, Y: center.Y})
			case worldmap.Unknown:
				unknown = append(unknown, plotter.XY{X: center.X, Y: center.Y})
			}
		}
	}

	if len(unknown) > 0 {
		s, err := plotter.NewScatter(unknown)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.Gray{Y: 220}
		s.GlyphStyle.Radius = vg.Points(1)
		p.Add(s)
	}
	if len(occupied) > 0 {
		s, err := plotter.NewScatter(occupied)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
	}

	var line plotter.XYs
	for _, wp := range path {
		if grid.CellAt(wp.Position).Z == z {
			line = append(line, plotter.XY{X: wp.Position.X, Y: wp.Position.Y})
		}
	}
	if len(line) > 1 {
		l, err := plotter.NewLine(line)
		if err != nil {
			return err
		}
		l.Width = vg.Points(1)
		l.Color = color.RGBA{B: 200, A: 255}
		p.Add(l)
	}

	return p.Save(10*vg.Inch, 10*vg.Inch, file)
}
