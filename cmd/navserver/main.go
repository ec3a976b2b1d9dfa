// navserver hosts the navigation control core: the mission executor, the
// waypoint follower, the incremental planner and the recovery behaviors,
// wired over a shared occupancy grid and one flight-command link.
//
// With -goal it flies a single mission and exits; without it it starts the
// servers and idles until a signal arrives, for use as an embedded host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/helix-aero/navstack/internal/config"
	"github.com/helix-aero/navstack/internal/controller"
	"github.com/helix-aero/navstack/internal/flightlink"
	"github.com/helix-aero/navstack/internal/flightlog"
	"github.com/helix-aero/navstack/internal/geom"
	"github.com/helix-aero/navstack/internal/mission"
	"github.com/helix-aero/navstack/internal/planner"
	"github.com/helix-aero/navstack/internal/recovery"
	"github.com/helix-aero/navstack/internal/transform"
	"github.com/helix-aero/navstack/internal/version"
	"github.com/helix-aero/navstack/internal/worldmap"
)

var (
	configPath = flag.String("config", "", "Path to tuning config (JSON)")
	devMode    = flag.Bool("dev", false, "Run without a serial link; commands go to an in-memory recorder")
	mapFile    = flag.String("map", "", "Occupancy grid snapshot to load at startup")
	startPose  = flag.String("start-pose", "0,0,0,0", "Initial pose as x,y,z,yaw")
	goalFlag   = flag.String("goal", "", "Fly one mission to x,y,z,yaw and exit")
	scriptName = flag.String("script", "", "Mission script name for -goal")
)

// deadReckoner integrates published setpoints into a pose estimate. It is
// the pose source when no external localization feed is wired in: good
// enough for bench runs, honest about being commanded motion, not
// measured motion.
type deadReckoner struct {
	inner flightlink.Publisher

	mu      sync.Mutex
	x, y, z float64
	yaw     float64
	lastPub time.Time
}

func newDeadReckoner(inner flightlink.Publisher, x, y, z, yaw float64) *deadReckoner {
	return &deadReckoner{inner: inner, x: x, y: y, z: z, yaw: yaw}
}

func (d *deadReckoner) Publish(sp flightlink.Setpoint) error {
	d.mu.Lock()
	now := time.Now()
	if !d.lastPub.IsZero() {
		dt := now.Sub(d.lastPub).Seconds()
		d.x += sp.LinearX * math.Cos(d.yaw) * dt
		d.y += sp.LinearX * math.Sin(d.yaw) * dt
		d.z += sp.LinearZ * dt
		d.yaw = geom.NormalizeAngle(d.yaw + sp.YawRate*dt)
	}
	d.lastPub = now
	d.mu.Unlock()
	return d.inner.Publish(sp)
}

func (d *deadReckoner) Close() error { return d.inner.Close() }

func (d *deadReckoner) LookupPose(context.Context) (geom.Pose, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return geom.NewPose(d.x, d.y, d.z, d.yaw), nil
}

func parsePose(s string) (geom.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.Pose{}, fmt.Errorf("want x,y,z,yaw, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Pose{}, fmt.Errorf("invalid component %q: %v", p, err)
		}
		vals[i] = v
	}
	return geom.NewPose(vals[0], vals[1], vals[2], vals[3]), nil
}

func main() {
	flag.Parse()
	log.Printf("[navserver] version %s", version.String())

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flightDB, err := flightlog.NewDB(cfg.GetFlightLogPath())
	if err != nil {
		log.Fatalf("failed to open flight log: %v", err)
	}
	defer flightDB.Close()

	var link flightlink.Publisher
	if *devMode {
		log.Printf("[navserver] dev mode: flight commands go to an in-memory recorder")
		link = flightlink.NewRecorder()
	} else {
		port, err := flightlink.OpenSerial(cfg.GetSerialDevice(), flightlink.DefaultBaudRate)
		if err != nil {
			log.Fatalf("failed to open serial link %s: %v", cfg.GetSerialDevice(), err)
		}
		link = port
	}

	initial, err := parsePose(*startPose)
	if err != nil {
		log.Fatalf("invalid -start-pose: %v", err)
	}
	reckoner := newDeadReckoner(link, initial.Position.X, initial.Position.Y, initial.Position.Z, initial.Yaw())
	defer reckoner.Close()

	poseCache := transform.NewCache(transform.CacheConfig{Source: reckoner})
	go poseCache.Run(ctx)

	grid := worldmap.NewGrid(worldmap.GridConfig{
		DimX:          cfg.GetMapSizeEW(),
		DimY:          cfg.GetMapSizeNS(),
		DimZ:          cfg.GetMapSizeU(),
		Resolution:    cfg.GetPlannerResolution(),
		VehicleRadius: cfg.GetVehicleRadius(),
	})
	if *mapFile != "" {
		if err := grid.LoadFile(*mapFile); err != nil {
			log.Fatalf("failed to load map %s: %v", *mapFile, err)
		}
		log.Printf("[navserver] loaded %s from %s", grid, *mapFile)
	}

	strategy := planner.NewDStarLite(planner.DStarLiteConfig{
		Grid:             grid,
		UnknownIsBlocked: cfg.GetUnknownIsBlocked(),
	})
	go strategy.Run(ctx)

	planService := planner.NewService(planner.ServiceConfig{
		Strategy: strategy,
		Grid:     grid,
		Pose: func() (geom.Pose, bool) {
			s := poseCache.Snapshot()
			return s.Pose, s.Valid
		},
		Recorder: flightDB,
	})

	lock := controller.NewLock()
	ctrlService := controller.NewService(controller.ServiceConfig{
		Lock:           lock,
		Pose:           poseCache.Snapshot,
		Querier:        grid,
		Publisher:      reckoner,
		Recorder:       flightDB,
		Period:         cfg.GetControlPeriod(),
		WaypointRadius: cfg.GetWaypointRadius(),
		MaxSpeedXY:     cfg.GetMaxSpeedXY(),
		MaxSpeedZ:      cfg.GetMaxSpeedZ(),
		MaxYawSpeed:    cfg.GetMaxYawSpeed(),
		GainsXY:        cfg.GetPIDX(),
		GainsZ:         cfg.GetPIDZ(),
		GainsYaw:       cfg.GetPIDYaw(),
	})
	recService := recovery.NewService(recovery.ServiceConfig{
		Lock:        lock,
		Pose:        poseCache.Snapshot,
		Publisher:   reckoner,
		Recorder:    flightDB,
		Period:      cfg.GetControlPeriod(),
		MaxSpeedZ:   cfg.GetMaxSpeedZ(),
		MaxYawSpeed: cfg.GetMaxYawSpeed(),
		GainsZ:      cfg.GetPIDZ(),
		GainsYaw:    cfg.GetPIDYaw(),
	})

	registry := mission.NewRegistry()
	if err := registry.LoadDir(cfg.GetScriptDir(), nil); err != nil {
		log.Printf("[navserver] no mission scripts: %v", err)
	}

	missionService := mission.NewService(mission.ServiceConfig{
		Registry: registry,
		Collaborators: mission.Collaborators{
			Planner:    planService,
			Controller: ctrlService,
			Recovery:   recService,
		},
		Pose:       poseCache.Snapshot,
		Recorder:   flightDB,
		Period:     cfg.GetControlPeriod(),
		MaxSpeedXY: cfg.GetMaxSpeedXY(),
	})

	if *goalFlag != "" {
		if *scriptName == "" {
			log.Fatal("-goal requires -script")
		}
		goalPose, err := parsePose(*goalFlag)
		if err != nil {
			log.Fatalf("invalid -goal: %v", err)
		}
		runMission(ctx, missionService, goalPose, *scriptName)
		return
	}

	log.Printf("[navserver] ready: scripts %v, %s", registry.Names(), grid)
	<-ctx.Done()
	log.Printf("[navserver] shutting down")
}

func runMission(ctx context.Context, svc *mission.Service, goal geom.Pose, script string) {
	h, err := svc.Send(ctx, mission.Goal{Pose: goal, Script: script})
	if err != nil {
		log.Fatalf("mission rejected: %v", err)
	}

	go func() {
		for {
			select {
			case fb := <-h.Feedback():
				log.Printf("[navserver] t=%s remaining=%.2fm est=%s recoveries=%d",
					fb.NavigationTime.Round(time.Millisecond), fb.DistanceRemaining,
					fb.EstimatedRemaining.Round(time.Second), fb.Recoveries)
			case <-h.Done():
				return
			}
		}
	}()

	res, status, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		log.Fatalf("mission interrupted: %v", err)
	}
	if res.Err != "" {
		log.Printf("[navserver] mission %s: %s", status, res.Err)
		os.Exit(1)
	}
	log.Printf("[navserver] mission %s", status)
}
