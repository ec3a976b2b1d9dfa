// Package config loads the navigation tuning parameters. All values are
// read once at startup; runtime reconfiguration is not supported.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the root navigation configuration. Fields are pointers
// so a partial JSON file only overrides what it names; the Get* methods
// supply defaults for everything else.
type Config struct {
	// Speed limits
	MaxSpeedXY  *float64 `json:"max_speed_xy,omitempty"`  // m/s
	MaxSpeedZ   *float64 `json:"max_speed_z,omitempty"`   // m/s
	MaxYawSpeed *float64 `json:"max_yaw_speed,omitempty"` // rad/s

	// PID gains, [p, i, d] per axis
	PIDX   []float64 `json:"pid_x,omitempty"`
	PIDZ   []float64 `json:"pid_z,omitempty"`
	PIDYaw []float64 `json:"pid_yaw,omitempty"`

	// Controller params
	WaypointRadius *float64 `json:"waypoint_radius,omitempty"` // meters
	ControlPeriod  *string  `json:"control_period,omitempty"`  // duration string like "500ms"

	// Planner params
	PlannerResolution *float64 `json:"planner_resolution,omitempty"` // meters per cell
	MapSizeEW         *int     `json:"map_size_ew,omitempty"`        // cells, east-west
	MapSizeNS         *int     `json:"map_size_ns,omitempty"`        // cells, north-south
	MapSizeU          *int     `json:"map_size_u,omitempty"`         // cells, up
	VehicleRadius     *float64 `json:"vehicle_radius,omitempty"`     // meters
	UnknownIsBlocked  *bool    `json:"unknown_is_blocked,omitempty"`

	// Process wiring
	FlightLogPath *string `json:"flight_log_path,omitempty"`
	SerialDevice  *string `json:"serial_device,omitempty"`
	ScriptDir     *string `json:"script_dir,omitempty"`
}

// Load reads a Config from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.MaxSpeedXY != nil && *c.MaxSpeedXY <= 0 {
		return fmt.Errorf("max_speed_xy must be positive, got %f", *c.MaxSpeedXY)
	}
	if c.MaxSpeedZ != nil && *c.MaxSpeedZ <= 0 {
		return fmt.Errorf("max_speed_z must be positive, got %f", *c.MaxSpeedZ)
	}
	if c.MaxYawSpeed != nil && *c.MaxYawSpeed <= 0 {
		return fmt.Errorf("max_yaw_speed must be positive, got %f", *c.MaxYawSpeed)
	}
	if c.WaypointRadius != nil && *c.WaypointRadius <= 0 {
		return fmt.Errorf("waypoint_radius must be positive, got %f", *c.WaypointRadius)
	}
	if c.PlannerResolution != nil && *c.PlannerResolution <= 0 {
		return fmt.Errorf("planner_resolution must be positive, got %f", *c.PlannerResolution)
	}
	for name, gains := range map[string][]float64{"pid_x": c.PIDX, "pid_z": c.PIDZ, "pid_yaw": c.PIDYaw} {
		if gains != nil && len(gains) != 3 {
			return fmt.Errorf("%s must have exactly 3 gains [p, i, d], got %d", name, len(gains))
		}
	}
	if c.ControlPeriod != nil && *c.ControlPeriod != "" {
		if _, err := time.ParseDuration(*c.ControlPeriod); err != nil {
			return fmt.Errorf("invalid control_period %q: %w", *c.ControlPeriod, err)
		}
	}
	return nil
}

// GetMaxSpeedXY returns the maximum horizontal speed in m/s.
func (c *Config) GetMaxSpeedXY() float64 {
	if c.MaxSpeedXY == nil {
		return 0.25
	}
	return *c.MaxSpeedXY
}

// GetMaxSpeedZ returns the maximum vertical speed in m/s.
func (c *Config) GetMaxSpeedZ() float64 {
	if c.MaxSpeedZ == nil {
		return 0.33
	}
	return *c.MaxSpeedZ
}

// GetMaxYawSpeed returns the maximum yaw rate in rad/s.
func (c *Config) GetMaxYawSpeed() float64 {
	if c.MaxYawSpeed == nil {
		return 0.25
	}
	return *c.MaxYawSpeed
}

// GetPIDX returns the forward-speed axis gains [p, i, d].
func (c *Config) GetPIDX() [3]float64 { return gains(c.PIDX) }

// GetPIDZ returns the vertical-speed axis gains [p, i, d].
func (c *Config) GetPIDZ() [3]float64 { return gains(c.PIDZ) }

// GetPIDYaw returns the yaw-rate axis gains [p, i, d].
func (c *Config) GetPIDYaw() [3]float64 { return gains(c.PIDYaw) }

func gains(g []float64) [3]float64 {
	if len(g) != 3 {
		return [3]float64{0.7, 0, 0}
	}
	return [3]float64{g[0], g[1], g[2]}
}

// GetWaypointRadius returns the XY distance at which a waypoint counts as
// reached, in meters.
func (c *Config) GetWaypointRadius() float64 {
	if c.WaypointRadius == nil {
		return 0.3
	}
	return *c.WaypointRadius
}

// GetControlPeriod returns the control loop period.
func (c *Config) GetControlPeriod() time.Duration {
	if c.ControlPeriod == nil || *c.ControlPeriod == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ControlPeriod)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetPlannerResolution returns the planning cell size in meters.
func (c *Config) GetPlannerResolution() float64 {
	if c.PlannerResolution == nil {
		return 1.0
	}
	return *c.PlannerResolution
}

// GetMapSizeEW returns the map extent in cells, east-west.
func (c *Config) GetMapSizeEW() int {
	if c.MapSizeEW == nil {
		return 500
	}
	return *c.MapSizeEW
}

// GetMapSizeNS returns the map extent in cells, north-south.
func (c *Config) GetMapSizeNS() int {
	if c.MapSizeNS == nil {
		return 500
	}
	return *c.MapSizeNS
}

// GetMapSizeU returns the map extent in cells, vertically.
func (c *Config) GetMapSizeU() int {
	if c.MapSizeU == nil {
		return 10
	}
	return *c.MapSizeU
}

// GetVehicleRadius returns half the vehicle diameter in meters, used for
// collision inflation.
func (c *Config) GetVehicleRadius() float64 {
	if c.VehicleRadius == nil {
		return 0.4
	}
	return *c.VehicleRadius
}

// GetUnknownIsBlocked reports whether unknown map cells are treated as
// obstacles for planning.
func (c *Config) GetUnknownIsBlocked() bool {
	if c.UnknownIsBlocked == nil {
		return true
	}
	return *c.UnknownIsBlocked
}

// GetFlightLogPath returns the sqlite flight log location.
func (c *Config) GetFlightLogPath() string {
	if c.FlightLogPath == nil {
		return "flight_log.db"
	}
	return *c.FlightLogPath
}

// GetSerialDevice returns the flight controller serial device, or empty to
// run against the in-process simulator.
func (c *Config) GetSerialDevice() string {
	if c.SerialDevice == nil {
		return ""
	}
	return *c.SerialDevice
}

// GetScriptDir returns the directory searched for mission scripts.
func (c *Config) GetScriptDir() string {
	if c.ScriptDir == nil {
		return "scripts"
	}
	return *c.ScriptDir
}
