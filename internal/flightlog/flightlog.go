// Package flightlog persists what the vehicle was told and when: every
// setpoint sent to the flight controller, mission-level events and the
// paths the planner produced. The log is a post-flight diagnostic record,
// never read on the control path.
package flightlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder is the write side of the flight log. All methods must be safe
// to call from control loops; failures are returned, not fatal.
type Recorder interface {
	RecordSetpoint(goalID string, vx, vy, vz, yawRate float64) error
	RecordEvent(component, goalID, event, detail string) error
	RecordPath(goalID string, waypoints []PathPoint) error
}

// PathPoint is one planned waypoint as stored.
type PathPoint struct {
	Seq     int
	X, Y, Z float64
	Yaw     float64
}

// Event is one logged mission event.
type Event struct {
	Component string
	GoalID    string
	Event     string
	Detail    string
	Timestamp time.Time
}

func (e *Event) String() string {
	return fmt.Sprintf("[%s] goal %s: %s %s", e.Component, e.GoalID, e.Event, e.Detail)
}

// Setpoint is one logged flight command.
type Setpoint struct {
	GoalID    string
	VX        float64
	VY        float64
	VZ        float64
	YawRate   float64
	Timestamp time.Time
}

// DB is the sqlite-backed Recorder.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the flight log at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS setpoints (
			goal_id TEXT,
			vx DOUBLE,
			vy DOUBLE,
			vz DOUBLE,
			yaw_rate DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS events (
			component TEXT,
			goal_id TEXT,
			event TEXT,
			detail TEXT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS paths (
			goal_id TEXT,
			seq INTEGER,
			x DOUBLE,
			y DOUBLE,
			z DOUBLE,
			yaw DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// RecordSetpoint logs one flight command.
func (db *DB) RecordSetpoint(goalID string, vx, vy, vz, yawRate float64) error {
	_, err := db.Exec("INSERT INTO setpoints (goal_id, vx, vy, vz, yaw_rate) VALUES (?, ?, ?, ?, ?)",
		goalID, vx, vy, vz, yawRate)
	return err
}

// RecordEvent logs one mission event (goal accepted, waypoint reached,
// recovery started, and so on).
func (db *DB) RecordEvent(component, goalID, event, detail string) error {
	_, err := db.Exec("INSERT INTO events (component, goal_id, event, detail) VALUES (?, ?, ?, ?)",
		component, goalID, event, detail)
	return err
}

// RecordPath logs a planned waypoint sequence under its goal ID.
func (db *DB) RecordPath(goalID string, waypoints []PathPoint) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, wp := range waypoints {
		if _, err := tx.Exec("INSERT INTO paths (goal_id, seq, x, y, z, yaw) VALUES (?, ?, ?, ?, ?, ?)",
			goalID, wp.Seq, wp.X, wp.Y, wp.Z, wp.Yaw); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Setpoints returns the most recent commands, newest first.
func (db *DB) Setpoints(limit int) ([]Setpoint, error) {
	rows, err := db.Query(
		"SELECT goal_id, vx, vy, vz, yaw_rate, timestamp FROM setpoints ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Setpoint
	for rows.Next() {
		var sp Setpoint
		if err := rows.Scan(&sp.GoalID, &sp.VX, &sp.VY, &sp.VZ, &sp.YawRate, &sp.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EventsForGoal returns the event trail of one goal in insertion order.
func (db *DB) EventsForGoal(goalID string) ([]Event, error) {
	rows, err := db.Query(
		"SELECT component, goal_id, event, detail, timestamp FROM events WHERE goal_id = ? ORDER BY rowid", goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Component, &ev.GoalID, &ev.Event, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PathForGoal returns the stored waypoints of one goal in sequence order.
func (db *DB) PathForGoal(goalID string) ([]PathPoint, error) {
	rows, err := db.Query(
		"SELECT seq, x, y, z, yaw FROM paths WHERE goal_id = ? ORDER BY seq", goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PathPoint
	for rows.Next() {
		var wp PathPoint
		if err := rows.Scan(&wp.Seq, &wp.X, &wp.Y, &wp.Z, &wp.Yaw); err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Discard is a Recorder that drops everything. Used when the operator
// disables flight logging.
type Discard struct{}

func (Discard) RecordSetpoint(string, float64, float64, float64, float64) error { return nil }
func (Discard) RecordEvent(string, string, string, string) error                { return nil }
func (Discard) RecordPath(string, []PathPoint) error                            { return nil }
