// Package flightlink carries velocity and yaw-rate setpoints to the
// low-level flight-command executor. The executor expects a steady command
// stream at the control period; publishers therefore send every cycle,
// even when the setpoint has not changed.
package flightlink

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Setpoint is one actuation command: linear velocity per axis in m/s and
// yaw rate in rad/s, all in the vehicle body frame.
type Setpoint struct {
	LinearX float64
	LinearY float64
	LinearZ float64
	YawRate float64
}

// Zero is the all-stop command.
var Zero = Setpoint{}

// IsZero reports whether the setpoint commands no motion.
func (s Setpoint) IsZero() bool {
	return s == Zero
}

// String formats the setpoint for logging.
func (s Setpoint) String() string {
	return fmt.Sprintf("vx=%.3f vy=%.3f vz=%.3f wz=%.3f", s.LinearX, s.LinearY, s.LinearZ, s.YawRate)
}

// Publisher is the narrow interface the controller and recovery servers
// publish through.
type Publisher interface {
	Publish(Setpoint) error
	Close() error
}

// SerialPublisher streams setpoint frames over a serial link to the flight
// controller, one text frame per command:
//
//	V <vx> <vy> <vz> <yawrate>\n
type SerialPublisher struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// DefaultBaudRate matches the flight controller's command channel.
const DefaultBaudRate = 115200

// OpenSerial opens the flight controller command channel at path.
func OpenSerial(path string, baudRate int) (*SerialPublisher, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open flight link %s: %w", path, err)
	}
	return NewSerialPublisher(port), nil
}

// NewSerialPublisher wraps an already-open port. Used by tests with an
// in-memory writer.
func NewSerialPublisher(port io.WriteCloser) *SerialPublisher {
	return &SerialPublisher{port: port}
}

// Publish writes one setpoint frame.
func (p *SerialPublisher) Publish(s Setpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame := fmt.Sprintf("V %.3f %.3f %.3f %.3f\n", s.LinearX, s.LinearY, s.LinearZ, s.YawRate)
	n, err := p.port.Write([]byte(frame))
	if err != nil {
		return fmt.Errorf("failed to write setpoint frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	return nil
}

// Close closes the underlying port.
func (p *SerialPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}
