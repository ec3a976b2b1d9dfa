package flightlink

import "sync"

// Recorder is an in-memory Publisher that keeps every published setpoint.
// It backs simulation runs and tests.
type Recorder struct {
	mu        sync.Mutex
	setpoints []Setpoint
	closed    bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends the setpoint to the record.
func (r *Recorder) Publish(s Setpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setpoints = append(r.setpoints, s)
	return nil
}

// Close marks the recorder closed. Publishing after Close still records;
// the flag only reports lifecycle for assertions.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Setpoints returns a copy of everything published so far.
func (r *Recorder) Setpoints() []Setpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Setpoint, len(r.setpoints))
	copy(out, r.setpoints)
	return out
}

// Last returns the most recent setpoint, or the zero value when nothing
// has been published.
func (r *Recorder) Last() Setpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.setpoints) == 0 {
		return Setpoint{}
	}
	return r.setpoints[len(r.setpoints)-1]
}

// TrailingZeroCount returns how many consecutive all-stop commands end the
// record.
func (r *Recorder) TrailingZeroCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := len(r.setpoints) - 1; i >= 0; i-- {
		if !r.setpoints[i].IsZero() {
			break
		}
		n++
	}
	return n
}
