// Package action implements the in-process action-server protocol shared by
// the mission, controller, planner and recovery servers. A goal moves
// through one state machine:
//
//	Requested -> {Accepted | Rejected}
//	Accepted  -> Executing
//	Executing -> {Succeeded | Aborted | Cancelling -> Cancelled}
//
// Acceptance is decided synchronously on the caller's goroutine and must
// not block; execution runs on a goroutine owned by the server. Feedback is
// best effort and never stalls execution. Cancellation is cooperative: the
// executing loop observes the flag at the top of each control cycle.
package action

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a goal.
type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusExecuting  Status = "executing"
	StatusSucceeded  Status = "succeeded"
	StatusAborted    Status = "aborted"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusAborted || s == StatusCancelled
}

// ErrRejected is returned by Server.Send when the acceptance callback
// declines the goal. Servers wrap it with the rejection reason.
var ErrRejected = errors.New("goal rejected")

// feedbackBuffer bounds the per-goal feedback channel. A slow consumer
// drops messages rather than stalling the control loop.
const feedbackBuffer = 16

// Handle identifies one in-flight goal. The requester owns it until a
// terminal state is reached. G is the goal payload, F the feedback message
// and R the result.
type Handle[G, F, R any] struct {
	id   uuid.UUID
	goal G

	cancelRequested atomic.Bool
	feedback        chan F
	done            chan struct{}

	mu     sync.Mutex
	status Status
	result R
}

func newHandle[G, F, R any](goal G) *Handle[G, F, R] {
	return &Handle[G, F, R]{
		id:       uuid.New(),
		goal:     goal,
		feedback: make(chan F, feedbackBuffer),
		done:     make(chan struct{}),
		status:   StatusAccepted,
	}
}

// ID returns the goal identifier.
func (h *Handle[G, F, R]) ID() uuid.UUID { return h.id }

// Goal returns the goal payload.
func (h *Handle[G, F, R]) Goal() G { return h.goal }

// Cancel requests cooperative cancellation. It returns immediately; the
// executor honours the request at its next cycle boundary.
func (h *Handle[G, F, R]) Cancel() {
	h.cancelRequested.Store(true)
	h.mu.Lock()
	if h.status == StatusExecuting {
		h.status = StatusCancelling
	}
	h.mu.Unlock()
}

// Cancelling reports whether cancellation has been requested. Executors
// check this once per control cycle.
func (h *Handle[G, F, R]) Cancelling() bool {
	return h.cancelRequested.Load()
}

// PublishFeedback emits a feedback message without blocking. When the
// requester is not draining the channel the message is dropped.
func (h *Handle[G, F, R]) PublishFeedback(f F) {
	select {
	case h.feedback <- f:
	default:
	}
}

// Feedback returns the feedback stream for this goal.
func (h *Handle[G, F, R]) Feedback() <-chan F { return h.feedback }

// Done is closed when the goal reaches a terminal state.
func (h *Handle[G, F, R]) Done() <-chan struct{} { return h.done }

// Status returns the current lifecycle state.
func (h *Handle[G, F, R]) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Result returns the result recorded at the terminal transition. Only
// meaningful after Done is closed.
func (h *Handle[G, F, R]) Result() R {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Wait blocks until the goal terminates or the context expires.
func (h *Handle[G, F, R]) Wait(ctx context.Context) (R, Status, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.status, nil
	case <-ctx.Done():
		var zero R
		return zero, h.Status(), ctx.Err()
	}
}

// Succeed records a successful result and terminates the goal.
func (h *Handle[G, F, R]) Succeed(r R) { h.terminate(StatusSucceeded, r) }

// Abort records a failed result and terminates the goal.
func (h *Handle[G, F, R]) Abort(r R) { h.terminate(StatusAborted, r) }

// Cancelled records the partial result of a cancelled goal and terminates it.
func (h *Handle[G, F, R]) Cancelled(r R) { h.terminate(StatusCancelled, r) }

func (h *Handle[G, F, R]) terminate(s Status, r R) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() {
		return
	}
	h.status = s
	h.result = r
	close(h.done)
}

func (h *Handle[G, F, R]) markExecuting() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusAccepted {
		h.status = StatusExecuting
	}
}

// AcceptFunc decides synchronously whether a goal may start. Returning a
// non-nil error rejects the goal; the error carries the reason. It must
// not block.
type AcceptFunc[G any] func(goal G) error

// ExecuteFunc runs an accepted goal to a terminal state. It must drive the
// handle to exactly one of Succeed, Abort or Cancelled before returning.
type ExecuteFunc[G, F, R any] func(ctx context.Context, h *Handle[G, F, R])

// Server runs goals of one action type. Acceptance happens on the caller's
// goroutine; execution on a goroutine per goal.
type Server[G, F, R any] struct {
	name    string
	accept  AcceptFunc[G]
	execute ExecuteFunc[G, F, R]
	logger  *log.Logger
}

// NewServer creates a Server. The accept callback may be nil, in which case
// every goal is accepted. If logger is nil, log.Default() is used.
func NewServer[G, F, R any](name string, accept AcceptFunc[G], execute ExecuteFunc[G, F, R], logger *log.Logger) *Server[G, F, R] {
	if logger == nil {
		logger = log.Default()
	}
	return &Server[G, F, R]{name: name, accept: accept, execute: execute, logger: logger}
}

// Send requests execution of a goal. The acceptance decision is made before
// Send returns; on acceptance the goal is already executing on its own
// goroutine and the returned handle tracks it.
func (s *Server[G, F, R]) Send(ctx context.Context, goal G) (*Handle[G, F, R], error) {
	if s.accept != nil {
		if err := s.accept(goal); err != nil {
			s.logger.Printf("[%s] goal rejected: %v", s.name, err)
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	h := newHandle[G, F, R](goal)
	s.logger.Printf("[%s] goal %s accepted", s.name, h.id)
	go func() {
		h.markExecuting()
		s.execute(ctx, h)
		s.logger.Printf("[%s] goal %s finished: %s", s.name, h.id, h.Status())
	}()
	return h, nil
}
