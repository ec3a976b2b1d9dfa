package controller

import "sync/atomic"

// Lock is the single token for the right to command the airframe. Exactly
// one goal execution holds it at a time; acquisition never blocks, so a
// competing request is rejected instead of queued.
type Lock struct {
	held atomic.Bool
}

// NewLock returns an unheld lock.
func NewLock() *Lock { return &Lock{} }

// TryAcquire takes the token, reporting false when another execution
// already holds it.
func (l *Lock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release returns the token. Calling Release without holding the token is
// a programming error but harmless.
func (l *Lock) Release() {
	l.held.Store(false)
}

// Held reports whether the token is currently taken. For observability
// only; never gate logic on it, use TryAcquire.
func (l *Lock) Held() bool { return l.held.Load() }
