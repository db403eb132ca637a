// Package bridge implements the blocking handoff between a backend's frame
// delivery thread and the host's pull thread.
//
// The bridge never stores frames. It is a signaling layer over the backend's
// own queue: the delivery callback marks "data available" and wakes the
// consumer; the consumer blocks on a (run state, pending flag) predicate and
// dequeues from the backend while holding the bridge lock.
//
// This package is INTERNAL - clients use the session API in the parent
// package.
package bridge

import (
	"sync"
)

// RunState is the tri-state lifecycle of the pull side.
type RunState int32

const (
	// Stopped is the initial and terminal state; Dequeue returns immediately.
	Stopped RunState = iota
	// Running allows Dequeue to block until a frame is pending.
	Running
	// Draining means shutdown was requested; blocked Dequeues must wake and
	// report not-running instead of delivering a frame.
	Draining
)

// String returns a human-readable state name.
func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Bridge couples one producer (the backend delivery callback) with one
// consumer (the host pull thread).
//
// Shared state (hasPending, state) is guarded by a single mutex; the
// condition is signaled only while holding it and never performs I/O. The
// consumer predicate is rechecked after every wake, so lost and spurious
// wakeups are harmless.
type Bridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	state      RunState
	hasPending bool
	waiters    int
}

// New returns a stopped bridge.
func New() *Bridge {
	b := &Bridge{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start transitions to Running and clears any stale pending flag. Called
// once per negotiated stream, before frames start arriving.
func (b *Bridge) Start() {
	b.mu.Lock()
	b.state = Running
	b.hasPending = false
	b.mu.Unlock()
}

// Notify is the delivery callback: marks data available and wakes one
// blocked consumer. Invoked from the backend delivery thread; never blocks
// and never performs I/O.
func (b *Bridge) Notify() {
	b.mu.Lock()
	b.hasPending = true
	b.cond.Signal()
	b.mu.Unlock()
}

// Dequeue blocks until a frame is pending or the bridge leaves Running,
// then invokes dequeue while still holding the bridge lock.
//
// dequeue must pop at most one entry from the backend queue and report
// whether the queue still holds more; the pending flag is reconciled
// against that report (the delivery callback sets it optimistically).
//
// Returns whether the bridge was still Running at the moment of dequeue.
// When it returns false the caller owes the backend a release for any
// frame the dequeue still popped.
func (b *Bridge) Dequeue(dequeue func() (more bool)) (running bool) {
	b.mu.Lock()

	b.waiters++
	for b.state == Running && !b.hasPending {
		b.cond.Wait()
	}
	b.waiters--

	b.hasPending = dequeue()
	running = b.state == Running

	// Wake Drain if it is waiting for this consumer to observe shutdown
	if !running {
		b.cond.Broadcast()
	}

	b.mu.Unlock()
	return running
}

// Cancel requests shutdown: flips Running to Draining and wakes any blocked
// consumer. Idempotent; a stopped bridge stays stopped.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	if b.state == Running {
		b.state = Draining
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Drain cancels and then waits until no consumer is blocked, completing the
// Draining to Stopped transition. After Drain returns, the backend queue
// can be torn down without racing an in-flight pull.
func (b *Bridge) Drain() {
	b.mu.Lock()
	if b.state == Running {
		b.state = Draining
	}
	b.cond.Broadcast()
	for b.waiters > 0 {
		b.cond.Wait()
	}
	b.state = Stopped
	b.mu.Unlock()
}

// State returns the current run state.
func (b *Bridge) State() RunState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
