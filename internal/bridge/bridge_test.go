package bridge

import (
	"sync"
	"testing"
	"time"
)

// fakeQueue stands in for the backend's own queue storage.
type fakeQueue struct {
	mu     sync.Mutex
	frames int
}

func (q *fakeQueue) pop() (got bool, more bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.frames == 0 {
		return false, false
	}
	q.frames--
	return true, q.frames > 0
}

func (q *fakeQueue) push() {
	q.mu.Lock()
	q.frames++
	q.mu.Unlock()
}

// dequeueAsync runs one Dequeue in a goroutine and reports its outcome.
func dequeueAsync(b *Bridge, q *fakeQueue) <-chan [2]bool {
	out := make(chan [2]bool, 1)
	go func() {
		var got bool
		running := b.Dequeue(func() bool {
			var more bool
			got, more = q.pop()
			return more
		})
		out <- [2]bool{running, got}
	}()
	return out
}

// TestNotifyWakesBlockedDequeue validates the producer side of the
// handoff: a delivery notification wakes exactly the blocked consumer,
// which then dequeues the frame.
func TestNotifyWakesBlockedDequeue(t *testing.T) {
	b := New()
	b.Start()
	q := &fakeQueue{}

	result := dequeueAsync(b, q)

	select {
	case <-result:
		t.Fatal("Dequeue returned before any delivery")
	case <-time.After(50 * time.Millisecond):
	}

	q.push()
	b.Notify()

	select {
	case r := <-result:
		if !r[0] || !r[1] {
			t.Fatalf("Dequeue = (running=%v, got=%v), want (true, true)", r[0], r[1])
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue still blocked after Notify")
	}
}

// TestCancelWakesDequeueWithoutFrames validates cancellation with zero
// frames ever delivered: the blocked consumer must wake promptly and
// report not-running - no polling delay, no deadlock.
func TestCancelWakesDequeueWithoutFrames(t *testing.T) {
	b := New()
	b.Start()
	q := &fakeQueue{}

	result := dequeueAsync(b, q)

	time.Sleep(20 * time.Millisecond)
	b.Cancel()

	select {
	case r := <-result:
		if r[0] {
			t.Fatal("Dequeue reported running after Cancel")
		}
		if r[1] {
			t.Fatal("Dequeue reported a frame that was never delivered")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Dequeue did not wake within one scheduling quantum of Cancel")
	}

	if got := b.State(); got != Draining {
		t.Errorf("State() = %v after Cancel, want %v", got, Draining)
	}
}

// TestPendingReconciledAgainstQueue validates the optimistic pending flag:
// one notification for two queued frames still lets both be dequeued
// without blocking, because reconciliation keeps the flag true while the
// queue is non-empty.
func TestPendingReconciledAgainstQueue(t *testing.T) {
	b := New()
	b.Start()
	q := &fakeQueue{}

	q.push()
	q.push()
	b.Notify()

	for i := 0; i < 2; i++ {
		select {
		case r := <-dequeueAsync(b, q):
			if !r[0] || !r[1] {
				t.Fatalf("Dequeue %d = (running=%v, got=%v), want (true, true)", i, r[0], r[1])
			}
		case <-time.After(time.Second):
			t.Fatalf("Dequeue %d blocked; pending flag not reconciled", i)
		}
	}

	// Queue now empty: the next Dequeue must block again
	result := dequeueAsync(b, q)
	select {
	case <-result:
		t.Fatal("Dequeue returned with an empty queue and no notification")
	case <-time.After(50 * time.Millisecond):
	}
	b.Cancel()
	<-result
}

// TestDrainWaitsForConsumer validates the Draining to Stopped transition:
// Drain wakes the blocked consumer, waits for it to observe shutdown, and
// only then reports Stopped.
func TestDrainWaitsForConsumer(t *testing.T) {
	b := New()
	b.Start()
	q := &fakeQueue{}

	result := dequeueAsync(b, q)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.Drain()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not complete")
	}

	if r := <-result; r[0] {
		t.Error("consumer observed running during drain")
	}
	if got := b.State(); got != Stopped {
		t.Errorf("State() = %v after Drain, want %v", got, Stopped)
	}
}

// TestStartResetsStalePending validates that a bridge restarted for a new
// stream does not carry a pending flag from the previous one.
func TestStartResetsStalePending(t *testing.T) {
	b := New()
	b.Start()
	b.Notify()
	b.Drain()

	b.Start()
	q := &fakeQueue{}

	result := dequeueAsync(b, q)
	select {
	case <-result:
		t.Fatal("Dequeue consumed a stale pending flag from the previous stream")
	case <-time.After(50 * time.Millisecond):
	}
	b.Cancel()
	<-result
}
