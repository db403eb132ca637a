package camerasource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Runner is a generic pipeline host driving a Source: it sequences the
// state transitions (open, caps negotiation, streaming, teardown) and runs
// the pull loop, exposing captured frames as a channel.
//
// Frames are sent non-blocking; if the consumer falls behind, new frames
// are dropped and counted rather than queued.
type Runner struct {
	source  Source
	request FormatRequest
	clock   Clock

	mu     sync.Mutex
	frames chan Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped uint64 // atomic
}

// NewRunner creates a host loop for source with fail-fast validation.
// The requested format tuple must be fully specified; negotiation is
// exact-match with no fallback.
func NewRunner(source Source, request FormatRequest) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("camera-source: source is required")
	}
	if request.Width <= 0 || request.Height <= 0 {
		return nil, fmt.Errorf("camera-source: invalid requested geometry %dx%d",
			request.Width, request.Height)
	}
	if request.RateNum <= 0 || request.RateDen <= 0 {
		return nil, fmt.Errorf("camera-source: invalid requested rate %d/%d",
			request.RateNum, request.RateDen)
	}

	return &Runner{
		source:  source,
		request: request,
		clock:   systemClock{},
		frames:  make(chan Frame, 10),
	}, nil
}

// Start opens the device, negotiates the requested format and launches the
// pull loop. Returns a read-only frame channel that stays open until Stop.
//
// Failure semantics follow the session's: a busy device or an open failure
// leaves everything closed; a negotiation failure closes the device too
// since this host has no alternative format to retry with.
func (r *Runner) Start(ctx context.Context) (<-chan Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil, fmt.Errorf("camera-source: runner already started")
	}

	if err := r.source.Open(); err != nil {
		return nil, err
	}

	if formats, err := r.source.Caps(); err == nil {
		slog.Debug("camera-source: device advertises formats", "count", len(formats))
	}

	if err := r.source.SetCaps(r.request); err != nil {
		r.source.Close()
		return nil, err
	}

	if min, max, ok := r.source.Latency(); ok {
		slog.Debug("camera-source: reporting latency", "min", min, "max", max)
	}

	r.source.SetBaseTime(r.clock.Now())

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.pullLoop(runCtx)

	slog.Info("camera-source: runner started",
		"requested", fmt.Sprintf("%s %dx%d @ %d/%d",
			r.request.Pixel, r.request.Width, r.request.Height,
			r.request.RateNum, r.request.RateDen),
	)

	return r.frames, nil
}

// pullLoop pulls frames one at a time until the source drains. A separate
// goroutine watches the context so an external cancellation unlocks a
// blocked pull as well.
func (r *Runner) pullLoop(ctx context.Context) {
	defer r.wg.Done()

	stop := context.AfterFunc(ctx, r.source.Unlock)
	defer stop()

	for {
		frame, err := r.source.Pull()
		if err != nil {
			// ErrEndOfStream is the normal terminal signal; anything else
			// is host misuse and still terminates the loop
			slog.Debug("camera-source: pull loop exiting", "reason", err)
			return
		}

		select {
		case r.frames <- *frame:
		default:
			atomic.AddUint64(&r.dropped, 1)
			slog.Debug("camera-source: dropping frame, channel full",
				"offset", frame.Offset,
				"trace_id", frame.TraceID,
			)
		}
	}
}

// Stop cancels the pull loop, waits for it to drain and closes the device.
// Idempotent - a second Stop is a no-op.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		slog.Debug("camera-source: runner not started, nothing to stop")
		return nil
	}

	r.cancel()
	r.source.Unlock()

	// The channel is closed from the waiter goroutine, strictly after the
	// pull loop exits: closing it here after a wait timeout could race a
	// send from a still-blocked loop.
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(r.frames)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("camera-source: stop timeout exceeded, pull loop may still be blocked")
	}

	err := r.source.Close()
	r.cancel = nil

	slog.Info("camera-source: runner stopped",
		"frames_dropped", atomic.LoadUint64(&r.dropped),
	)

	return err
}

// Dropped returns the number of frames discarded because the consumer fell
// behind. Thread-safe.
func (r *Runner) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}
