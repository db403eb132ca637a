package camerasource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/camera-source/internal/bridge"
	"github.com/e7canasta/orion-care-sensor/modules/camera-source/internal/catalog"
)

// SessionState is the lifecycle state of a capture session.
type SessionState int

const (
	// StateClosed means no handles are held (initial and terminal state)
	StateClosed SessionState = iota
	// StateOpening means the backend open is in flight
	StateOpening
	// StateOpen means device, stream and queue handles are acquired
	StateOpen
	// StateNegotiating means a format selection is in flight
	StateNegotiating
	// StateStreaming means the backend is delivering frames
	StateStreaming
	// StateStopping means teardown is in flight
	StateStopping
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// CaptureSession is a live-video capture element above an injected Backend.
//
// It opens the device, probes and negotiates a device format, and streams
// timestamped frames to the host through blocking Pull calls at the
// device's native cadence.
//
// Invariant: a session is either fully closed (no handles held) or fully
// open (all handles valid); no partially initialized state is observable
// outside Open and Close.
//
// Concurrency model: the host drives Open/Caps/SetCaps/Pull/Close from a
// single thread, one call at a time; the backend delivery thread only
// touches the frame bridge. Unlock and Stats are safe from any goroutine.
type CaptureSession struct {
	backend Backend
	clock   Clock

	bridge *bridge.Bridge

	// mu guards everything below
	mu         sync.Mutex
	state      SessionState
	handles    Handles
	cat        *catalog.Catalog
	negotiated DeviceFormat
	hasFormat  bool
	duration   time.Duration
	baseTime   time.Time
	hasBase    bool
	lastFrame  time.Time

	// offset is touched only by the pull thread
	offset uint64

	framesDelivered uint64 // atomic
}

// NewSession creates a capture session with fail-fast validation.
//
// Returns an error if no backend is configured. The clock defaults to the
// system clock when the host does not inject one.
func NewSession(cfg Config) (*CaptureSession, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("camera-source: backend is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	s := &CaptureSession{
		backend: cfg.Backend,
		clock:   clock,
		bridge:  bridge.New(),
		state:   StateClosed,
	}

	slog.Debug("camera-source: session created")

	return s, nil
}

// State returns the current lifecycle state.
func (s *CaptureSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open acquires the backend context plus device, stream and queue handles
// and registers the frame delivery callback.
//
// Failure kinds are distinguishable: ErrDeviceBusy means another consumer
// holds the device (user-actionable, not retried here); anything else is an
// unexpected backend error. Both leave the session fully closed with no
// partial handles retained, and the host may retry by calling Open again.
func (s *CaptureSession) Open() error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.state = StateOpening
	s.mu.Unlock()

	handles, err := s.backend.OpenDevice()
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		if errors.Is(err, ErrDeviceBusy) {
			slog.Error("camera-source: device busy, another consumer holds it")
			return err
		}
		slog.Error("camera-source: failed to open device", "error", err)
		return fmt.Errorf("camera-source: open device: %w", err)
	}

	s.backend.RegisterDeliveryCallback(handles.Queue, s.bridge.Notify)

	s.mu.Lock()
	s.handles = handles
	s.cat = catalog.New()
	s.state = StateOpen
	s.mu.Unlock()

	slog.Info("camera-source: device opened")

	return nil
}

// listerFunc adapts a closure to the catalog's Lister contract.
type listerFunc func() ([]RawFormat, error)

func (f listerFunc) ListSupportedFormats() ([]RawFormat, error) { return f() }

// Caps returns the device's advertisable formats, probing the backend on
// first call and serving the cached catalog afterwards. Entries with
// unsupported pixel subtypes were skipped during the probe, so a device
// with some exotic formats still yields a partial, usable list.
func (s *CaptureSession) Caps() ([]DeviceFormat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen && s.state != StateNegotiating && s.state != StateStreaming {
		return nil, ErrNotOpen
	}

	dev := s.handles.Device
	formats := s.cat.Probe(listerFunc(func() ([]RawFormat, error) {
		return s.backend.ListSupportedFormats(dev)
	}))

	return formats, nil
}

// SetCaps matches the requested tuple against the catalog and configures
// the backend to stream exactly that format.
//
// Exact-match only on all five fields. On match, property calls are issued
// in fixed order (format index, target rate, minimum rate, color range);
// the first failure aborts the remaining steps. On full success streaming
// starts, the fixed per-frame duration is recorded, and the catalog cache
// is released.
//
// Any failure returns the session to Open with the device still held, so
// the host may retry with a different format.
func (s *CaptureSession) SetCaps(req FormatRequest) error {
	s.mu.Lock()
	if s.state != StateOpen {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed || state == StateOpening {
			return ErrNotOpen
		}
		return fmt.Errorf("camera-source: cannot negotiate while %s", state)
	}
	s.state = StateNegotiating

	dev := s.handles.Device
	stream := s.handles.Stream

	formats := s.cat.Probe(listerFunc(func() ([]RawFormat, error) {
		return s.backend.ListSupportedFormats(dev)
	}))

	var selected *DeviceFormat
	for i := range formats {
		f := &formats[i]
		if f.Pixel == req.Pixel && f.Width == req.Width && f.Height == req.Height &&
			f.RateNum == req.RateNum && f.RateDen == req.RateDen {
			selected = f
			break
		}
	}

	if selected == nil {
		s.state = StateOpen
		s.mu.Unlock()
		slog.Warn("camera-source: no exact catalog match for requested format",
			"pixel", req.Pixel.String(),
			"width", req.Width,
			"height", req.Height,
			"rate", fmt.Sprintf("%d/%d", req.RateNum, req.RateDen),
		)
		return ErrNoMatchingFormat
	}
	s.mu.Unlock()

	slog.Debug("camera-source: selecting format", "index", selected.Index)

	// Truncated integer rate, matching the device's discrete rate steps
	framerate := selected.RateNum / selected.RateDen

	steps := []struct {
		name  string
		value interface{}
	}{
		{PropFormatIndex, selected.Index},
		{PropFrameRate, framerate},
		{PropMinFrameRate, framerate},
		{PropColorRange, ColorRangeSDVideo},
	}

	for _, step := range steps {
		if err := s.backend.SetDeviceProperty(dev, step.name, step.value); err != nil {
			s.mu.Lock()
			s.state = StateOpen
			s.mu.Unlock()
			slog.Error("camera-source: device property set failed, negotiation aborted",
				"property", step.name,
				"error", err,
			)
			return fmt.Errorf("camera-source: set %s: %w", step.name, err)
		}
	}

	// Arm the bridge before delivery can begin: a frame arriving while the
	// stream start is still in flight must raise a signal that survives
	// until the first Pull.
	s.bridge.Start()

	if err := s.backend.StartStream(stream); err != nil {
		s.bridge.Drain()
		s.mu.Lock()
		s.state = StateOpen
		s.mu.Unlock()
		slog.Error("camera-source: failed to start stream", "error", err)
		return fmt.Errorf("camera-source: start stream: %w", err)
	}

	// Fixed per-frame duration via scaled-integer arithmetic; floating
	// point would accumulate rounding drift over long streams.
	duration := time.Duration(int64(time.Second) * int64(selected.RateDen) / int64(selected.RateNum))

	s.mu.Lock()
	s.negotiated = *selected
	s.hasFormat = true
	s.duration = duration
	s.cat.Release()
	s.offset = 0
	s.state = StateStreaming
	s.mu.Unlock()

	slog.Info("camera-source: format configured",
		"index", selected.Index,
		"format", selected.String(),
		"frame_duration", duration,
	)

	return nil
}

// SetBaseTime records the pipeline base time used to derive presentation
// timestamps. The host sets it when streaming starts; frames pulled before
// a base time is set carry NoTimestamp.
func (s *CaptureSession) SetBaseTime(t time.Time) {
	s.mu.Lock()
	s.baseTime = t
	s.hasBase = true
	s.mu.Unlock()
}

// Pull blocks until the next frame is available and returns it stamped
// with its sequence offset, presentation timestamp and duration.
//
// The wait is cooperative (no busy-poll, no timeout): it is ended only by
// a frame delivery or by an Unlock/Close cancelling the stream, in which
// case Pull returns ErrEndOfStream - the normal terminal signal, not a
// failure. A frame dequeued on the cancellation path is still released to
// the backend.
//
// Offset 0 carries the discontinuity marker so downstream consumers can
// resynchronize at stream start.
func (s *CaptureSession) Pull() (*Frame, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return nil, ErrNotStreaming
	}
	queue := s.handles.Queue
	format := s.negotiated
	duration := s.duration
	baseTime := s.baseTime
	hasBase := s.hasBase
	s.mu.Unlock()

	var fh FrameHandle
	for {
		fh = nil
		running := s.bridge.Dequeue(func() bool {
			fh, _ = s.backend.DequeueFrame(queue)
			return !s.backend.QueueEmpty(queue)
		})

		if !running {
			// In-flight frame must still go back to the backend even
			// though it is being discarded
			if fh != nil {
				s.backend.ReleaseFrame(fh)
			}
			slog.Debug("camera-source: pull cancelled, signalling end of stream")
			return nil, ErrEndOfStream
		}
		if fh != nil {
			break
		}
		// Pending flag raced an empty queue; recheck the predicate
	}

	// Presentation timestamp: now minus base time minus one frame
	// duration, each subtraction clamped at zero. The one-duration
	// subtraction accounts for the capture interval itself.
	pts := NoTimestamp
	if hasBase {
		var ts time.Duration
		if now := s.clock.Now(); now.After(baseTime) {
			ts = now.Sub(baseTime)
		}
		if ts > duration {
			ts -= duration
		} else {
			ts = 0
		}
		pts = ts
	}

	offset := s.offset
	s.offset++

	frame := &Frame{
		Data:        fh.Payload(),
		Format:      format,
		Offset:      offset,
		PTS:         pts,
		Duration:    duration,
		Discont:     offset == 0,
		CaptureTime: fh.CaptureTime(),
		TraceID:     uuid.New().String(),
	}

	// The frame wrapper owns the payload from here on; the handle goes
	// straight back to the backend
	s.backend.ReleaseFrame(fh)

	atomic.AddUint64(&s.framesDelivered, 1)
	s.mu.Lock()
	s.lastFrame = time.Now()
	s.mu.Unlock()

	slog.Debug("camera-source: frame delivered",
		"offset", frame.Offset,
		"pts", frame.PTS,
		"trace_id", frame.TraceID,
	)

	return frame, nil
}

// Unlock cancels a blocked Pull: the run state flips to draining under the
// bridge lock and the waiter is woken promptly, with no polling delay and
// no deadlock even if no frame was ever delivered.
//
// Safe to call from any goroutine.
func (s *CaptureSession) Unlock() {
	slog.Debug("camera-source: unlock requested")
	s.bridge.Cancel()
}

// Latency answers the host's latency query with one frame duration for
// both bounds. ok is false until a format has been negotiated.
func (s *CaptureSession) Latency() (min, max time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || !s.hasFormat {
		return 0, 0, false
	}
	return s.duration, s.duration, true
}

// Close stops streaming and releases every handle in strict
// reverse-acquisition order: stream, then device, then frame queue, then
// backend context. Releasing the context earlier would invalidate the
// handles.
//
// A blocked Pull is woken first and Close waits for it to observe the
// drained state, so shutdown never deadlocks. Idempotent.
func (s *CaptureSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	handles := s.handles
	s.mu.Unlock()

	// Wake any blocked pull and wait for it to observe shutdown
	s.bridge.Drain()

	s.backend.StopStream(handles.Stream)
	s.backend.ReleaseStream(handles.Stream)
	s.backend.ReleaseDevice(handles.Device)
	s.backend.ReleaseQueue(handles.Queue)
	s.backend.ReleaseContext()

	s.mu.Lock()
	s.handles = Handles{}
	s.cat = nil
	s.hasFormat = false
	s.duration = 0
	s.hasBase = false
	s.state = StateClosed
	s.mu.Unlock()

	slog.Info("camera-source: device closed",
		"frames_delivered", atomic.LoadUint64(&s.framesDelivered),
	)

	return nil
}

// Stats returns a snapshot of session state. Thread-safe.
func (s *CaptureSession) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SessionStats{
		State:           s.state.String(),
		FramesDelivered: atomic.LoadUint64(&s.framesDelivered),
		LastFrameAt:     s.lastFrame,
	}
	if s.hasFormat {
		negotiated := s.negotiated
		stats.Negotiated = &negotiated
	}
	return stats
}
