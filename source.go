package camerasource

import "time"

// Source is the capability surface a pipeline host consumes to drive a
// capture element: open, caps negotiation, blocking pull, cancellation and
// teardown. CaptureSession is the concrete implementation; Runner is a
// generic host loop built on this interface.
//
// Implementations must guarantee:
//   - Open() is all-or-nothing: on failure no handles are retained
//   - SetCaps() failure leaves the device open for re-negotiation
//   - Pull() blocks cooperatively and returns ErrEndOfStream once cancelled
//   - Unlock() wakes a blocked Pull() promptly from any goroutine
//   - Close() tears down in reverse-acquisition order and never deadlocks
//     against an in-flight Pull()
//   - Stats() is safe from any goroutine
type Source interface {
	// Open acquires the device (host hook for the null-to-ready transition).
	Open() error
	// Caps returns the advertisable device formats.
	Caps() ([]DeviceFormat, error)
	// SetCaps negotiates one exact format and starts streaming.
	SetCaps(req FormatRequest) error
	// SetBaseTime provides the pipeline base time for timestamping.
	SetBaseTime(t time.Time)
	// Pull returns the next frame or ErrEndOfStream.
	Pull() (*Frame, error)
	// Unlock cancels a blocked Pull.
	Unlock()
	// Latency reports (min, max) = one frame duration once negotiated.
	Latency() (min, max time.Duration, ok bool)
	// Close releases the device (host hook for the ready-to-null transition).
	Close() error
	// Stats returns an operational snapshot.
	Stats() SessionStats
}

var _ Source = (*CaptureSession)(nil)
