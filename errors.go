package camerasource

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the session. Callers classify with errors.Is.
var (
	// ErrDeviceBusy means another consumer holds the device. User-actionable;
	// the session stays fully closed and the host may retry the open later.
	ErrDeviceBusy = errors.New("camera-source: device is already in use")

	// ErrNoMatchingFormat means negotiation found no exact catalog match for
	// the requested tuple. The device stays open; re-negotiation with a
	// different format may be retried.
	ErrNoMatchingFormat = errors.New("camera-source: no matching device format")

	// ErrEndOfStream is the normal terminal signal from a cancelled pull.
	// It is not a failure.
	ErrEndOfStream = errors.New("camera-source: end of stream")

	// ErrNotOpen is returned by operations that require an open device.
	ErrNotOpen = errors.New("camera-source: device not open")

	// ErrNotStreaming is returned by Pull when no format has been negotiated.
	ErrNotStreaming = errors.New("camera-source: not streaming")

	// ErrAlreadyOpen is returned by Open on a session that is not closed.
	ErrAlreadyOpen = errors.New("camera-source: session already open")
)

// BackendError is an unexpected status from a capture backend call. It is
// reported with the backend's status code and never retried at this layer.
type BackendError struct {
	// Op is the backend operation that failed, e.g. "open device"
	Op string
	// Code is the backend-native status code
	Code int
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("camera-source: backend %s failed (status %d)", e.Op, e.Code)
}
