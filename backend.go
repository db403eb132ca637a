package camerasource

import (
	"time"
)

// DeviceHandle is an opaque backend device reference.
type DeviceHandle interface{}

// StreamHandle is an opaque backend stream reference.
type StreamHandle interface{}

// QueueHandle is an opaque reference to the backend's own frame queue.
type QueueHandle interface{}

// FrameHandle is one backend-delivered frame buffer plus its backend
// timestamp context.
//
// Ownership transfers backend -> queue -> pull -> host frame exactly once.
// A dequeued handle is always either delivered to the host or released back
// to the backend; it is never duplicated or dropped silently.
type FrameHandle interface {
	// Payload returns the raw frame bytes. The slice stays valid after the
	// handle is released; releasing returns only the handle to the backend.
	Payload() []byte
	// CaptureTime returns the backend's timestamp for this frame.
	CaptureTime() time.Time
}

// Handles aggregates everything one successful OpenDevice acquires.
type Handles struct {
	Device DeviceHandle
	Stream StreamHandle
	Queue  QueueHandle
}

// Device property names set during format negotiation, in the order the
// session issues them.
const (
	// PropFormatIndex selects a catalog entry by backend-native index
	PropFormatIndex = "ImagerFormatDescription"
	// PropFrameRate sets the target frame rate (truncated integer)
	PropFrameRate = "ImagerFrameRate"
	// PropMinFrameRate pins the device to a fixed rate rather than a range
	PropMinFrameRate = "ImagerMinimumFrameRate"
	// PropColorRange applies the fixed downstream color-range property
	PropColorRange = "ColorRange"
)

// ColorRangeSDVideo is the fixed color-range value applied on every
// successful negotiation.
const ColorRangeSDVideo = "ColorRangeSDVideo"

// Backend is the device-specific capture API supplying raw frames.
//
// The session is the only caller; implementations do not need internal
// locking beyond what their own delivery thread requires. On an OpenDevice
// failure the backend must release any partially acquired handles itself -
// the session treats a failed open as all-or-nothing.
//
// Open failures are classified with errors.Is(err, ErrDeviceBusy); anything
// else is reported as unexpected (typically a *BackendError).
type Backend interface {
	// OpenDevice acquires the backend context plus device, stream and queue
	// handles. All-or-nothing: on error no handles are retained.
	OpenDevice() (Handles, error)

	// ListSupportedFormats returns the device's raw format descriptors.
	ListSupportedFormats(dev DeviceHandle) ([]RawFormat, error)

	// SetDeviceProperty sets one device property. Values are int for
	// PropFormatIndex/PropFrameRate/PropMinFrameRate and string for
	// PropColorRange.
	SetDeviceProperty(dev DeviceHandle, name string, value interface{}) error

	// StartStream begins frame delivery into the queue.
	StartStream(stream StreamHandle) error
	// StopStream halts frame delivery.
	StopStream(stream StreamHandle)

	// RegisterDeliveryCallback installs fn to be invoked from the backend
	// delivery thread whenever a new frame lands in the queue. fn must not
	// block.
	RegisterDeliveryCallback(queue QueueHandle, fn func())

	// DequeueFrame pops one frame, reporting false when the queue is empty.
	DequeueFrame(queue QueueHandle) (FrameHandle, bool)
	// QueueEmpty reports whether the queue currently holds no frames.
	QueueEmpty(queue QueueHandle) bool
	// ReleaseFrame returns a dequeued handle to the backend.
	ReleaseFrame(frame FrameHandle)

	// Teardown, called in strict reverse-acquisition order: stream handle,
	// then device handle, then queue, then the backend context. Releasing
	// the context first would invalidate the handles.
	ReleaseStream(stream StreamHandle)
	ReleaseDevice(dev DeviceHandle)
	ReleaseQueue(queue QueueHandle)
	ReleaseContext()
}
