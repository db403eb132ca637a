package camerasource

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-source/internal/catalog"
)

// PixelFormat is re-exported from internal/catalog to avoid import cycles.
// See internal/catalog/catalog.go for full documentation.
type PixelFormat = catalog.PixelFormat

// Normalized pixel formats this element can advertise.
const (
	PixelUnknown = catalog.PixelUnknown
	PixelYUY2    = catalog.PixelYUY2
	PixelI420    = catalog.PixelI420
)

// DeviceFormat is re-exported from internal/catalog.
// See internal/catalog/catalog.go for full documentation.
type DeviceFormat = catalog.DeviceFormat

// RawFormat is re-exported from internal/catalog.
// See internal/catalog/catalog.go for full documentation.
type RawFormat = catalog.RawFormat

// Backend subtype codes recognized during catalog normalization,
// re-exported for backend implementations that build format tables.
var (
	FourCCYUY2 = catalog.SubtypeYUY2
	FourCCI420 = catalog.SubtypeI420
)

// FormatRequest is the format tuple the host asks for during caps
// negotiation. Matching against the catalog is exact on all five fields -
// no nearest-neighbor or scaling fallback.
type FormatRequest struct {
	Pixel   PixelFormat
	Width   int
	Height  int
	RateNum int
	RateDen int
}

// NoTimestamp marks a frame whose presentation time could not be derived
// (no base time was provided before streaming started).
const NoTimestamp = time.Duration(-1)

// Frame is one captured video frame handed to the host.
//
// Data is the backend's frame payload passed through unmodified in the
// device's native format. Ownership transfers to the receiver exactly once;
// the payload MUST NOT be modified if the frame is shared further
// (immutability contract, same as the frame bus modules).
//
// The per-frame media descriptor is Format plus a pixel-aspect-ratio fixed
// at 1:1.
type Frame struct {
	// Data contains the raw frame bytes in the negotiated device format
	Data []byte
	// Format is the negotiated device format this frame was captured in
	Format DeviceFormat
	// Offset is the running sequence offset, 0-based, strictly increasing
	// by 1 per delivered frame
	Offset uint64
	// PTS is the presentation timestamp relative to the pipeline base time,
	// or NoTimestamp if no base time was set
	PTS time.Duration
	// Duration is the fixed per-frame duration computed at negotiation time
	Duration time.Duration
	// Discont marks a break or start in the frame sequence; always set on
	// offset 0 so downstream consumers can resynchronize
	Discont bool
	// CaptureTime is the backend's own timestamp for this frame
	CaptureTime time.Time
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// SessionStats is a snapshot of session operational state.
//
// Thread-safe to request at any time; values are a snapshot, not a live
// view.
type SessionStats struct {
	// State is the current lifecycle state name
	State string
	// FramesDelivered is the total number of frames handed to the host
	FramesDelivered uint64
	// LastFrameAt is the wall-clock time of the last delivered frame
	LastFrameAt time.Time
	// Negotiated is the currently negotiated format, nil before negotiation
	Negotiated *DeviceFormat
}

// Clock supplies the host pipeline's notion of current time.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock when the host does not inject one.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config contains configuration for a capture session.
type Config struct {
	// Backend is the capture backend supplying raw frames (required)
	Backend Backend
	// Clock is the host pipeline clock; defaults to the system clock
	Clock Clock
}
