// Package catalog normalizes backend-native format descriptors into the
// set of device formats a capture session can negotiate against.
//
// This package is INTERNAL - clients use the re-exported types in the
// parent package.
package catalog

import (
	"fmt"
	"log/slog"
)

// PixelFormat is the normalized pixel format tag carried by a DeviceFormat.
type PixelFormat int

const (
	// PixelUnknown marks a backend subtype this module does not recognize.
	PixelUnknown PixelFormat = iota
	// PixelYUY2 is packed 4:2:2 YUV (YUYV ordering)
	PixelYUY2
	// PixelI420 is planar 4:2:0 YUV
	PixelI420
)

// String returns the canonical format tag (matches the media descriptor
// emitted per frame).
func (p PixelFormat) String() string {
	switch p {
	case PixelYUY2:
		return "YUY2"
	case PixelI420:
		return "I420"
	default:
		return "unknown"
	}
}

// FourCC packs a four-character subtype code the way backends report them.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// Backend subtype codes recognized by normalization. Backends report their
// own native codes; everything else is skipped during a probe.
var (
	// SubtypeYUY2 is the component-video subtype ('yuvs')
	SubtypeYUY2 = FourCC('y', 'u', 'v', 's')
	// SubtypeI420 is the planar 4:2:0 subtype ('420v')
	SubtypeI420 = FourCC('4', '2', '0', 'v')
)

// RawFormat is one backend-native format descriptor, prior to normalization.
//
// RateDen may be zero when the backend reports only an integer frame rate;
// normalization defaults it to 1.
type RawFormat struct {
	Subtype uint32
	Width   int
	Height  int
	RateNum int
	RateDen int
}

// DeviceFormat is one normalized entry in the catalog.
//
// Index is the backend-native identifier used to re-select this format
// during negotiation. Entries are immutable once probed.
type DeviceFormat struct {
	Index   int
	Pixel   PixelFormat
	Width   int
	Height  int
	RateNum int
	RateDen int
}

// String returns a compact description, e.g. "YUY2 640x480 @ 30/1".
func (f DeviceFormat) String() string {
	return fmt.Sprintf("%s %dx%d @ %d/%d", f.Pixel, f.Width, f.Height, f.RateNum, f.RateDen)
}

// Lister is the slice of the capture backend the catalog needs: one probe
// call returning the device's raw format descriptors.
type Lister interface {
	ListSupportedFormats() ([]RawFormat, error)
}

// Catalog caches one probe of a device's supported formats.
//
// Not safe for concurrent use; probing and negotiation happen on the host
// thread before streaming starts, so the session-level invariant is enough.
type Catalog struct {
	formats []DeviceFormat
	probed  bool
}

// New returns an empty, unprobed catalog.
func New() *Catalog {
	return &Catalog{}
}

// Probe returns the device's normalized formats, querying the backend only
// on the first call. Subsequent calls return the cached sequence until
// Release is called.
//
// Failure semantics (absorbed locally, never fatal):
//   - A raw descriptor with an unrecognized subtype or invalid geometry is
//     logged and skipped; the rest of the probe continues.
//   - A backend probe error yields an empty catalog, so negotiation later
//     fails with "no matching format" instead of propagating the error.
func (c *Catalog) Probe(lister Lister) []DeviceFormat {
	if c.probed {
		return c.formats
	}

	c.probed = true
	c.formats = nil

	raw, err := lister.ListSupportedFormats()
	if err != nil {
		slog.Error("catalog: format probe failed, catalog will be empty",
			"error", err,
		)
		return c.formats
	}

	slog.Debug("catalog: device reported formats", "count", len(raw))

	for i, rf := range raw {
		format, ok := normalize(i, rf)
		if !ok {
			slog.Warn("catalog: ignoring unsupported format",
				"index", i,
				"subtype", subtypeString(rf.Subtype),
			)
			continue
		}
		c.formats = append(c.formats, format)
	}

	return c.formats
}

// Release discards the cached sequence, forcing the next Probe to re-query
// the backend. Safe to call on an unprobed catalog.
func (c *Catalog) Release() {
	c.formats = nil
	c.probed = false
}

// Probed reports whether a probe is currently cached.
func (c *Catalog) Probed() bool {
	return c.probed
}

// normalize validates one raw descriptor. Returns false for descriptors the
// session cannot stream: unknown subtypes, non-positive geometry, or a
// non-positive frame rate.
func normalize(index int, rf RawFormat) (DeviceFormat, bool) {
	var pixel PixelFormat
	switch rf.Subtype {
	case SubtypeYUY2:
		pixel = PixelYUY2
	case SubtypeI420:
		pixel = PixelI420
	default:
		return DeviceFormat{}, false
	}

	if rf.Width <= 0 || rf.Height <= 0 {
		return DeviceFormat{}, false
	}

	rateDen := rf.RateDen
	if rateDen == 0 {
		// Backend reported an integer rate only
		rateDen = 1
	}
	if rf.RateNum <= 0 || rateDen < 0 {
		return DeviceFormat{}, false
	}

	return DeviceFormat{
		Index:   index,
		Pixel:   pixel,
		Width:   rf.Width,
		Height:  rf.Height,
		RateNum: rf.RateNum,
		RateDen: rateDen,
	}, true
}

func subtypeString(code uint32) string {
	b := []byte{
		byte(code >> 24),
		byte(code >> 16),
		byte(code >> 8),
		byte(code),
	}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}
