//go:build cgo

// Package gstbackend implements the capture backend over GStreamer
// (requires the gstreamer1.0 runtime).
//
// It builds a source -> capsfilter -> appsink pipeline, maps the session's
// device property calls onto caps updates, and delivers appsink samples
// into the session's frame bridge through the registered callback. Tests
// use camerasource.MockBackend instead; this backend is the per-platform
// production implementation.
package gstbackend

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	camerasource "github.com/e7canasta/orion-care-sensor/modules/camera-source"
)

// Config contains configuration for the GStreamer backend.
type Config struct {
	// Device is the capture device node, e.g. "/dev/video0". Empty selects
	// autovideosrc.
	Device string

	// Formats is the format table advertised to the session. Cameras do
	// not expose a uniform enumeration API across platforms, so the
	// deployer declares the supported tuples, the way the orion modules
	// declare their resolution presets. Empty selects DefaultFormats.
	Formats []camerasource.RawFormat
}

// DefaultFormats is the table advertised when the deployer declares none:
// the common UVC webcam modes.
func DefaultFormats() []camerasource.RawFormat {
	return []camerasource.RawFormat{
		{Subtype: subtypeFor(camerasource.PixelYUY2), Width: 640, Height: 480, RateNum: 30, RateDen: 1},
		{Subtype: subtypeFor(camerasource.PixelYUY2), Width: 1280, Height: 720, RateNum: 30, RateDen: 1},
		{Subtype: subtypeFor(camerasource.PixelI420), Width: 640, Height: 480, RateNum: 30, RateDen: 1},
		{Subtype: subtypeFor(camerasource.PixelI420), Width: 640, Height: 480, RateNum: 15, RateDen: 1},
	}
}

// Backend is the GStreamer implementation of camerasource.Backend.
type Backend struct {
	cfg Config

	mu        sync.Mutex
	pipeline  *gst.Pipeline
	source    *gst.Element
	caps      *gst.Element
	sink      *app.Sink
	watcher   *fsnotify.Watcher
	formats   []camerasource.RawFormat
	selected  *camerasource.RawFormat
	frameRate int

	queue *sampleQueue
}

// New creates a GStreamer backend. GStreamer itself is initialized lazily
// in OpenDevice.
func New(cfg Config) *Backend {
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = DefaultFormats()
	}
	return &Backend{cfg: cfg, formats: formats}
}

// sampleQueue is the backend-owned frame queue the session's bridge
// signals over.
type sampleQueue struct {
	mu      sync.Mutex
	frames  []*gstFrame
	deliver func()
}

// gstFrame implements camerasource.FrameHandle for one appsink sample.
type gstFrame struct {
	data     []byte
	captured time.Time
}

func (f *gstFrame) Payload() []byte        { return f.data }
func (f *gstFrame) CaptureTime() time.Time { return f.captured }

// OpenDevice builds the pipeline and brings it to READY, which is where
// the source element actually opens the device node. A busy device is
// reported as camerasource.ErrDeviceBusy; any other failure tears the
// partial pipeline down before returning.
func (b *Backend) OpenDevice() (camerasource.Handles, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return camerasource.Handles{}, fmt.Errorf("gstbackend: create pipeline: %w", err)
	}

	var source *gst.Element
	if b.cfg.Device != "" {
		source, err = gst.NewElement("v4l2src")
		if err == nil {
			source.SetProperty("device", b.cfg.Device)
		}
	} else {
		source, err = gst.NewElement("autovideosrc")
	}
	if err != nil {
		return camerasource.Handles{}, fmt.Errorf("gstbackend: create source: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return camerasource.Handles{}, fmt.Errorf("gstbackend: create capsfilter: %w", err)
	}

	appsink, err := app.NewAppSink()
	if err != nil {
		return camerasource.Handles{}, fmt.Errorf("gstbackend: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(source, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(source, capsfilter, appsink.Element); err != nil {
		pipeline.SetState(gst.StateNull)
		return camerasource.Handles{}, fmt.Errorf("gstbackend: link pipeline: %w", err)
	}

	queue := &sampleQueue{}
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, queue)
		},
	})

	// READY opens the device node without starting capture
	if err := pipeline.SetState(gst.StateReady); err != nil {
		pipeline.SetState(gst.StateNull)
		return camerasource.Handles{}, fmt.Errorf("gstbackend: open device: %w", err)
	}
	if gerr := drainBusError(pipeline, 500*time.Millisecond); gerr != nil {
		pipeline.SetState(gst.StateNull)
		if strings.Contains(strings.ToLower(gerr.Error()), "busy") {
			return camerasource.Handles{}, camerasource.ErrDeviceBusy
		}
		slog.Error("gstbackend: open failed", "error", gerr.Error(), "debug", gerr.DebugString())
		return camerasource.Handles{}, &camerasource.BackendError{Op: "open device", Code: -1}
	}

	b.watchDeviceNode()

	b.pipeline = pipeline
	b.source = source
	b.caps = capsfilter
	b.sink = appsink
	b.queue = queue
	b.selected = nil
	b.frameRate = 0

	slog.Info("gstbackend: device opened", "device", b.cfg.Device)

	return camerasource.Handles{
		Device: source,
		Stream: pipeline,
		Queue:  queue,
	}, nil
}

// ListSupportedFormats returns the declared format table.
func (b *Backend) ListSupportedFormats(camerasource.DeviceHandle) ([]camerasource.RawFormat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipeline == nil {
		return nil, fmt.Errorf("gstbackend: device not open")
	}
	return b.formats, nil
}

// SetDeviceProperty maps the session's negotiation properties onto the
// pipeline: the format index and frame rates become a capsfilter update,
// the color range has no GStreamer equivalent and is acknowledged only.
func (b *Backend) SetDeviceProperty(_ camerasource.DeviceHandle, name string, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipeline == nil {
		return fmt.Errorf("gstbackend: device not open")
	}

	switch name {
	case camerasource.PropFormatIndex:
		index, ok := value.(int)
		if !ok || index < 0 || index >= len(b.formats) {
			return &camerasource.BackendError{Op: "set " + name, Code: -1}
		}
		b.selected = &b.formats[index]

	case camerasource.PropFrameRate:
		rate, ok := value.(int)
		if !ok || rate <= 0 {
			return &camerasource.BackendError{Op: "set " + name, Code: -1}
		}
		b.frameRate = rate

	case camerasource.PropMinFrameRate:
		// The capsfilter pins an exact rate; a distinct minimum does not
		// exist in this pipeline shape
		slog.Debug("gstbackend: minimum frame rate pinned via capsfilter", "rate", value)

	case camerasource.PropColorRange:
		slog.Debug("gstbackend: color range property acknowledged", "value", value)

	default:
		return &camerasource.BackendError{Op: "set " + name, Code: -1}
	}

	return b.applyCapsLocked()
}

// applyCapsLocked pushes the selected format and rate into the capsfilter.
func (b *Backend) applyCapsLocked() error {
	if b.selected == nil || b.frameRate == 0 {
		// Caps are applied once both halves of the negotiation arrived
		return nil
	}

	tag := formatTag(b.selected.Subtype)
	if tag == "" {
		return &camerasource.BackendError{Op: "apply caps", Code: -1}
	}

	capsStr := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		tag, b.selected.Width, b.selected.Height, b.frameRate)
	b.caps.SetProperty("caps", gst.NewCapsFromString(capsStr))

	slog.Debug("gstbackend: caps applied", "caps", capsStr)
	return nil
}

// StartStream brings the pipeline to PLAYING and waits briefly for the
// transition to be confirmed on the bus.
func (b *Backend) StartStream(camerasource.StreamHandle) error {
	b.mu.Lock()
	pipeline := b.pipeline
	b.mu.Unlock()

	if pipeline == nil {
		return fmt.Errorf("gstbackend: device not open")
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstbackend: start stream: %w", err)
	}
	if gerr := drainBusError(pipeline, 2*time.Second); gerr != nil {
		pipeline.SetState(gst.StateReady)
		slog.Error("gstbackend: start failed", "error", gerr.Error(), "debug", gerr.DebugString())
		return &camerasource.BackendError{Op: "start stream", Code: -1}
	}

	slog.Info("gstbackend: streaming started")
	return nil
}

// StopStream drops the pipeline back to READY, halting frame delivery
// while keeping the device open.
func (b *Backend) StopStream(camerasource.StreamHandle) {
	b.mu.Lock()
	pipeline := b.pipeline
	b.mu.Unlock()

	if pipeline != nil {
		pipeline.SetState(gst.StateReady)
	}
}

// RegisterDeliveryCallback implements camerasource.Backend.
func (b *Backend) RegisterDeliveryCallback(queue camerasource.QueueHandle, fn func()) {
	if q, ok := queue.(*sampleQueue); ok {
		q.mu.Lock()
		q.deliver = fn
		q.mu.Unlock()
	}
}

// DequeueFrame implements camerasource.Backend.
func (b *Backend) DequeueFrame(queue camerasource.QueueHandle) (camerasource.FrameHandle, bool) {
	q, ok := queue.(*sampleQueue)
	if !ok {
		return nil, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// QueueEmpty implements camerasource.Backend.
func (b *Backend) QueueEmpty(queue camerasource.QueueHandle) bool {
	q, ok := queue.(*sampleQueue)
	if !ok {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) == 0
}

// ReleaseFrame implements camerasource.Backend. Payloads were copied out
// of the GStreamer buffer at delivery, so the handle carries nothing to
// return.
func (b *Backend) ReleaseFrame(camerasource.FrameHandle) {}

// ReleaseStream implements camerasource.Backend.
func (b *Backend) ReleaseStream(camerasource.StreamHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
	}
	b.sink = nil
}

// ReleaseDevice implements camerasource.Backend.
func (b *Backend) ReleaseDevice(camerasource.DeviceHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = nil
	b.caps = nil
	b.selected = nil
}

// ReleaseQueue implements camerasource.Backend.
func (b *Backend) ReleaseQueue(camerasource.QueueHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue != nil {
		b.queue.mu.Lock()
		b.queue.frames = nil
		b.queue.deliver = nil
		b.queue.mu.Unlock()
		b.queue = nil
	}
}

// ReleaseContext implements camerasource.Backend.
func (b *Backend) ReleaseContext() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pipeline = nil
	if b.watcher != nil {
		b.watcher.Close()
		b.watcher = nil
	}
	slog.Debug("gstbackend: context released")
}

// watchDeviceNode watches the device's directory so an unplugged camera is
// reported instead of stalling silently. Best-effort: a watch failure only
// logs.
func (b *Backend) watchDeviceNode() {
	if b.cfg.Device == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("gstbackend: device watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(b.cfg.Device)); err != nil {
		slog.Warn("gstbackend: cannot watch device directory", "error", err)
		watcher.Close()
		return
	}

	device := b.cfg.Device
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == device && event.Op&fsnotify.Remove != 0 {
					slog.Error("gstbackend: device node removed", "device", device)
				}
				if event.Name == device && event.Op&fsnotify.Create != 0 {
					slog.Info("gstbackend: device node reappeared", "device", device)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("gstbackend: device watcher error", "error", err)
			}
		}
	}()

	b.watcher = watcher
}

// onNewSample copies one appsink sample into the backend queue and fires
// the delivery callback. GStreamer reuses its buffers, so the payload is
// copied before the buffer is unmapped (same discipline as the rtsp
// capture module).
func onNewSample(sink *app.Sink, q *sampleQueue) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstbackend: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstbackend: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstbackend: empty buffer received")
		return gst.FlowOK
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	q.mu.Lock()
	q.frames = append(q.frames, &gstFrame{data: payload, captured: time.Now()})
	deliver := q.deliver
	q.mu.Unlock()

	if deliver != nil {
		deliver()
	}

	return gst.FlowOK
}

// drainBusError polls the pipeline bus for up to wait and returns the
// first error message, or nil.
func drainBusError(pipeline *gst.Pipeline, wait time.Duration) *gst.GError {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			return msg.ParseError()
		}
	}
	return nil
}

// subtypeFor maps a normalized pixel format back to its backend subtype
// code for the declared format table.
func subtypeFor(p camerasource.PixelFormat) uint32 {
	switch p {
	case camerasource.PixelYUY2:
		return camerasource.FourCCYUY2
	case camerasource.PixelI420:
		return camerasource.FourCCI420
	default:
		return 0
	}
}

// formatTag maps a backend subtype to the GStreamer caps format tag.
func formatTag(subtype uint32) string {
	switch subtype {
	case camerasource.FourCCYUY2:
		return "YUY2"
	case camerasource.FourCCI420:
		return "I420"
	default:
		return ""
	}
}

var _ camerasource.Backend = (*Backend)(nil)
