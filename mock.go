package camerasource

import (
	"sync"
	"time"
)

// MockFrame is the FrameHandle used by MockBackend. Released is set when
// the session hands the frame back, which makes leak assertions trivial.
type MockFrame struct {
	Bytes    []byte
	Captured time.Time
	Released bool
}

// Payload implements FrameHandle.
func (f *MockFrame) Payload() []byte { return f.Bytes }

// CaptureTime implements FrameHandle.
func (f *MockFrame) CaptureTime() time.Time { return f.Captured }

// PropertyCall records one SetDeviceProperty invocation.
type PropertyCall struct {
	Name  string
	Value interface{}
}

// MockBackend is a scripted, order-recording Backend for tests and for
// wiring the element into a pipeline without real capture hardware.
//
// Configure it up front (Formats, OpenErr, PropertyErr, StartErr), then
// inject frames with Deliver. Every backend call is appended to Calls so
// tests can assert teardown ordering.
type MockBackend struct {
	mu sync.Mutex

	// Formats is what ListSupportedFormats returns.
	Formats []RawFormat
	// ListErr, when set, makes the format probe fail.
	ListErr error
	// OpenErr, when set, makes OpenDevice fail (e.g. ErrDeviceBusy).
	OpenErr error
	// PropertyErr maps a property name to a forced failure.
	PropertyErr map[string]error
	// StartErr, when set, makes StartStream fail.
	StartErr error

	// Calls records every backend invocation in order.
	Calls []string
	// Properties records SetDeviceProperty calls in order.
	Properties []PropertyCall

	queue    []*MockFrame
	released []*MockFrame
	deliver  func()
	opened   bool
}

// mock handle values; opaque to the session
type mockHandle string

// NewMockBackend returns a mock with an empty format list.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) record(call string) {
	m.Calls = append(m.Calls, call)
}

// OpenDevice implements Backend.
func (m *MockBackend) OpenDevice() (Handles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("open device")
	if m.OpenErr != nil {
		return Handles{}, m.OpenErr
	}
	m.opened = true
	return Handles{
		Device: mockHandle("device"),
		Stream: mockHandle("stream"),
		Queue:  mockHandle("queue"),
	}, nil
}

// ListSupportedFormats implements Backend.
func (m *MockBackend) ListSupportedFormats(DeviceHandle) ([]RawFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("list formats")
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Formats, nil
}

// SetDeviceProperty implements Backend.
func (m *MockBackend) SetDeviceProperty(_ DeviceHandle, name string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("set " + name)
	if err := m.PropertyErr[name]; err != nil {
		return err
	}
	m.Properties = append(m.Properties, PropertyCall{Name: name, Value: value})
	return nil
}

// StartStream implements Backend.
func (m *MockBackend) StartStream(StreamHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("start stream")
	return m.StartErr
}

// StopStream implements Backend.
func (m *MockBackend) StopStream(StreamHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop stream")
}

// RegisterDeliveryCallback implements Backend.
func (m *MockBackend) RegisterDeliveryCallback(_ QueueHandle, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("register callback")
	m.deliver = fn
}

// DequeueFrame implements Backend.
func (m *MockBackend) DequeueFrame(QueueHandle) (FrameHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, false
	}
	f := m.queue[0]
	m.queue = m.queue[1:]
	return f, true
}

// QueueEmpty implements Backend.
func (m *MockBackend) QueueEmpty(QueueHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) == 0
}

// ReleaseFrame implements Backend.
func (m *MockBackend) ReleaseFrame(frame FrameHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := frame.(*MockFrame); ok {
		f.Released = true
		m.released = append(m.released, f)
	}
}

// ReleaseStream implements Backend.
func (m *MockBackend) ReleaseStream(StreamHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("release stream")
}

// ReleaseDevice implements Backend.
func (m *MockBackend) ReleaseDevice(DeviceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("release device")
}

// ReleaseQueue implements Backend.
func (m *MockBackend) ReleaseQueue(QueueHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("release queue")
}

// ReleaseContext implements Backend.
func (m *MockBackend) ReleaseContext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("release context")
	m.opened = false
}

// Deliver enqueues one frame and fires the delivery callback, emulating
// the backend delivery thread. Returns the injected frame so tests can
// check its Released flag.
func (m *MockBackend) Deliver(data []byte, captured time.Time) *MockFrame {
	m.mu.Lock()
	f := &MockFrame{Bytes: data, Captured: captured}
	m.queue = append(m.queue, f)
	deliver := m.deliver
	m.mu.Unlock()

	if deliver != nil {
		deliver()
	}
	return f
}

// Released returns the frames handed back to the backend so far.
func (m *MockBackend) Released() []*MockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockFrame, len(m.released))
	copy(out, m.released)
	return out
}

// Opened reports whether the mock currently holds an open context.
func (m *MockBackend) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

var _ Backend = (*MockBackend)(nil)
