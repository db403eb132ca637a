// Package camerasource implements a live-video capture element: it opens a
// camera through an injected capture backend, negotiates one of the
// device's advertised formats, and streams timestamped frames to the host
// at the device's native cadence.
//
// # Quick Start
//
// The simplest way to capture frames, using the Runner host loop:
//
//	session, err := camerasource.NewSession(camerasource.Config{
//	    Backend: backend, // e.g. gstbackend.New(gstbackend.Config{...})
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	runner, err := camerasource.NewRunner(session, camerasource.FormatRequest{
//	    Pixel:   camerasource.PixelYUY2,
//	    Width:   640,
//	    Height:  480,
//	    RateNum: 30,
//	    RateDen: 1,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer runner.Stop()
//
//	frames, err := runner.Start(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for frame := range frames {
//	    // frame.Data holds the raw payload in the negotiated device format
//	    process(frame)
//	}
//
// Hosts that drive their own state machine use the Source interface
// directly: Open, Caps, SetCaps, a Pull loop, Unlock, Close.
//
// # Design
//
//   - Format negotiation is exact-match against the probed device catalog;
//     there is no nearest-neighbor or scaling fallback.
//   - Pull blocks cooperatively on a condition guarded by one session
//     mutex; the backend delivery callback only flips a pending flag and
//     signals, so it never blocks the delivery thread.
//   - Cancellation (Unlock or Close) wakes a blocked Pull promptly; the
//     pull then returns ErrEndOfStream, the normal terminal signal.
//   - Frames pass through unmodified in their native device format; no
//     encoding, scaling or processing happens here.
//
// # Error Taxonomy
//
//   - ErrDeviceBusy: another consumer holds the device (user-actionable)
//   - *BackendError: unexpected backend status, reported with the code
//   - ErrNoMatchingFormat: negotiation found no exact catalog match
//   - unsupported catalog entries are logged and skipped, never surfaced
//
// Device-open and negotiation failures are fatal to that attempt only; the
// session returns to closed or open respectively and the host may retry.
package camerasource
