// Package device abstracts the platform audio subsystem behind narrow
// [Host], [InputStream], and [OutputStream] interfaces.
//
// Device handles are opaque owned resources: a stream acquired from a Host
// must be released via Close on every exit path, success or failure. The
// real implementation wraps PortAudio and is built with the "portaudio" tag;
// without it a stub Host is compiled so the rest of the pipeline (and its
// tests) stay hardware-independent. Test doubles live in device/mock.
package device

import "errors"

// Acquisition failures map onto these sentinel errors so that callers can
// branch with errors.Is without importing backend packages.
var (
	// ErrPermissionDenied indicates the platform refused access to the device.
	ErrPermissionDenied = errors.New("device: permission denied")

	// ErrNotFound indicates no matching audio device exists.
	ErrNotFound = errors.New("device: not found")

	// ErrBusy indicates the device is exclusively held by another process.
	ErrBusy = errors.New("device: busy")

	// ErrUnsupported indicates the requested stream configuration (typically
	// the preferred sample rate) is not supported by the device.
	ErrUnsupported = errors.New("device: unsupported configuration")
)

// StreamConfig describes the stream to open.
type StreamConfig struct {
	// SampleRate in Hz. Zero selects the device default rate.
	SampleRate int

	// Channels is the channel count delivered to (or consumed from) the
	// stream. Must be >= 1.
	Channels int

	// FramesPerBuffer is the device buffer size in sample groups per tick.
	// Zero selects a backend-chosen default.
	FramesPerBuffer int
}

// InputCallback receives raw interleaved float32 samples on every device
// tick. It runs on the platform's real-time audio context: it must not
// block, allocate unboundedly, or touch locks shared with the control plane.
// The samples slice is only valid for the duration of the call.
type InputCallback func(samples []float32)

// InputStream is an open capture stream. Not safe for concurrent use; the
// control plane owns lifecycle calls.
type InputStream interface {
	// Start begins delivering ticks to the callback supplied at open time.
	Start() error

	// Stop halts tick delivery. The stream may be started again.
	Stop() error

	// Close releases the underlying device handle. Idempotent.
	Close() error

	// SampleRate reports the effective rate the stream was opened at, which
	// may differ from the requested rate when the device default was used.
	SampleRate() int
}

// OutputStream is an open playback stream. Writes are blocking and paced by
// the device; they are the playback path's natural throttle.
type OutputStream interface {
	// Start begins playback.
	Start() error

	// Write queues interleaved float32 samples for playback, blocking until
	// the device has consumed them.
	Write(samples []float32) error

	// Stop drains and halts playback. The stream may be started again.
	Stop() error

	// Close releases the underlying device handle. Idempotent.
	Close() error

	// SampleRate reports the effective rate the stream was opened at.
	SampleRate() int
}

// Host is the entry point to the platform audio subsystem. A Host owns
// process-wide audio state; Close releases it. Only one component may
// mutate device-level state through a given stream once it is open.
type Host interface {
	// OpenInput acquires an exclusive capture stream. cb is invoked on the
	// real-time audio context for every tick.
	OpenInput(cfg StreamConfig, cb InputCallback) (InputStream, error)

	// OpenOutput acquires a playback stream.
	OpenOutput(cfg StreamConfig) (OutputStream, error)

	// Close tears down the audio subsystem. All streams must be closed first.
	Close() error
}
