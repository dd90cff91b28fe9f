// Package mock provides in-memory mock implementations of the
// [device.Host], [device.InputStream], and [device.OutputStream] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	host := &mock.Host{DefaultRate: 48000, UnsupportedRates: []int{44100}}
//	svc := capture.New(host)
//	// ... Initialize, Start ...
//	host.Input.Push([]float32{0.5, -0.5}) // simulate a device tick
package mock

import (
	"fmt"
	"slices"
	"sync"

	"github.com/verbalia/voicepipe/internal/device"
)

// Compile-time interface assertions.
var (
	_ device.Host         = (*Host)(nil)
	_ device.InputStream  = (*InputStream)(nil)
	_ device.OutputStream = (*OutputStream)(nil)
)

// Host is a mock implementation of [device.Host].
// Set the exported fields before use; inspect the Call* fields after.
type Host struct {
	mu sync.Mutex

	// DefaultRate is the sample rate selected when a StreamConfig requests
	// rate zero. Defaults to 48000 if left unset.
	DefaultRate int

	// UnsupportedRates lists preferred sample rates that OpenInput rejects
	// with [device.ErrUnsupported], for exercising the fallback path.
	UnsupportedRates []int

	// OpenInputErr, when non-nil, is returned by every OpenInput call.
	OpenInputErr error

	// OpenOutputErr, when non-nil, is returned by every OpenOutput call.
	OpenOutputErr error

	// Input is the stream created by the most recent successful OpenInput.
	Input *InputStream

	// Output is the stream created by the most recent successful OpenOutput.
	Output *OutputStream

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// RequestedInputRates records the SampleRate of every OpenInput call,
	// in order. Lets tests verify the single-retry fallback sequence.
	RequestedInputRates []int
}

func (h *Host) defaultRate() int {
	if h.DefaultRate == 0 {
		return 48000
	}
	return h.DefaultRate
}

// OpenInput implements [device.Host].
func (h *Host) OpenInput(cfg device.StreamConfig, cb device.InputCallback) (device.InputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountOpenInput++
	h.RequestedInputRates = append(h.RequestedInputRates, cfg.SampleRate)

	if h.OpenInputErr != nil {
		return nil, h.OpenInputErr
	}
	if cfg.SampleRate != 0 && slices.Contains(h.UnsupportedRates, cfg.SampleRate) {
		return nil, fmt.Errorf("%w: rate %d", device.ErrUnsupported, cfg.SampleRate)
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = h.defaultRate()
	}
	channels := cfg.Channels
	if channels < 1 {
		channels = 1
	}
	h.Input = &InputStream{rate: rate, Channels: channels, cb: cb}
	return h.Input, nil
}

// OpenOutput implements [device.Host].
func (h *Host) OpenOutput(cfg device.StreamConfig) (device.OutputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountOpenOutput++
	if h.OpenOutputErr != nil {
		return nil, h.OpenOutputErr
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = h.defaultRate()
	}
	h.Output = &OutputStream{rate: rate}
	return h.Output, nil
}

// Close implements [device.Host].
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	return nil
}

// InputStream is a mock implementation of [device.InputStream]. Drive the
// capture callback from the test with [InputStream.Push].
type InputStream struct {
	mu sync.Mutex

	// Channels is the channel count the stream was opened with.
	Channels int

	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// CallCountStart, CallCountStop, CallCountClose record lifecycle calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	rate    int
	cb      device.InputCallback
	started bool
}

// Start implements [device.InputStream].
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// Stop implements [device.InputStream].
func (s *InputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	return nil
}

// Close implements [device.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.started = false
	return nil
}

// SampleRate implements [device.InputStream].
func (s *InputStream) SampleRate() int { return s.rate }

// Started reports whether the stream is currently delivering ticks.
func (s *InputStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Push simulates one device tick, invoking the capture callback with the
// given interleaved samples. No-op when the stream is not started.
func (s *InputStream) Push(samples []float32) {
	s.mu.Lock()
	cb, started := s.cb, s.started
	s.mu.Unlock()
	if started && cb != nil {
		cb(samples)
	}
}

// OutputStream is a mock implementation of [device.OutputStream]. It records
// everything written for later inspection.
type OutputStream struct {
	mu sync.Mutex

	// WriteErr, when non-nil, is returned by Write.
	WriteErr error

	// CallCountStart, CallCountStop, CallCountClose record lifecycle calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	rate    int
	written []float32
}

// Start implements [device.OutputStream].
func (s *OutputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return nil
}

// Write implements [device.OutputStream].
func (s *OutputStream) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.written = append(s.written, samples...)
	return nil
}

// Stop implements [device.OutputStream].
func (s *OutputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return nil
}

// Close implements [device.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// SampleRate implements [device.OutputStream].
func (s *OutputStream) SampleRate() int { return s.rate }

// Written returns a copy of all samples written so far.
func (s *OutputStream) Written() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(s.written))
	copy(out, s.written)
	return out
}
