// Package capture owns microphone acquisition and the real-time frame
// pipeline: it opens the input device, runs the capture worker on the
// device's audio callback, and exposes the outbound frame and volume
// streams to the rest of the system.
//
// Lifecycle: Initialize → Start → (Stop → Start)* → Shutdown. The device
// handle is held exclusively between Initialize and Shutdown; Stop halts
// frame emission without releasing the device so a restart pays no
// re-acquisition latency.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verbalia/voicepipe/internal/device"
	"github.com/verbalia/voicepipe/internal/observe"
	"github.com/verbalia/voicepipe/pkg/audio"
)

const (
	// defaultQueueDepth bounds the outbound frame channel. At 20 ms frames
	// this is roughly 640 ms of slack before drop-oldest kicks in.
	defaultQueueDepth = 32

	// defaultVolumeInterval is the raw-sample cadence of volume samples.
	defaultVolumeInterval = 128

	// volumeQueueDepth bounds the volume channel. Lagging UI consumers lose
	// samples, never stall the tick.
	volumeQueueDepth = 16
)

// Config describes the capture session requested from the device. It is
// immutable after [Service.Initialize].
type Config struct {
	// SampleRate is the preferred rate in Hz. Zero means device default.
	// When the device rejects the preferred rate, Initialize retries once
	// with the default instead of failing.
	SampleRate int

	// Channels is the channel count requested from the device. Values above
	// one are reduced to mono by Start (see its downmix parameter).
	Channels int

	// EchoCancellation, NoiseSuppression, and AutoGainControl are
	// deliberately unsupported — the downstream voice-activity detector
	// wants unprocessed audio. They exist so a config file that asks for
	// them is called out rather than silently ignored.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// QueueDepth is the outbound frame channel capacity. Zero selects the
	// default.
	QueueDepth int

	// VolumeInterval is the number of raw samples per volume sample. Zero
	// selects the default.
	VolumeInterval int
}

// Service acquires and owns the input device and manages capture worker
// lifecycles. All exported methods are safe for concurrent use from the
// control plane; none of them are called from the real-time tick.
type Service struct {
	host    device.Host
	metrics *observe.Metrics

	mu          sync.Mutex
	cfg         Config
	stream      device.InputStream
	initialized bool
	running     bool
	frames      chan audio.Frame
	volumes     chan audio.VolumeSample

	// active is read by the device callback on every tick; swapping it is
	// the only interaction between control plane and real-time path.
	active atomic.Pointer[worker]

	// lastDropped holds the drop count of the most recently stopped
	// session so telemetry readers see it after Stop.
	lastDropped atomic.Int64
}

// New creates a Service that acquires devices from host.
func New(host device.Host) *Service {
	return &Service{
		host:    host,
		metrics: observe.DefaultMetrics(),
	}
}

// Initialize requests exclusive access to the input device described by cfg.
// An unsupported preferred sample rate is retried once with the device
// default; all other acquisition failures are terminal for this attempt and
// are returned as an [*Error] whose Kind distinguishes permission denial,
// device absence, and device-busy. The handle is held until [Service.Shutdown].
func (s *Service) Initialize(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		// Re-initialize after Shutdown is the supported recovery path; a
		// second Initialize on a live handle is a sequencing bug.
		return &Error{Kind: Unsupported, Err: errAlreadyInitialized}
	}
	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		slog.Warn("capture: audio processing flags are not supported and stay disabled for clean VAD input",
			"echoCancellation", cfg.EchoCancellation,
			"noiseSuppression", cfg.NoiseSuppression,
			"autoGainControl", cfg.AutoGainControl,
		)
		cfg.EchoCancellation = false
		cfg.NoiseSuppression = false
		cfg.AutoGainControl = false
	}
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.VolumeInterval <= 0 {
		cfg.VolumeInterval = defaultVolumeInterval
	}

	start := time.Now()
	stream, err := s.open(cfg)
	if err != nil {
		return err
	}

	s.metrics.CaptureInitDuration.Record(ctx, time.Since(start).Seconds())
	s.stream = stream
	s.cfg = cfg
	s.initialized = true
	slog.Info("capture initialized",
		"requestedRate", cfg.SampleRate,
		"effectiveRate", stream.SampleRate(),
		"channels", cfg.Channels,
	)
	return nil
}

// open acquires the input stream, falling back to the device default sample
// rate exactly once when the preferred rate is unsupported.
func (s *Service) open(cfg Config) (device.InputStream, error) {
	streamCfg := device.StreamConfig{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	stream, err := s.host.OpenInput(streamCfg, s.onTick)
	if err == nil {
		return stream, nil
	}

	first := classify(err)
	if cfg.SampleRate == 0 || first.Kind != Unsupported {
		return nil, first
	}

	slog.Warn("capture: preferred sample rate unsupported, retrying with device default",
		"preferredRate", cfg.SampleRate, "error", err)
	streamCfg.SampleRate = 0
	stream, err = s.host.OpenInput(streamCfg, s.onTick)
	if err != nil {
		return nil, classify(err)
	}
	return stream, nil
}

// onTick is the device callback registered at Initialize. It delegates to
// whichever worker is active; between Stop and Start there is none and the
// tick is discarded.
func (s *Service) onTick(in []float32) {
	if w := s.active.Load(); w != nil {
		w.tick(in)
	}
}

// Start arms a fresh ring buffer and begins emitting frames of exactly
// frameSamples samples. When downmix is true, multi-channel input is
// averaged to mono; otherwise channel 0 is taken. Fails with a
// NotInitialized [*Error] before Initialize or after Shutdown. Calling
// Start after Stop re-arms the ring from empty.
func (s *Service) Start(frameSamples int, downmix bool) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, notInitialized("Start")
	}
	if s.running {
		return nil, &Error{Kind: Unsupported, Err: errAlreadyStarted}
	}

	s.frames = make(chan audio.Frame, s.cfg.QueueDepth)
	s.volumes = make(chan audio.VolumeSample, volumeQueueDepth)
	w := &worker{
		ring:        audio.NewFrameRing(frameSamples),
		frames:      s.frames,
		volumes:     s.volumes,
		sampleRate:  s.stream.SampleRate(),
		channels:    s.cfg.Channels,
		downmix:     downmix,
		volumeEvery: s.cfg.VolumeInterval,
	}
	s.active.Store(w)
	s.lastDropped.Store(0)

	if err := s.stream.Start(); err != nil {
		s.active.Store(nil)
		s.frames = nil
		s.volumes = nil
		return nil, classify(err)
	}
	s.running = true
	slog.Info("capture started", "frameSamples", frameSamples, "downmix", downmix)
	return s.frames, nil
}

// VolumeUpdates returns the volume sample stream of the running capture
// session. The cadence is independent of frame boundaries and carries no
// ordering guarantee relative to the frame stream. Fails with a
// NotInitialized [*Error] when no session is running.
func (s *Service) VolumeUpdates() (<-chan audio.VolumeSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, notInitialized("VolumeUpdates")
	}
	return s.volumes, nil
}

// Stop halts frame emission and discards any buffered partial frame.
// Pending stream consumers observe end-of-stream immediately. The device
// handle remains held so a subsequent Start is cheap. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	// Halt ticks first: after stream.Stop returns, the callback no longer
	// fires, so closing the channels below cannot race a send.
	if err := s.stream.Stop(); err != nil {
		slog.Warn("capture: stream stop error", "error", err)
	}
	// Flush the session's counters to the OTel instruments here, on the
	// control plane. The tick only ever touches the worker's atomics.
	w := s.active.Swap(nil)
	if w != nil {
		ctx := context.Background()
		if n := w.emitted.Load(); n > 0 {
			s.metrics.FramesEmitted.Add(ctx, n)
		}
		n := w.dropped.Load()
		s.lastDropped.Store(n)
		if n > 0 {
			s.metrics.FramesDropped.Add(ctx, n)
			slog.Warn("capture stopped with dropped frames",
				"framesDropped", n, "queueDepth", cap(s.frames))
		}
	}
	close(s.frames)
	close(s.volumes)
	s.frames = nil
	s.volumes = nil
	s.running = false
}

// Shutdown stops any running session and releases the device handle.
// Subsequent Start calls fail with NotInitialized until Initialize is
// called again. Idempotent.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.stopLocked()
	err := s.stream.Close()
	s.stream = nil
	s.initialized = false
	slog.Info("capture shut down")
	if err != nil {
		return classify(err)
	}
	return nil
}

// Dropped reports the number of frames dropped under backpressure by the
// running session, or by the most recently stopped one when none is
// running. Resets on Start.
func (s *Service) Dropped() int64 {
	if w := s.active.Load(); w != nil {
		return w.dropped.Load()
	}
	return s.lastDropped.Load()
}

// SampleRate reports the effective device sample rate. Zero before
// Initialize.
func (s *Service) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return 0
	}
	return s.stream.SampleRate()
}
