// Package pipeline composes capture, playback, and analysis into a single
// duplex audio session with an explicit lifecycle.
//
// The facade enforces half-duplex turn-taking: while a reply is being
// spoken, captured microphone frames are consumed but not forwarded, so the
// downstream consumer never transcribes the system's own voice. Capture
// itself keeps running during playback so no device re-acquisition latency
// is paid between turns.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/verbalia/voicepipe/internal/analyzer"
	"github.com/verbalia/voicepipe/internal/capture"
	"github.com/verbalia/voicepipe/internal/observe"
	"github.com/verbalia/voicepipe/internal/playback"
	"github.com/verbalia/voicepipe/pkg/audio"
)

// State is the lifecycle position of a [Facade].
type State int

const (
	// Idle precedes the first Initialize.
	Idle State = iota

	// Initializing covers device acquisition.
	Initializing

	// Listening means capture frames flow to the sink.
	Listening

	// Speaking means a reply is rendering; capture frames are muted.
	Speaking

	// ErrorState means initialization failed. Recoverable only by calling
	// Initialize again.
	ErrorState

	// Closed is terminal for this session.
	Closed
)

// String returns the state name for logs and metric attributes.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case ErrorState:
		return "error"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FrameSink receives capture frames while the facade is listening.
// OnFrame is called from the facade's pump goroutine and must not block for
// long; a slow sink eventually shows up as capture drops.
type FrameSink interface {
	OnFrame(frame audio.Frame)
}

// SinkFunc adapts a function to the [FrameSink] interface.
type SinkFunc func(frame audio.Frame)

// OnFrame calls f(frame).
func (f SinkFunc) OnFrame(frame audio.Frame) { f(frame) }

// Config describes one duplex session.
type Config struct {
	// Capture is handed to the capture service unchanged.
	Capture capture.Config

	// FrameSamples is the fixed emission size in samples per frame.
	// Zero selects 20 ms at the effective device rate.
	FrameSamples int

	// Downmix averages multi-channel input to mono instead of taking
	// channel 0.
	Downmix bool

	// Sink receives frames while listening. May be nil; frames are then
	// consumed and retained for analysis only.
	Sink FrameSink

	// OnVolume receives volume samples. May be nil; samples are then
	// drained.
	OnVolume func(audio.VolumeSample)
}

// Facade owns one duplex audio session. All exported methods are safe for
// concurrent use.
type Facade struct {
	capture  *capture.Service
	playback *playback.Service
	analyzer *analyzer.Analyzer
	metrics  *observe.Metrics

	mu    sync.Mutex
	state State
	cfg   Config
	wg    sync.WaitGroup

	// latest is the most recent frame, retained as the sample source for
	// on-demand analysis. Written only by the pump goroutine.
	latest struct {
		sync.Mutex
		samples []float32
		rate    int
	}
}

// New creates a Facade over the given capture and playback services.
func New(capSvc *capture.Service, play *playback.Service) *Facade {
	return &Facade{
		capture:  capSvc,
		playback: play,
		analyzer: analyzer.New(),
		metrics:  observe.DefaultMetrics(),
		state:    Idle,
	}
}

// State returns the current lifecycle state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Initialize acquires the input device and starts the frame pump, moving the
// facade to Listening. Valid from Idle and from ErrorState (the recovery
// path). Any acquisition or start failure lands the facade in ErrorState
// with the underlying [*capture.Error] returned.
func (f *Facade) Initialize(ctx context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Idle, ErrorState:
	default:
		return fmt.Errorf("pipeline: initialize from state %s", f.state)
	}
	f.setStateLocked(ctx, Initializing)

	if err := f.capture.Initialize(ctx, cfg.Capture); err != nil {
		f.setStateLocked(ctx, ErrorState)
		return err
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = f.capture.SampleRate() / 50
	}
	frames, err := f.capture.Start(cfg.FrameSamples, cfg.Downmix)
	if err != nil {
		_ = f.capture.Shutdown()
		f.setStateLocked(ctx, ErrorState)
		return err
	}
	volumes, err := f.capture.VolumeUpdates()
	if err != nil {
		_ = f.capture.Shutdown()
		f.setStateLocked(ctx, ErrorState)
		return err
	}

	f.cfg = cfg
	f.analyzer.Reset()
	f.wg.Add(2)
	go f.pumpFrames(frames)
	go f.pumpVolumes(volumes)

	f.metrics.ActiveSessions.Add(ctx, 1)
	f.setStateLocked(ctx, Listening)
	return nil
}

// HandleReply renders one reply while muting capture forwarding, then
// returns to Listening. The mute is released on every path, including
// fail-open playback and caller cancellation. Rejected outside Listening.
func (f *Facade) HandleReply(ctx context.Context, req playback.Request) error {
	if err := f.transition(ctx, Listening, Speaking); err != nil {
		return err
	}
	err := f.playback.Play(ctx, req)
	f.forceState(ctx, Speaking, Listening)
	return err
}

// Ringtone renders the procedural incoming-call tone, muting capture
// forwarding for its duration like a reply.
func (f *Facade) Ringtone(ctx context.Context) error {
	if err := f.transition(ctx, Listening, Speaking); err != nil {
		return err
	}
	err := f.playback.Ringtone(ctx)
	f.forceState(ctx, Speaking, Listening)
	return err
}

// Level computes a fresh analysis report from the most recently captured
// frame. Before any frame has arrived it reports silence.
func (f *Facade) Level() analyzer.Report {
	f.latest.Lock()
	samples := f.latest.samples
	rate := f.latest.rate
	f.latest.Unlock()
	return f.analyzer.Analyze(analyzer.NewSnapshot(samples, rate))
}

// Dropped reports frames dropped by the capture session under backpressure.
func (f *Facade) Dropped() int64 {
	return f.capture.Dropped()
}

// Stop ends the session: capture stops, the pumps drain out, and the device
// handle is released. The facade is Closed afterwards and cannot be reused.
// Idempotent.
func (f *Facade) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.state == Closed {
		f.mu.Unlock()
		return nil
	}
	wasLive := f.state == Listening || f.state == Speaking
	f.setStateLocked(ctx, Closed)
	f.mu.Unlock()

	err := f.capture.Shutdown()
	f.wg.Wait()
	if wasLive {
		f.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Info("pipeline stopped")
	return err
}

// pumpFrames consumes the capture frame stream until it closes. While
// speaking, frames are retained for analysis but not forwarded.
func (f *Facade) pumpFrames(frames <-chan audio.Frame) {
	defer f.wg.Done()
	for frame := range frames {
		samples := audio.PCM16ToFloat(frame.Data)
		f.latest.Lock()
		f.latest.samples = samples
		f.latest.rate = frame.SampleRate
		f.latest.Unlock()

		f.mu.Lock()
		forward := f.state == Listening && f.cfg.Sink != nil
		sink := f.cfg.Sink
		f.mu.Unlock()
		if forward {
			sink.OnFrame(frame)
		}
	}
}

// pumpVolumes forwards volume samples to the configured callback, or drains
// them when there is none.
func (f *Facade) pumpVolumes(volumes <-chan audio.VolumeSample) {
	defer f.wg.Done()
	f.mu.Lock()
	onVolume := f.cfg.OnVolume
	f.mu.Unlock()
	if onVolume == nil {
		audio.Drain(volumes)
		return
	}
	for v := range volumes {
		onVolume(v)
	}
}

// transition moves from exactly one expected state to another, failing when
// the facade is anywhere else.
func (f *Facade) transition(ctx context.Context, from, to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return fmt.Errorf("pipeline: %s requires state %s, currently %s", to, from, f.state)
	}
	f.setStateLocked(ctx, to)
	return nil
}

// forceState restores to when the facade is still in from, tolerating a
// concurrent Stop having moved it to Closed in the meantime.
func (f *Facade) forceState(ctx context.Context, from, to State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == from {
		f.setStateLocked(ctx, to)
	}
}

func (f *Facade) setStateLocked(ctx context.Context, to State) {
	from := f.state
	f.state = to
	f.metrics.RecordStateTransition(ctx, from.String(), to.String())
	slog.Debug("pipeline state", "from", from.String(), "to", to.String())
}
