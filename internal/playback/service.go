// Package playback renders synthesized speech replies and procedural tones
// to the audio output.
//
// Playback is deliberately fail-open: a fetch error, decode error, output
// error, or the per-play timeout all resolve the call successfully so that
// the surrounding conversation keeps flowing — a skipped utterance beats a
// stalled dialog. Every such resolution is counted on the
// voicepipe.playback.failures metric, which is the only place systemic
// audio failures become visible.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/verbalia/voicepipe/internal/device"
	"github.com/verbalia/voicepipe/internal/observe"
)

const (
	// defaultTimeout is the fixed ceiling from load start to resolution.
	defaultTimeout = 5 * time.Second

	// defaultGrace is the resolution delay for a synthetic-none request,
	// covering externally driven speech that has no audio asset.
	defaultGrace = 250 * time.Millisecond

	// writeChunk is the number of samples handed to the output stream per
	// write, small enough that cancellation is observed promptly.
	writeChunk = 2048
)

// Request describes one conversational reply to render. A Request is
// consumed exactly once and never reused across turns.
type Request struct {
	// URL is a network reference to the audio asset. Mutually exclusive
	// with Data.
	URL string

	// Data is an in-memory audio blob (WAV, or raw PCM16 mono at the
	// output rate).
	Data []byte

	// Volume scales playback in [0,1]. The zero value means unset and
	// plays at full volume.
	Volume float64

	// Release frees any temporary resource backing URL or Data. It is
	// invoked exactly once, on completion or failure, never both.
	Release func()
}

// Synthetic reports whether the request carries no audio asset at all — the
// "synthetic-none" sentinel resolved after a short grace delay.
func (r Request) Synthetic() bool {
	return r.URL == "" && len(r.Data) == 0
}

// Option configures a [Service] during construction.
type Option func(*Service)

// WithTimeout overrides the playback ceiling.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient overrides the client used to fetch URL references.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithStats attaches a latency stats collector.
func WithStats(st *Stats) Option {
	return func(s *Service) { s.stats = st }
}

// Service plays audio references and procedural tones through a single
// output stream. It shares the output subsystem with nothing else and never
// touches the capture device or mutates device-level state.
//
// Safe for concurrent use, but plays are serialised: one utterance at a time.
type Service struct {
	out     device.OutputStream
	timeout time.Duration
	grace   time.Duration
	client  *http.Client
	metrics *observe.Metrics
	stats   *Stats

	playMu sync.Mutex
}

// New creates a Service that renders to out. The stream must already be
// open; the Service starts and stops it around each play.
func New(out device.OutputStream, opts ...Option) *Service {
	s := &Service{
		out:     out,
		timeout: defaultTimeout,
		grace:   defaultGrace,
		client:  http.DefaultClient,
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Play renders req to completion, playback error, or the timeout ceiling,
// whichever comes first. Failures and timeouts resolve successfully (nil);
// the only error ever returned is the caller's own context cancellation.
// req.Release is invoked exactly once on every path.
func (s *Service) Play(ctx context.Context, req Request) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	var releaseOnce sync.Once
	release := func() {
		if req.Release != nil {
			releaseOnce.Do(req.Release)
		}
	}
	defer release()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		s.metrics.PlaybackDuration.Record(ctx, elapsed.Seconds())
		if s.stats != nil {
			s.stats.RecordPlay(elapsed)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.Synthetic() {
		select {
		case <-time.After(s.grace):
		case <-ctx.Done():
		}
		return nil
	}

	samples, err := s.resolve(ctx, req)
	if err != nil {
		s.failOpen(ctx, err)
		return ctxErr(ctx)
	}

	applyVolume(samples, req.Volume)

	if err := s.render(ctx, samples); err != nil {
		s.failOpen(ctx, err)
	}
	return ctxErr(ctx)
}

// render writes samples to the output stream in chunks, watching for
// cancellation between chunks so the timeout ceiling holds.
func (s *Service) render(ctx context.Context, samples []float32) error {
	if err := s.out.Start(); err != nil {
		return errOutput(err)
	}
	defer func() {
		if err := s.out.Stop(); err != nil {
			slog.Warn("playback: output stop error", "error", err)
		}
	}()

	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return errTimeout
		}
		n := writeChunk
		if n > len(samples) {
			n = len(samples)
		}
		if err := s.out.Write(samples[:n]); err != nil {
			return errOutput(err)
		}
		samples = samples[n:]
	}
	return nil
}

// failOpen records and logs a playback failure that the caller never sees.
func (s *Service) failOpen(ctx context.Context, err error) {
	reason := "error"
	var fr *failure
	if errors.As(err, &fr) {
		reason = fr.reason
	}
	s.metrics.RecordPlaybackFailure(ctx, reason)
	if s.stats != nil {
		s.stats.RecordFailure()
	}
	slog.Warn("playback failed open, skipping utterance", "reason", reason, "error", err)
}

// ctxErr surfaces the parent context's cancellation while swallowing the
// internal timeout (which is a self-cancelling guard, not a caller error).
func ctxErr(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// applyVolume scales samples in place. v <= 0 means unset (full volume);
// values above 1 are clamped.
func applyVolume(samples []float32, v float64) {
	if v <= 0 || v >= 1 {
		return
	}
	f := float32(v)
	for i := range samples {
		samples[i] *= f
	}
}

// failure tags an error with the metric reason it should be counted under.
type failure struct {
	reason string
	err    error
}

func (f *failure) Error() string { return f.reason + ": " + f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

var errTimeout = &failure{reason: "timeout", err: context.DeadlineExceeded}

func errFetch(err error) error  { return &failure{reason: "fetch", err: err} }
func errDecode(err error) error { return &failure{reason: "decode", err: err} }
func errOutput(err error) error { return &failure{reason: "output", err: err} }
