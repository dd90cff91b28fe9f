// Package app wires all voicepipe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the duplex session plus the telemetry server,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHost, WithOutputStream, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/verbalia/voicepipe/internal/capture"
	"github.com/verbalia/voicepipe/internal/config"
	"github.com/verbalia/voicepipe/internal/device"
	"github.com/verbalia/voicepipe/internal/health"
	"github.com/verbalia/voicepipe/internal/observe"
	"github.com/verbalia/voicepipe/internal/pipeline"
	"github.com/verbalia/voicepipe/internal/playback"
	"github.com/verbalia/voicepipe/pkg/audio"
)

// dropLimit is the per-session frame-drop count past which the readiness
// probe reports the process degraded.
const dropLimit = 500

// App owns all subsystem lifetimes and orchestrates the voicepipe duplex
// session.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	host     device.Host
	out      device.OutputStream
	capture  *capture.Service
	playback *playback.Service
	stats    *playback.Stats
	facade   *pipeline.Facade
	handler  http.Handler
	server   *http.Server

	sink     pipeline.FrameSink
	onVolume func(audio.VolumeSample)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects a device host instead of opening the platform backend.
func WithHost(h device.Host) Option {
	return func(a *App) { a.host = h }
}

// WithOutputStream injects an output stream instead of opening one from the
// host.
func WithOutputStream(out device.OutputStream) Option {
	return func(a *App) { a.out = out }
}

// WithSink sets the consumer that receives capture frames while listening.
func WithSink(s pipeline.FrameSink) Option {
	return func(a *App) { a.sink = s }
}

// WithVolumeListener sets the callback that receives volume telemetry.
func WithVolumeListener(fn func(audio.VolumeSample)) Option {
	return func(a *App) { a.onVolume = fn }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Device host ───────────────────────────────────────────────────
	if a.host == nil {
		host, err := device.NewHost()
		if err != nil {
			return nil, fmt.Errorf("app: open device host: %w", err)
		}
		a.host = host
		a.closers = append(a.closers, a.host.Close)
	}

	// ── 2. Output stream ─────────────────────────────────────────────────
	if a.out == nil {
		out, err := a.host.OpenOutput(device.StreamConfig{
			SampleRate: cfg.Capture.SampleRate,
			Channels:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open output stream: %w", err)
		}
		a.out = out
		a.closers = append(a.closers, a.out.Close)
	}

	// ── 3. Capture and playback services ─────────────────────────────────
	a.capture = capture.New(a.host)
	a.stats = playback.NewStats(cfg.Playback.StatsWindow)
	playOpts := []playback.Option{playback.WithStats(a.stats)}
	if cfg.Playback.Timeout > 0 {
		playOpts = append(playOpts, playback.WithTimeout(cfg.Playback.Timeout.Std()))
	}
	a.playback = playback.New(a.out, playOpts...)

	// ── 4. Pipeline facade ───────────────────────────────────────────────
	a.facade = pipeline.New(a.capture, a.playback)

	// ── 5. Telemetry server ──────────────────────────────────────────────
	a.handler = observe.Middleware(observe.DefaultMetrics())(a.newMux())
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: a.handler,
		}
	}

	return a, nil
}

// Handler returns the telemetry routes (metrics, health probes, stats) for
// callers that mount them on their own server instead of the built-in one.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Pipeline returns the facade for driving the conversation: HandleReply,
// Ringtone, Level.
func (a *App) Pipeline() *pipeline.Facade {
	return a.facade
}

// newMux builds the telemetry routes: Prometheus metrics, health probes,
// and a JSON stats snapshot.
func (a *App) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.PipelineChecker(a.facade),
		health.CaptureChecker(a.facade, dropLimit),
	).Register(mux)
	mux.HandleFunc("GET /stats", a.handleStats)
	return mux
}

// statsResponse is the JSON body served by /stats.
type statsResponse struct {
	State         string            `json:"state"`
	Level         float64           `json:"level"`
	FrequencyKHz  float64           `json:"frequency_khz"`
	PeakDetected  bool              `json:"peak_detected"`
	FramesDropped int64             `json:"frames_dropped"`
	Playback      playback.Snapshot `json:"playback"`
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	report := a.facade.Level()
	resp := statsResponse{
		State:         a.facade.State().String(),
		Level:         report.Level,
		FrequencyKHz:  report.FrequencyKHz,
		PeakDetected:  report.PeakDetected,
		FramesDropped: a.facade.Dropped(),
		Playback:      a.stats.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}

// Run starts the duplex session and the telemetry server, then blocks until
// ctx is cancelled or the server fails. The session begins in Listening;
// replies are driven through [App.Pipeline].
func (a *App) Run(ctx context.Context) error {
	err := a.facade.Initialize(ctx, pipeline.Config{
		Capture: capture.Config{
			SampleRate:       a.cfg.Capture.SampleRate,
			Channels:         a.cfg.Capture.Channels,
			EchoCancellation: a.cfg.Capture.EchoCancellation,
			NoiseSuppression: a.cfg.Capture.NoiseSuppression,
			AutoGainControl:  a.cfg.Capture.AutoGainControl,
			QueueDepth:       a.cfg.Capture.QueueDepth,
			VolumeInterval:   a.cfg.Capture.VolumeInterval,
		},
		FrameSamples: a.cfg.Capture.FrameSamples,
		Downmix:      a.cfg.Capture.Downmix,
		Sink:         a.sink,
		OnVolume:     a.onVolume,
	})
	if err != nil {
		return fmt.Errorf("app: initialize pipeline: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error {
			slog.Info("telemetry server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	slog.Info("app running", "state", a.facade.State().String())
	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so closers find idle devices.
		if err := a.facade.Stop(ctx); err != nil {
			slog.Warn("pipeline stop error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
