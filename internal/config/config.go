// Package config provides the configuration schema and loader for the
// voicepipe server.
package config

import (
	"fmt"
	"time"
)

// Duration wraps [time.Duration] so that YAML configs can use readable
// values like "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string or integer nanosecond count.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v (%T)", raw, raw)
	}
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity for the voicepipe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voicepipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig holds network and logging settings for the telemetry server.
type ServerConfig struct {
	// ListenAddr is the TCP address the telemetry server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig holds microphone acquisition settings. All values are fixed
// for the lifetime of a session; changing them requires a restart.
type CaptureConfig struct {
	// SampleRate is the preferred capture rate in Hz. Zero means device
	// default. An unsupported rate falls back to the device default.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count requested from the device.
	Channels int `yaml:"channels"`

	// FrameSamples is the fixed number of samples per emitted frame.
	// Zero selects 20 ms at the effective sample rate.
	FrameSamples int `yaml:"frame_samples"`

	// Downmix averages multi-channel input to mono instead of taking
	// channel 0.
	Downmix bool `yaml:"downmix"`

	// QueueDepth bounds the outbound frame channel. Zero selects the
	// capture default.
	QueueDepth int `yaml:"queue_depth"`

	// VolumeInterval is the raw-sample cadence of volume telemetry.
	// Zero selects the capture default.
	VolumeInterval int `yaml:"volume_interval"`

	// EchoCancellation, NoiseSuppression, and AutoGainControl request
	// device-side processing. Unsupported; a true value is warned about
	// at startup and ignored.
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// PlaybackConfig holds reply rendering settings.
type PlaybackConfig struct {
	// Timeout is the per-play ceiling from load start to resolution.
	// Zero selects the playback default.
	Timeout Duration `yaml:"timeout"`

	// StatsWindow is the number of latency samples retained for
	// percentile reporting. Zero selects 100.
	StatsWindow int `yaml:"stats_window"`
}
