package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 {
		errs = append(errs, fmt.Errorf("capture.channels %d must not be negative", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_samples %d must not be negative", cfg.Capture.FrameSamples))
	}
	if cfg.Capture.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_depth %d must not be negative", cfg.Capture.QueueDepth))
	}
	if cfg.Capture.VolumeInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.volume_interval %d must not be negative", cfg.Capture.VolumeInterval))
	}
	if cfg.Capture.Downmix && cfg.Capture.Channels == 1 {
		slog.Warn("capture.downmix has no effect with a single channel")
	}

	// Playback
	if cfg.Playback.Timeout < 0 {
		errs = append(errs, fmt.Errorf("playback.timeout %s must not be negative", cfg.Playback.Timeout))
	}
	if cfg.Playback.StatsWindow < 0 {
		errs = append(errs, fmt.Errorf("playback.stats_window %d must not be negative", cfg.Playback.StatsWindow))
	}

	return errors.Join(errs...)
}
