// Package audio defines the frame primitives and PCM conversion helpers for
// the voicepipe capture/playback pipeline.
//
// The two core value types are:
//
//   - [Frame] — a fixed-length mono PCM16 frame, the atomic unit of audio
//     transport to the speech backend.
//   - [VolumeSample] — a normalized level observation emitted alongside the
//     frame stream for UI telemetry.
//
// This package lives under pkg/ because external frame sinks and reply
// sources exchange these types with the pipeline.
package audio

import "time"

// Frame is a single fixed-length frame of mono audio flowing out of the
// capture pipeline. Once emitted on a stream, a Frame is immutable and
// ownership transfers to the receiver — producers never retain or alias
// the Data slice after hand-off.
type Frame struct {
	// Data is little-endian PCM16 mono. Its length is always exactly
	// frameSamples*2 bytes; short frames are never emitted.
	Data []byte

	// SampleRate in Hz of the capture device that produced this frame.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM16 samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / 2
}

// VolumeSample is one normalized level observation. Samples are produced at
// a fixed raw-sample cadence independent of frame boundaries; timestamps are
// monotonically increasing within a stream.
type VolumeSample struct {
	// Level is the normalized peak amplitude in [0,1].
	Level float64

	// Timestamp marks when this sample was observed, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
