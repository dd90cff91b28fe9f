package playback

import (
	"context"
	"math"
	"time"
)

// Ringtone parameters: the classic dual-tone ringback (440 Hz + 480 Hz)
// with an exponential fade, played a fixed number of times with silence in
// between. Purely generated — no external asset involved.
const (
	ringLowHz     = 440.0
	ringHighHz    = 480.0
	ringToneLen   = 2 * time.Second
	ringGap       = 1 * time.Second
	ringRepeats   = 2
	ringDecay     = 3.0 // exponent multiplier; gain falls to e^-3 by tone end
	ringAmplitude = 0.4
)

// GenerateRingtone synthesizes one ring burst: two simultaneous sines with
// an exponential gain decay. Pure function over the sample rate and
// duration; tested independently of any device I/O.
func GenerateRingtone(sampleRate int, d time.Duration) []float32 {
	n := int(float64(sampleRate) * d.Seconds())
	out := make([]float32, n)
	for i := range n {
		t := float64(i) / float64(sampleRate)
		gain := math.Exp(-ringDecay * t / d.Seconds())
		v := math.Sin(2*math.Pi*ringLowHz*t) + math.Sin(2*math.Pi*ringHighHz*t)
		out[i] = float32(ringAmplitude * gain * v / 2)
	}
	return out
}

// Ringtone plays the ring burst ringRepeats times with ringGap of silence
// between repeats. Unlike Play there is no asset to fail on, so errors from
// the output device are returned directly. Respects ctx between and during
// repeats.
func (s *Service) Ringtone(ctx context.Context) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	s.metrics.Ringtones.Add(ctx, 1)
	tone := GenerateRingtone(s.out.SampleRate(), ringToneLen)

	for i := range ringRepeats {
		if i > 0 {
			select {
			case <-time.After(ringGap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.render(ctx, tone); err != nil {
			return err
		}
	}
	return nil
}
