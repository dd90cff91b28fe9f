package playback_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/verbalia/voicepipe/internal/playback"
)

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestGenerateRingtone(t *testing.T) {
	tone := playback.GenerateRingtone(48000, 2*time.Second)
	if len(tone) != 96000 {
		t.Fatalf("tone length: got %d samples, want 96000", len(tone))
	}

	for i, s := range tone {
		if s > 0.4 || s < -0.4 {
			t.Fatalf("sample %d: amplitude %f exceeds 0.4", i, s)
		}
	}

	// The exponential fade should leave the tail much quieter than the
	// head.
	head := rms(tone[:4800])
	tail := rms(tone[len(tone)-4800:])
	if tail >= head/2 {
		t.Errorf("no audible decay: head RMS %f, tail RMS %f", head, tail)
	}
}

func TestGenerateRingtone_ContainsBothTones(t *testing.T) {
	// 440 Hz and 480 Hz sum produces a 40 Hz beat: the envelope must dip
	// near zero at the beat minimum even early in the burst where the
	// decay is still mild.
	tone := playback.GenerateRingtone(48000, 2*time.Second)

	// One beat period is 1200 samples at 48 kHz. Scan the first beat for
	// its minimum envelope.
	minPeak := float32(1)
	for start := 0; start+50 <= 1200; start += 50 {
		var peak float32
		for _, s := range tone[start : start+50] {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		if peak < minPeak {
			minPeak = peak
		}
	}
	if minPeak > 0.1 {
		t.Errorf("expected a beat null in the first beat period, min envelope %f", minPeak)
	}
}

func TestRingtone_CancelledDuringGap(t *testing.T) {
	out := newOutput(t, 48000)
	svc := playback.New(out)

	// The first burst renders instantly against the mock; the context
	// expires during the inter-ring gap, so exactly one burst is written.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := svc.Ringtone(ctx)
	if err == nil {
		t.Fatal("expected context error from cancelled gap")
	}
	if got := len(out.Written()); got != 96000 {
		t.Errorf("written samples: got %d, want one 96000-sample burst", got)
	}
	if out.CallCountStart != 1 {
		t.Errorf("stream starts: got %d, want 1", out.CallCountStart)
	}
}
