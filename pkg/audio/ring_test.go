package audio_test

import (
	"testing"

	"github.com/verbalia/voicepipe/pkg/audio"
)

func TestFrameRing_ExactFrames(t *testing.T) {
	ring := audio.NewFrameRing(4)

	ring.Append([]float32{1, 2, 3})
	if _, ok := ring.Next(); ok {
		t.Fatal("expected no frame with 3 of 4 samples buffered")
	}

	ring.Append([]float32{4, 5})
	frame, ok := ring.Next()
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if len(frame) != 4 {
		t.Fatalf("frame length: got %d, want 4", len(frame))
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if frame[i] != want {
			t.Errorf("sample %d: got %f, want %f", i, frame[i], want)
		}
	}
	if ring.Len() != 1 {
		t.Errorf("remainder: got %d samples, want 1", ring.Len())
	}
}

func TestFrameRing_MultipleFramesFromOneAppend(t *testing.T) {
	ring := audio.NewFrameRing(2)
	ring.Append([]float32{1, 2, 3, 4, 5})

	var frames [][]float32
	for {
		frame, ok := ring.Next()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0][0] != 1 || frames[0][1] != 2 {
		t.Errorf("frame 0: got %v, want [1 2]", frames[0])
	}
	if frames[1][0] != 3 || frames[1][1] != 4 {
		t.Errorf("frame 1: got %v, want [3 4]", frames[1])
	}
	if ring.Len() != 1 {
		t.Errorf("remainder: got %d samples, want 1", ring.Len())
	}
}

func TestFrameRing_NoAliasing(t *testing.T) {
	ring := audio.NewFrameRing(2)
	ring.Append([]float32{1, 2, 3})
	frame, _ := ring.Next()
	frame[0] = 99

	ring.Append([]float32{4})
	next, ok := ring.Next()
	if !ok {
		t.Fatal("expected a second frame")
	}
	if next[0] != 3 || next[1] != 4 {
		t.Errorf("second frame: got %v, want [3 4]", next)
	}
}

func TestFrameRing_Reset(t *testing.T) {
	ring := audio.NewFrameRing(4)
	ring.Append([]float32{1, 2, 3})
	ring.Reset()

	if ring.Len() != 0 {
		t.Errorf("after reset: got %d samples, want 0", ring.Len())
	}

	// A partial from before the reset must never leak into the next frame.
	ring.Append([]float32{10, 20, 30, 40})
	frame, ok := ring.Next()
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if frame[0] != 10 {
		t.Errorf("first sample: got %f, want 10", frame[0])
	}
}
