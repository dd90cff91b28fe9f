package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/verbalia/voicepipe/internal/capture"
	"github.com/verbalia/voicepipe/internal/device"
	"github.com/verbalia/voicepipe/internal/device/mock"
)

// sineWave generates n float32 samples of a sine at freq Hz and full-scale
// amplitude.
func sineWave(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(rate)))
	}
	return out
}

func TestService_CaptureFrames(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{
		SampleRate: 48000,
		Channels:   1,
		QueueDepth: 64,
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	frames, err := svc.Start(960, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One second of a 375 Hz full-scale sine. 375 Hz has a 128-sample
	// period at 48 kHz, so the waveform hits exactly 1.0 at sample 32.
	host.Input.Push(sineWave(48000, 48000, 375))
	svc.Stop()

	count := 0
	var peak int16
	prevTS := time.Duration(-1)
	for f := range frames {
		count++
		if f.Samples() != 960 {
			t.Fatalf("frame %d: got %d samples, want 960", count, f.Samples())
		}
		if f.SampleRate != 48000 {
			t.Errorf("frame %d: sample rate %d, want 48000", count, f.SampleRate)
		}
		if f.Timestamp <= prevTS {
			t.Errorf("frame %d: timestamp %v not after %v", count, f.Timestamp, prevTS)
		}
		prevTS = f.Timestamp
		for i := 0; i+1 < len(f.Data); i += 2 {
			if s := int16(binary.LittleEndian.Uint16(f.Data[i:])); s > peak {
				peak = s
			}
		}
	}

	if count != 50 {
		t.Errorf("expected exactly 50 frames from 48000 samples, got %d", count)
	}
	if peak < 32766 {
		t.Errorf("full-scale sine peak: got %d, want >= 32766", peak)
	}
	if svc.Dropped() != 0 {
		t.Errorf("unexpected drops: %d", svc.Dropped())
	}
}

func TestService_SampleRateFallback(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000, UnsupportedRates: []int{44100}}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{SampleRate: 44100, Channels: 1}); err != nil {
		t.Fatalf("Initialize with fallback: %v", err)
	}

	want := []int{44100, 0}
	if len(host.RequestedInputRates) != len(want) {
		t.Fatalf("open attempts: got %v, want %v", host.RequestedInputRates, want)
	}
	for i := range want {
		if host.RequestedInputRates[i] != want[i] {
			t.Errorf("attempt %d: requested rate %d, want %d", i, host.RequestedInputRates[i], want[i])
		}
	}
	if got := svc.SampleRate(); got != 48000 {
		t.Errorf("effective rate: got %d, want 48000", got)
	}
}

func TestService_InitializeErrorClassification(t *testing.T) {
	cases := []struct {
		sentinel error
		want     capture.ErrorKind
	}{
		{device.ErrPermissionDenied, capture.PermissionDenied},
		{device.ErrNotFound, capture.DeviceNotFound},
		{device.ErrBusy, capture.DeviceBusy},
		{device.ErrUnsupported, capture.Unsupported},
	}

	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			host := &mock.Host{OpenInputErr: fmt.Errorf("backend: %w", tc.sentinel)}
			svc := capture.New(host)

			err := svc.Initialize(context.Background(), capture.Config{Channels: 1})
			var capErr *capture.Error
			if !errors.As(err, &capErr) {
				t.Fatalf("expected *capture.Error, got %v", err)
			}
			if capErr.Kind != tc.want {
				t.Errorf("kind: got %s, want %s", capErr.Kind, tc.want)
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("cause %v not preserved through wrapping", tc.sentinel)
			}
		})
	}
}

func TestService_StartBeforeInitialize(t *testing.T) {
	svc := capture.New(&mock.Host{})

	_, err := svc.Start(960, false)
	var capErr *capture.Error
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *capture.Error, got %v", err)
	}
	if capErr.Kind != capture.NotInitialized {
		t.Errorf("kind: got %s, want NOT_INITIALIZED", capErr.Kind)
	}
}

func TestService_DoubleInitialize(t *testing.T) {
	svc := capture.New(&mock.Host{})
	ctx := context.Background()

	if err := svc.Initialize(ctx, capture.Config{Channels: 1}); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := svc.Initialize(ctx, capture.Config{Channels: 1}); err == nil {
		t.Fatal("second Initialize on a live handle should fail")
	}
}

func TestService_StopEndsStreamAndRestartRearms(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{Channels: 1}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	frames, err := svc.Start(960, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A partial frame's worth of a marker value, then Stop.
	host.Input.Push(make([]float32, 500))
	svc.Stop()
	svc.Stop() // idempotent

	for range frames {
		t.Fatal("no complete frame was buffered; stream should close empty")
	}
	if host.Input.Started() {
		t.Error("device stream still running after Stop")
	}

	// Restart: the discarded partial must not leak into the first frame.
	frames2, err := svc.Start(960, false)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	marker := make([]float32, 960)
	for i := range marker {
		marker[i] = 0.5
	}
	host.Input.Push(marker)
	svc.Stop()

	got := 0
	for f := range frames2 {
		got++
		s := int16(binary.LittleEndian.Uint16(f.Data[:2]))
		if s < 16000 {
			t.Errorf("first sample %d looks like stale pre-restart data", s)
		}
	}
	if got != 1 {
		t.Errorf("expected exactly 1 frame after restart, got %d", got)
	}
}

func TestService_DropOldestUnderBackpressure(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{Channels: 1, QueueDepth: 2}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	frames, err := svc.Start(960, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Five frames' worth with nothing consuming: the two newest survive.
	host.Input.Push(make([]float32, 5*960))

	if got := svc.Dropped(); got != 3 {
		t.Errorf("dropped: got %d, want 3", got)
	}
	svc.Stop()

	var stamps []time.Duration
	for f := range frames {
		stamps = append(stamps, f.Timestamp)
	}
	if len(stamps) != 2 {
		t.Fatalf("expected 2 surviving frames, got %d", len(stamps))
	}
	// Frames 4 and 5 of 5: timestamps 80 ms and 100 ms.
	if stamps[0] != 80*time.Millisecond || stamps[1] != 100*time.Millisecond {
		t.Errorf("surviving timestamps: got %v, want [80ms 100ms]", stamps)
	}

	// The stopped session's count stays visible to telemetry readers.
	if got := svc.Dropped(); got != 3 {
		t.Errorf("dropped after Stop: got %d, want 3", got)
	}

	// A fresh session starts from zero.
	if _, err := svc.Start(960, false); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := svc.Dropped(); got != 0 {
		t.Errorf("dropped after restart: got %d, want 0", got)
	}
}

func TestService_VolumeUpdates(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{
		Channels:       1,
		VolumeInterval: 128,
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := svc.VolumeUpdates(); err == nil {
		t.Fatal("VolumeUpdates before Start should fail")
	}

	if _, err := svc.Start(960, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	volumes, err := svc.VolumeUpdates()
	if err != nil {
		t.Fatalf("VolumeUpdates: %v", err)
	}

	in := make([]float32, 256)
	for i := range in {
		in[i] = -0.5
	}
	host.Input.Push(in)
	svc.Stop()

	var prev time.Duration = -1
	count := 0
	for v := range volumes {
		count++
		if math.Abs(v.Level-0.5) > 1e-6 {
			t.Errorf("sample %d: level %f, want 0.5", count, v.Level)
		}
		if v.Timestamp <= prev {
			t.Errorf("sample %d: timestamp %v not after %v", count, v.Timestamp, prev)
		}
		prev = v.Timestamp
	}
	if count != 2 {
		t.Errorf("expected 2 volume samples from 256 samples at interval 128, got %d", count)
	}
}

func TestService_ShutdownReleasesDevice(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)
	ctx := context.Background()

	if err := svc.Initialize(ctx, capture.Config{Channels: 1}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := svc.Start(960, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if host.Input.CallCountClose != 1 {
		t.Errorf("stream close calls: got %d, want 1", host.Input.CallCountClose)
	}

	_, err := svc.Start(960, false)
	var capErr *capture.Error
	if !errors.As(err, &capErr) || capErr.Kind != capture.NotInitialized {
		t.Errorf("Start after Shutdown: got %v, want NOT_INITIALIZED", err)
	}

	// Re-initialize is the supported recovery path.
	if err := svc.Initialize(ctx, capture.Config{Channels: 1}); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if host.CallCountOpenInput != 2 {
		t.Errorf("open calls: got %d, want 2", host.CallCountOpenInput)
	}
}

func TestService_DownmixStereo(t *testing.T) {
	host := &mock.Host{DefaultRate: 48000}
	svc := capture.New(host)

	if err := svc.Initialize(context.Background(), capture.Config{Channels: 2}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	frames, err := svc.Start(2, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Two stereo ticks: L=0.8/R=0.4 averages to 0.6.
	host.Input.Push([]float32{0.8, 0.4, 0.8, 0.4})
	svc.Stop()

	got := 0
	for f := range frames {
		got++
		s := int16(binary.LittleEndian.Uint16(f.Data[:2]))
		want := int16(19660) // 0.6 full scale
		if s < want-2 || s > want+2 {
			t.Errorf("downmixed sample: got %d, want ~%d", s, want)
		}
	}
	if got != 1 {
		t.Errorf("expected 1 frame, got %d", got)
	}
}
