package capture

import (
	"sync/atomic"
	"time"

	"github.com/verbalia/voicepipe/pkg/audio"
)

// worker is the per-stream capture state driven by the device's real-time
// audio callback. All of its mutable state is owned by that callback; the
// control plane only ever reads the atomic counters and receives from the
// channels, so the tick never blocks on anything the control plane holds.
// Emit and drop totals are flushed to the OTel instruments by the control
// plane on Stop, never from the tick itself.
type worker struct {
	ring        *audio.FrameRing
	frames      chan audio.Frame
	volumes     chan audio.VolumeSample
	sampleRate  int
	channels    int
	downmix     bool
	volumeEvery int
	samplesSeen int64
	samplesIn   int64
	volumePeak  float64
	volumeCount int
	emitted     atomic.Int64
	dropped     atomic.Int64
}

// tick processes one device callback. in holds interleaved float32 samples
// for w.channels channels. Frame emission is non-blocking: when the frame
// queue is full the oldest unconsumed frame is dropped so the tick's latency
// bound holds regardless of downstream consumption.
func (w *worker) tick(in []float32) {
	mono := in
	if w.channels > 1 {
		if w.downmix {
			mono = audio.DownmixMono(in, w.channels)
		} else {
			mono = takeChannel0(in, w.channels)
		}
	}

	w.trackVolume(mono)
	w.ring.Append(mono)

	for {
		frame, ok := w.ring.Next()
		if !ok {
			break
		}
		w.samplesSeen += int64(len(frame))
		f := audio.Frame{
			Data:       audio.FloatToPCM16(frame),
			SampleRate: w.sampleRate,
			Timestamp:  w.elapsed(w.samplesSeen),
		}
		w.emit(f)
	}
}

// emit hands a frame to the consumer without ever blocking. On a full queue
// the oldest frame is evicted first; if the queue is contended enough that
// the retry also fails, the new frame is counted as dropped instead.
func (w *worker) emit(f audio.Frame) {
	select {
	case w.frames <- f:
		w.emitted.Add(1)
		return
	default:
	}

	select {
	case <-w.frames:
		w.dropped.Add(1)
	default:
	}
	select {
	case w.frames <- f:
		w.emitted.Add(1)
	default:
		w.dropped.Add(1)
	}
}

// trackVolume emits one VolumeSample per volumeEvery raw samples. Volume is
// the peak absolute amplitude over the window, clamped to [0,1]. Samples are
// dropped (not blocked on) when the consumer lags — the cadence matters more
// than completeness for a UI meter.
func (w *worker) trackVolume(mono []float32) {
	for _, s := range mono {
		w.samplesIn++
		if s < 0 {
			s = -s
		}
		if float64(s) > w.volumePeak {
			w.volumePeak = float64(s)
		}
		w.volumeCount++
		if w.volumeCount < w.volumeEvery {
			continue
		}
		level := w.volumePeak
		if level > 1 {
			level = 1
		}
		v := audio.VolumeSample{
			Level:     level,
			Timestamp: w.elapsed(w.samplesIn),
		}
		select {
		case w.volumes <- v:
		default:
		}
		w.volumePeak = 0
		w.volumeCount = 0
	}
}

// elapsed converts a sample count into a stream-relative timestamp.
func (w *worker) elapsed(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(w.sampleRate)
}

// takeChannel0 extracts the first channel from interleaved input.
func takeChannel0(interleaved []float32, channels int) []float32 {
	groups := len(interleaved) / channels
	out := make([]float32, groups)
	for i := range groups {
		out[i] = interleaved[i*channels]
	}
	return out
}
