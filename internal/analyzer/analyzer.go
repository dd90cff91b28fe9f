// Package analyzer derives the live visual telemetry for voice indicators:
// smoothed RMS level, dominant frequency, peak detection, and bass/mid/treble
// band energies.
//
// The math is pure over numeric buffers; the only state an [Analyzer]
// carries is the single-pole smoothing baseline. A [Snapshot] is ephemeral —
// each analysis tick builds a fresh one from the most recent samples and the
// previous snapshot is discarded, never merged.
package analyzer

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// levelReference is the fixed RMS ceiling a level of 1.0 corresponds
	// to: the RMS of a full-scale sine.
	levelReference = 0.7071

	// smoothingKeep and smoothingMix form the single-pole low-pass applied
	// to the raw level between calls.
	smoothingKeep = 0.7
	smoothingMix  = 0.3

	// Peak detection: a raw level above peakFloor that also exceeds the
	// trailing smoothed baseline by peakRatio counts as a sudden excursion.
	peakFloor = 0.7
	peakRatio = 1.3
)

// Snapshot is a frequency-domain view of the most recent capture samples.
// It is valid for one analysis tick only.
type Snapshot struct {
	// Samples are the raw mono samples the snapshot was built from.
	Samples []float32

	// Magnitudes holds normalized [0,1] magnitudes for the first
	// len(Samples)/2 frequency bins.
	Magnitudes []float64

	// SampleRate in Hz of the samples.
	SampleRate int
}

// NewSnapshot computes the magnitude spectrum of samples. Magnitudes are
// scaled so that a full-scale sine concentrated in one bin reads near 1.0.
func NewSnapshot(samples []float32, sampleRate int) Snapshot {
	snap := Snapshot{Samples: samples, SampleRate: sampleRate}
	n := len(samples)
	if n < 2 {
		return snap
	}

	seq := make([]float64, n)
	for i, s := range samples {
		seq[i] = float64(s)
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, seq)

	// Keep n/2 bins; the scale folds the transform length back out so bin
	// magnitude is amplitude, not energy.
	bins := n / 2
	scale := 2 / float64(n)
	mags := make([]float64, bins)
	for i := range bins {
		m := cmplxAbs(coeffs[i]) * scale
		if m > 1 {
			m = 1
		}
		mags[i] = m
	}
	snap.Magnitudes = mags
	return snap
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// BandEnergies holds the mean normalized magnitude of each of the three
// equal contiguous spectrum thirds.
type BandEnergies struct {
	Bass   float64
	Mid    float64
	Treble float64
}

// Report is the result of one analysis tick.
type Report struct {
	// Level is the smoothed RMS level in [0,1].
	Level float64

	// FrequencyKHz is the dominant frequency in kHz.
	FrequencyKHz float64

	// PeakDetected reports a sudden excursion above the trailing baseline.
	PeakDetected bool

	// Bands holds the bass/mid/treble energies.
	Bands BandEnergies
}

// Analyzer computes [Report] values from snapshots. The smoothing baseline
// persists across calls; everything else is recomputed per tick. Safe for
// concurrent use and for calling at any cadence, including a UI redraw loop.
type Analyzer struct {
	mu       sync.Mutex
	smoothed float64
}

// New creates an Analyzer with a zero baseline.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze derives a [Report] from snap. No side effects beyond updating the
// smoothing baseline.
func (a *Analyzer) Analyze(snap Snapshot) Report {
	raw := rmsLevel(snap.Samples)

	a.mu.Lock()
	trailing := a.smoothed
	a.smoothed = a.smoothed*smoothingKeep + raw*smoothingMix
	smoothed := a.smoothed
	a.mu.Unlock()

	return Report{
		Level:        smoothed,
		FrequencyKHz: dominantKHz(snap),
		PeakDetected: raw > peakFloor && raw > trailing*peakRatio,
		Bands:        bandEnergies(snap.Magnitudes),
	}
}

// Level returns the current smoothed level without consuming a snapshot.
func (a *Analyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.smoothed
}

// Reset clears the smoothing baseline, e.g. between sessions.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.smoothed = 0
}

// rmsLevel computes sqrt(mean(s^2)) normalized by the reference ceiling and
// clamped to [0,1].
func rmsLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum/float64(len(samples))) / levelReference
	if level > 1 {
		level = 1
	}
	return level
}

// dominantKHz returns the frequency of the strongest bin in kHz:
// (binIndex/totalBins) * (sampleRate/2).
func dominantKHz(snap Snapshot) float64 {
	if len(snap.Magnitudes) == 0 || snap.SampleRate <= 0 {
		return 0
	}
	maxIdx := 0
	for i, m := range snap.Magnitudes {
		if m > snap.Magnitudes[maxIdx] {
			maxIdx = i
		}
	}
	hz := float64(maxIdx) / float64(len(snap.Magnitudes)) * float64(snap.SampleRate) / 2
	return hz / 1000
}

// bandEnergies partitions the bins into three equal contiguous thirds and
// averages each third. Remainder bins land in the treble band.
func bandEnergies(mags []float64) BandEnergies {
	n := len(mags)
	if n < 3 {
		return BandEnergies{}
	}
	third := n / 3
	return BandEnergies{
		Bass:   mean(mags[:third]),
		Mid:    mean(mags[third : 2*third]),
		Treble: mean(mags[2*third:]),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
