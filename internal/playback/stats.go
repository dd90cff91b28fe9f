package playback

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stats collects playback latency samples and counters for dashboard
// display. It maintains a bounded ring buffer of recent observations from
// which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	latencies latencyBuffer
	plays     int64
	failures  int64
}

// NewStats creates a Stats with the given window size (maximum number of
// latency samples retained).
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Stats{latencies: newLatencyBuffer(windowSize)}
}

// RecordPlay records one completed play and its wall time.
func (st *Stats) RecordPlay(d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.plays++
	st.latencies.add(d)
}

// RecordFailure records one fail-open resolution.
func (st *Stats) RecordFailure() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failures++
}

// LatencyPercentiles holds p50 and p95 values for the playback latency.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot captures a point-in-time view of all playback statistics.
type Snapshot struct {
	Latency  LatencyPercentiles
	Plays    int64
	Failures int64
}

// Snapshot returns a point-in-time view of all playback statistics.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		Latency:  st.latencies.percentiles(),
		Plays:    st.plays,
		Failures: st.failures,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
