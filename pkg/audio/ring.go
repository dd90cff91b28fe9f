package audio

// FrameRing accumulates raw mono samples and yields complete fixed-length
// frames. Partial trailing samples stay buffered until enough arrive to fill
// another frame — a short frame is never produced.
//
// The zero value is not usable; create with [NewFrameRing]. FrameRing is not
// safe for concurrent use: it is owned by the capture tick and accessed from
// that context only.
type FrameRing struct {
	buf          []float32
	frameSamples int
}

// NewFrameRing creates a ring that yields frames of exactly frameSamples
// samples. frameSamples must be > 0.
func NewFrameRing(frameSamples int) *FrameRing {
	return &FrameRing{
		buf:          make([]float32, 0, frameSamples*2),
		frameSamples: frameSamples,
	}
}

// Append adds raw samples to the ring.
func (r *FrameRing) Append(samples []float32) {
	r.buf = append(r.buf, samples...)
}

// Next returns the oldest complete frame and true, or nil and false when
// fewer than frameSamples samples are buffered. The returned slice is a
// fresh copy; the ring retains no alias to it.
func (r *FrameRing) Next() ([]float32, bool) {
	if len(r.buf) < r.frameSamples {
		return nil, false
	}
	frame := make([]float32, r.frameSamples)
	copy(frame, r.buf[:r.frameSamples])
	n := copy(r.buf, r.buf[r.frameSamples:])
	r.buf = r.buf[:n]
	return frame, true
}

// Len returns the number of buffered samples not yet emitted.
func (r *FrameRing) Len() int {
	return len(r.buf)
}

// Reset discards all buffered samples, re-arming the ring from empty.
// Discarded partials are dropped, never force-emitted as a short frame.
func (r *FrameRing) Reset() {
	r.buf = r.buf[:0]
}
