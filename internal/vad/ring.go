// Package vad segments a continuous microphone signal into utterances using
// per-frame voice-activity scores.
package vad

// WriteResult reports the outcome of writing one frame into the ring buffer.
// Overflow is a normal, expected outcome during long utterances approaching
// the buffer cap, not an error.
type WriteResult struct {
	// Overflowed is true when the frame did not fit in remaining capacity.
	Overflowed bool

	// OverflowTail holds the unconsumed part of the frame. The caller is
	// responsible for dispatching the now-full buffer and reinitializing it
	// with the tail as its new prefix.
	OverflowTail []float32
}

// RingBuffer is a fixed-capacity sample buffer with a write cursor,
// accumulating raw audio pending segmentation.
type RingBuffer struct {
	buf    []float32
	cursor int
}

// NewRingBuffer creates a buffer holding capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Write copies frame at the cursor. If the frame exceeds remaining capacity
// the buffer fills to capacity and the unconsumed tail is returned.
func (b *RingBuffer) Write(frame []float32) WriteResult {
	remaining := len(b.buf) - b.cursor
	if len(frame) <= remaining {
		copy(b.buf[b.cursor:], frame)
		b.cursor += len(frame)
		return WriteResult{}
	}
	copy(b.buf[b.cursor:], frame[:remaining])
	b.cursor = len(b.buf)
	tail := make([]float32, len(frame)-remaining)
	copy(tail, frame[remaining:])
	return WriteResult{Overflowed: true, OverflowTail: tail}
}

// Len returns the number of samples written since the last reset.
func (b *RingBuffer) Len() int { return b.cursor }

// Cap returns the buffer capacity in samples.
func (b *RingBuffer) Cap() int { return len(b.buf) }

// Slice returns an owned copy of the first n written samples.
func (b *RingBuffer) Slice(n int) []float32 {
	if n > b.cursor {
		n = b.cursor
	}
	if n < 0 {
		n = 0
	}
	out := make([]float32, n)
	copy(out, b.buf[:n])
	return out
}

// Reset zeroes the cursor, optionally seeding the buffer with prefix (the
// overflow tail of the previous segment). The prefix is at most one frame and
// always fits.
func (b *RingBuffer) Reset(prefix []float32) {
	b.cursor = copy(b.buf, prefix)
}

// prerollFIFO retains the most recent idle frames so a dispatched utterance
// can include the audio immediately preceding VAD's speech declaration.
type prerollFIFO struct {
	frames [][]float32
	max    int
}

func newPreroll(max int) *prerollFIFO {
	return &prerollFIFO{max: max}
}

// push copies frame into the FIFO, evicting the oldest frame when full.
func (f *prerollFIFO) push(frame []float32) {
	if f.max == 0 {
		return
	}
	cp := make([]float32, len(frame))
	copy(cp, frame)
	if len(f.frames) == f.max {
		f.frames = f.frames[1:]
	}
	f.frames = append(f.frames, cp)
}

// take concatenates and clears the buffered frames.
func (f *prerollFIFO) take() []float32 {
	var n int
	for _, fr := range f.frames {
		n += len(fr)
	}
	out := make([]float32, 0, n)
	for _, fr := range f.frames {
		out = append(out, fr...)
	}
	f.frames = nil
	return out
}

func (f *prerollFIFO) clear() { f.frames = nil }
