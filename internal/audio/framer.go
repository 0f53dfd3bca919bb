package audio

// Framer re-chunks arbitrarily sized capture buffers into fixed-size frames.
// Device callbacks deliver whatever period the driver chose; the segmenter
// downstream requires exact frame boundaries.
type Framer struct {
	frameSize int
	pending   []float32
	emit      func(frame []float32)
}

// NewFramer creates a framer emitting frames of exactly frameSize samples.
func NewFramer(frameSize int, emit func(frame []float32)) *Framer {
	return &Framer{
		frameSize: frameSize,
		pending:   make([]float32, 0, frameSize*2),
		emit:      emit,
	}
}

// Write appends samples and emits every complete frame they produce. The
// emitted slice is only valid for the duration of the callback.
func (f *Framer) Write(samples []float32) {
	f.pending = append(f.pending, samples...)
	for len(f.pending) >= f.frameSize {
		f.emit(f.pending[:f.frameSize])
		f.pending = f.pending[f.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	if len(f.pending) > 0 && cap(f.pending) > f.frameSize*4 {
		compacted := make([]float32, len(f.pending), f.frameSize*2)
		copy(compacted, f.pending)
		f.pending = compacted
	}
}

// Reset discards buffered samples shorter than one frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

// Pending returns the number of buffered samples awaiting a full frame.
func (f *Framer) Pending() int { return len(f.pending) }
