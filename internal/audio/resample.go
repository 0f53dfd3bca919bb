package audio

import "math"

// LinearResampler converts between sample rates with linear interpolation.
// Lightweight and sufficient for upsampling voice audio; for downsampling use
// SincResampler to avoid aliasing.
type LinearResampler struct {
	ratio      float64 // toRate / fromRate
	lastSample float32 // carried across chunks for continuity
}

// NewLinearResampler creates a resampler for the given conversion.
func NewLinearResampler(fromRate, toRate int) *LinearResampler {
	return &LinearResampler{ratio: float64(toRate) / float64(fromRate)}
}

// Resample converts one chunk. The resampler keeps the last input sample so
// consecutive chunks stay continuous.
func (r *LinearResampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}

	inputLen := len(input)
	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) / r.ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		sample1 := r.lastSample
		if srcIdx < inputLen {
			sample1 = input[srcIdx]
		}
		sample2 := sample1
		if srcIdx+1 < inputLen {
			sample2 = input[srcIdx+1]
		} else if srcIdx < inputLen {
			sample2 = input[inputLen-1]
		}

		output[i] = sample1 + (sample2-sample1)*frac
	}

	r.lastSample = input[inputLen-1]
	return output
}

// sincFilterLen is the FIR tap count, a quality/performance balance for voice.
const sincFilterLen = 64

// SincResampler downsamples through a windowed-sinc low-pass filter so
// content above the output Nyquist does not alias into the voice band
// (e.g., 48kHz device capture down to the 16kHz recognition rate).
type SincResampler struct {
	ratio   float64
	filter  []float32
	history []float32
	linear  LinearResampler // fallback for upsampling chunks
}

// NewSincResampler creates a resampler with its anti-aliasing filter designed
// for the given conversion.
func NewSincResampler(fromRate, toRate int) *SincResampler {
	ratio := float64(toRate) / float64(fromRate)

	// Cutoff at the lower Nyquist: output's when downsampling.
	cutoff := 0.5
	if ratio < 1.0 {
		cutoff = ratio * 0.5
	}

	filter := make([]float32, sincFilterLen)
	for i := range filter {
		n := float64(i) - float64(sincFilterLen-1)/2.0
		if n == 0 {
			filter[i] = float32(2.0 * cutoff)
		} else {
			sinc := math.Sin(2.0*math.Pi*cutoff*n) / (math.Pi * n)
			window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(sincFilterLen-1)) // Hamming
			filter[i] = float32(sinc * window)
		}
	}
	var sum float32
	for _, f := range filter {
		sum += f
	}
	for i := range filter {
		filter[i] /= sum
	}

	return &SincResampler{
		ratio:   ratio,
		filter:  filter,
		history: make([]float32, sincFilterLen),
		linear:  LinearResampler{ratio: ratio},
	}
}

// Resample converts one chunk, filtering when downsampling.
func (r *SincResampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	if r.ratio > 1.0 {
		return r.linear.Resample(input)
	}

	inputLen := len(input)
	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	combined := append(r.history, input...)

	for i := 0; i < outputLen; i++ {
		srcIdx := int(float64(i)/r.ratio) + len(r.history)
		var sample float32
		for j := 0; j < sincFilterLen; j++ {
			idx := srcIdx - sincFilterLen/2 + j
			if idx >= 0 && idx < len(combined) {
				sample += combined[idx] * r.filter[j]
			}
		}
		output[i] = sample
	}

	// Keep the trailing filterLen samples for the next chunk's filter window.
	if inputLen >= sincFilterLen {
		copy(r.history, input[inputLen-sincFilterLen:])
	} else {
		shift := sincFilterLen - inputLen
		copy(r.history, r.history[inputLen:])
		copy(r.history[shift:], input)
	}

	return output
}

// Resample is a one-shot conversion picking the right algorithm for the
// direction. For streaming audio keep a resampler instance instead.
func Resample(input []float32, fromRate, toRate int) []float32 {
	switch {
	case fromRate == toRate:
		return input
	case toRate < fromRate:
		return NewSincResampler(fromRate, toRate).Resample(input)
	default:
		return NewLinearResampler(fromRate, toRate).Resample(input)
	}
}
