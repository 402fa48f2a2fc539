// Package dsp provides the shared signal-processing primitives of the
// receiver: complex carrier generation and the FFT kernel used by the
// acquisition search.
package dsp

import "math"

// phaseBits is the width of the fixed-point phase accumulator. Phase wraps
// exactly at 2^32, so the accumulated phase error over any run length is
// bounded by the frequency quantization fs/2^32 alone.
const phaseBits = 32

// CmplxExpGen fills out with exp(+j 2π freq i / fs).
func CmplxExpGen(out []complex64, freq, fs float64) {
	cmplxExpGen(out, freq, fs, 1)
}

// CmplxExpGenConj fills out with exp(-j 2π freq i / fs).
func CmplxExpGenConj(out []complex64, freq, fs float64) {
	cmplxExpGen(out, freq, fs, -1)
}

func cmplxExpGen(out []complex64, freq, fs float64, sign float64) {
	// Negative frequencies wrap modulo 2^32, same as the phase itself.
	step := uint32(int64(math.Round(freq / fs * (1 << phaseBits))))

	var acc uint32
	for i := range out {
		phase := sign * 2 * math.Pi * float64(acc) / (1 << phaseBits)
		s, c := math.Sincos(phase)
		out[i] = complex(float32(c), float32(s))
		acc += step
	}
}

// MagnitudeSquared writes |src[i]|² into dst. Panics on length mismatch.
func MagnitudeSquared(dst []float64, src []complex128) {
	if len(dst) != len(src) {
		panic("dsp: magnitude buffer length mismatch")
	}
	for i, v := range src {
		re, im := real(v), imag(v)
		dst[i] = re*re + im*im
	}
}

// MeanPower returns the mean of |in[i]|².
func MeanPower(in []complex64) float64 {
	var sum float64
	for _, v := range in {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return sum / float64(len(in))
}
