package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT wraps a forward/inverse complex transform of a fixed size. Neither
// direction scales: a forward transform followed by an inverse multiplies
// the sequence by its length, and callers normalize energies accordingly.
// A plan is owned by a single channel and reused across dwells.
type FFT struct {
	n    int
	plan *fourier.CmplxFFT
}

func NewFFT(n int) *FFT {
	return &FFT{n: n, plan: fourier.NewCmplxFFT(n)}
}

func (f *FFT) Size() int { return f.n }

// Forward computes the unscaled forward transform of src into dst.
// dst and src must both have the plan size; anything else is a
// configuration bug and panics.
func (f *FFT) Forward(dst, src []complex128) {
	f.check(dst, src)
	f.plan.Coefficients(dst, src)
}

// Inverse computes the unscaled inverse transform of src into dst.
func (f *FFT) Inverse(dst, src []complex128) {
	f.check(dst, src)
	f.plan.Sequence(dst, src)
}

func (f *FFT) check(dst, src []complex128) {
	if len(dst) != f.n || len(src) != f.n {
		panic(fmt.Sprintf("dsp: fft size mismatch: plan %d, dst %d, src %d", f.n, len(dst), len(src)))
	}
}
