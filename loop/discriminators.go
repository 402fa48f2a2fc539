// Package loop implements the stateless discriminators, the PLL/DLL/ALL
// loop filters and the lock quality estimators shared by the tracking
// channels.
package loop

import (
	"math"
	"math/cmplx"
)

// PLLCloopTwoQuadrantAtan is the Costas-loop carrier phase discriminator.
// Returns the residual carrier phase of the prompt correlator in radians;
// the caller scales by 1/2π for a Hz-normalized error.
func PLLCloopTwoQuadrantAtan(prompt complex64) float64 {
	return math.Atan2(float64(imag(prompt)), float64(real(prompt)))
}

// DLLNCEMinusLNormalized is the non-coherent normalized early-minus-late
// code discriminator, in chips. Returns 0 when both correlators vanish.
func DLLNCEMinusLNormalized(early, late complex64) float64 {
	e := cmplx.Abs(complex128(early))
	l := cmplx.Abs(complex128(late))
	if e+l == 0 {
		return 0
	}
	return (e - l) / (e + l)
}
