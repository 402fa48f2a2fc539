package loop

import "math"

// Lock supervision constants for the L1 C/A tracking loop.
const (
	CN0EstimationSamples   = 20
	MinimumValidCN0        = 25
	MaximumLockFailCounter = 50
	CarrierLockThreshold   = 0.85
)

// CN0SVNEstimator estimates the carrier-to-noise density in dB-Hz from a
// window of prompt correlator outputs using the signal-to-noise variance
// estimator.
func CN0SVNEstimator(prompt []complex64, fsIn float64, codeLengthChips float64) float64 {
	n := float64(len(prompt))

	var sigSum, totSum float64
	for _, p := range prompt {
		re, im := float64(real(p)), float64(imag(p))
		sigSum += math.Abs(re)
		totSum += re*re + im*im
	}

	psig := (sigSum / n) * (sigSum / n)
	ptot := totSum / n
	if ptot <= psig {
		// No measurable noise in the window.
		return math.Inf(1)
	}
	snr := psig / (ptot - psig)

	return 10*math.Log10(snr) + 10*math.Log10(fsIn/2) - 10*math.Log10(codeLengthChips)
}

// CarrierLockDetector returns the cosine of twice the mean carrier phase of
// the prompt window, 1.0 for a perfectly locked carrier and near 0 for an
// unlocked one.
func CarrierLockDetector(prompt []complex64) float64 {
	var sumI, sumQ float64
	for _, p := range prompt {
		sumI += float64(real(p))
		sumQ += float64(imag(p))
	}

	nbd := sumI*sumI - sumQ*sumQ
	nbp := sumI*sumI + sumQ*sumQ
	if nbp == 0 {
		return 0
	}
	return nbd / nbp
}
