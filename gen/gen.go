// Package gen synthesizes GPS L1 C/A baseband snapshots for testing:
// spreading code at a chosen delay and Doppler, optionally superposed
// satellites and multipath echoes, plus white Gaussian noise.
package gen

import (
	"math"
	"math/rand"

	"github.com/sdrkit/gpsl1/gnss"
)

// Satellite describes one simulated signal component.
type Satellite struct {
	PRN             int
	DelaySamples    float64
	DopplerHz       float64
	Amplitude       float64
	CarrierPhaseRad float64
}

// Snapshot renders n samples at rate fs containing every satellite. The
// code rate follows each satellite's Doppler, so long snapshots keep code
// and carrier coherent the way a live front-end would.
func Snapshot(sats []Satellite, fs float64, n int) []complex64 {
	out := make([]complex64, n)
	AddTo(out, sats, fs)
	return out
}

// AddTo accumulates the satellites into an existing buffer.
func AddTo(out []complex64, sats []Satellite, fs float64) {
	for _, sat := range sats {
		code := gnss.CACode(sat.PRN, 0)
		codeFreq := gnss.CodeRateHz * (1 + sat.DopplerHz/gnss.L1FreqHz)

		for i := range out {
			chips := math.Mod((float64(i)-sat.DelaySamples)*codeFreq/fs, gnss.CodeLengthChips)
			if chips < 0 {
				chips += gnss.CodeLengthChips
			}
			chip := code[int(chips)]

			phase := 2*math.Pi*sat.DopplerHz*float64(i)/fs + sat.CarrierPhaseRad
			s, c := math.Sincos(phase)
			carrier := complex(float32(c), float32(s))

			out[i] += complex(float32(sat.Amplitude), 0) * chip * carrier
		}
	}
}

// AddNoise adds complex white Gaussian noise of the given per-component
// standard deviation.
func AddNoise(out []complex64, sigma float64, rng *rand.Rand) {
	for i := range out {
		out[i] += complex(
			float32(rng.NormFloat64()*sigma),
			float32(rng.NormFloat64()*sigma),
		)
	}
}
