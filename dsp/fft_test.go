package dsp

import (
	"math"
	"math/rand"
	"testing"

	"pgregory.net/rapid"
)

// Forward then inverse multiplies by the sequence length; dividing out N
// must recover the input elementwise.
func TestFFTRoundtrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 2048).Draw(t, "n")
		seed := rapid.Int64().Draw(t, "seed")
		rng := rand.New(rand.NewSource(seed))

		src := make([]complex128, n)
		for i := range src {
			src[i] = complex(rng.NormFloat64(), rng.NormFloat64())
		}

		fft := NewFFT(n)
		freq := make([]complex128, n)
		out := make([]complex128, n)
		fft.Forward(freq, src)
		fft.Inverse(out, freq)

		for i := range out {
			got := out[i] / complex(float64(n), 0)
			if math.Abs(real(got)-real(src[i])) > 1e-5 || math.Abs(imag(got)-imag(src[i])) > 1e-5 {
				t.Fatalf("sample %d: %v, want %v", i, got, src[i])
			}
		}
	})
}

func TestFFTImpulse(t *testing.T) {
	const n = 64

	src := make([]complex128, n)
	src[0] = 1

	fft := NewFFT(n)
	freq := make([]complex128, n)
	fft.Forward(freq, src)

	// The transform of a unit impulse is flat and unscaled.
	for i, v := range freq {
		if math.Abs(real(v)-1) > 1e-12 || math.Abs(imag(v)) > 1e-12 {
			t.Fatalf("bin %d: %v, want 1", i, v)
		}
	}
}

func TestFFTSizeMismatch(t *testing.T) {
	fft := NewFFT(16)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on size mismatch")
		}
	}()
	fft.Forward(make([]complex128, 16), make([]complex128, 8))
}

func BenchmarkFFTForward(b *testing.B) {
	const n = 2048

	fft := NewFFT(n)
	src := make([]complex128, n)
	dst := make([]complex128, n)
	for i := range src {
		src[i] = complex(rand.NormFloat64(), rand.NormFloat64())
	}

	b.SetBytes(n * 16)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fft.Forward(dst, src)
	}
}
