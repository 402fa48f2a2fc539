package acq

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sdrkit/gpsl1/gen"
	"github.com/sdrkit/gpsl1/gnss"
)

const testFs = 2048000.0

func testConfig() Config {
	return Config{
		SampledMS:      1,
		MaxDwells:      2,
		DopplerMaxHz:   5000,
		DopplerStepHz:  500,
		FsIn:           testFs,
		SamplesPerMS:   2048,
		SamplesPerCode: 2048,
		Peak:           1,
		Threshold:      2.5,
	}
}

func newTestEngine(t *testing.T, cfg Config, prn int) (*Engine, *gnss.Synchro, chan gnss.Event) {
	t.Helper()

	syn := &gnss.Synchro{System: "G", Signal: "1C", PRN: prn}
	events := make(chan gnss.Event, 8)

	e, err := New(cfg, 0, syn, events)
	require.NoError(t, err)

	return e, syn, events
}

// feed drives whole blocks through the engine until it consumes nothing
// or the stream runs dry.
func feed(e *Engine, sig []complex64) {
	for len(sig) >= e.fftSize {
		n := e.Process(sig)
		if n == 0 {
			return
		}
		sig = sig[n:]
	}
}

func TestCleanAcquisition(t *testing.T) {
	e, syn, events := newTestEngine(t, testConfig(), 1)

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 1, DelaySamples: 317, DopplerHz: 1500, Amplitude: 1},
	}, testFs, 3*e.fftSize)

	e.SetActive(true)
	n := e.Process(sig) // arms the dwell
	require.Equal(t, e.fftSize, n)
	require.Equal(t, Dwell, e.State())

	e.Process(sig[n:])
	require.Equal(t, Positive, e.State())
	assert.Equal(t, 1, e.wellCount)

	assert.Equal(t, 317.0, syn.AcqDelaySamples)
	assert.Equal(t, 1500.0, syn.AcqDopplerHz)
	assert.Greater(t, e.TestStatistics(), e.cfg.Threshold)

	e.Process(sig[2*n:])
	require.Equal(t, Idle, e.State())
	assert.Equal(t, gnss.Event{Channel: 0, Kind: gnss.AcqSuccess}, <-events)
}

func TestNoiseOnlyAcquisition(t *testing.T) {
	e, _, events := newTestEngine(t, testConfig(), 1)

	rng := rand.New(rand.NewSource(42))
	sig := make([]complex64, 4*e.fftSize)
	gen.AddNoise(sig, 1, rng)

	e.SetActive(true)
	feed(e, sig)

	require.Equal(t, Idle, e.State())
	assert.Equal(t, e.cfg.MaxDwells, e.wellCount)
	assert.Equal(t, gnss.Event{Channel: 0, Kind: gnss.AcqFail}, <-events)
}

func TestBitTransitionTwoDwells(t *testing.T) {
	cfg := testConfig()
	cfg.BitTransition = true
	e, syn, events := newTestEngine(t, cfg, 1)

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 1, DelaySamples: 100, DopplerHz: -250, Amplitude: 1},
	}, testFs, 4*e.fftSize)

	e.SetActive(true)
	n := e.Process(sig)

	// First dwell may not decide, regardless of signal strength.
	e.Process(sig[n:])
	require.Equal(t, Dwell, e.State())

	e.Process(sig[2*n:])
	require.Equal(t, Positive, e.State())
	assert.InDelta(t, 100, syn.AcqDelaySamples, 1)

	e.Process(sig[3*n:])
	assert.Equal(t, gnss.AcqSuccess, (<-events).Kind)
}

func TestAuxiliaryPeak(t *testing.T) {
	cfg := testConfig()
	cfg.Peak = 2
	e, syn, _ := newTestEngine(t, cfg, 1)

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 1, DelaySamples: 10, DopplerHz: 0, Amplitude: 1},
		{PRN: 1, DelaySamples: 500, DopplerHz: 0, Amplitude: 0.8},
	}, testFs, 2*e.fftSize)

	e.SetActive(true)
	n := e.Process(sig)
	e.Process(sig[n:])

	require.Equal(t, Positive, e.State())

	// The main peak sits at the stronger satellite; the reported estimate
	// is the auxiliary peak.
	assert.InDelta(t, 500, syn.AcqDelaySamples, 2)
	assert.Equal(t, 0.0, syn.AcqDopplerHz)
}

func TestAuxiliaryPeakAbsent(t *testing.T) {
	cfg := testConfig()
	cfg.Peak = 2
	cfg.MaxDwells = 1
	e, _, _ := newTestEngine(t, cfg, 1)

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 1, DelaySamples: 10, DopplerHz: 0, Amplitude: 1},
	}, testFs, 2*e.fftSize)

	e.SetActive(true)
	n := e.Process(sig)
	e.Process(sig[n:])

	require.Equal(t, Negative, e.State())
}

func TestPeakRecoveryAtZeroDbSNR(t *testing.T) {
	e, syn, _ := newTestEngine(t, testConfig(), 7)

	const (
		tau = 1234
		fd  = -3000
	)

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 7, DelaySamples: tau, DopplerHz: fd, Amplitude: 1},
	}, testFs, 2*e.fftSize)
	gen.AddNoise(sig, math.Sqrt(0.5), rand.New(rand.NewSource(7)))

	e.SetActive(true)
	n := e.Process(sig)
	e.Process(sig[n:])

	require.Equal(t, Positive, e.State())
	assert.InDelta(t, tau, syn.AcqDelaySamples, 1)
	assert.InDelta(t, fd, syn.AcqDopplerHz, float64(e.cfg.DopplerStepHz))
}

func TestNaNInputSkipsBlock(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(), 1)

	sig := make([]complex64, 2*e.fftSize)
	sig[e.fftSize+100] = complex(float32(math.NaN()), 0)

	e.SetActive(true)
	n := e.Process(sig)
	e.Process(sig[n:])

	// The dwell counter must not advance on a skipped block.
	assert.Equal(t, Dwell, e.State())
	assert.Equal(t, 0, e.wellCount)
	assert.Equal(t, 1, e.nanBlocks)
}

// Every Doppler in the search range is within half a step of a grid bin.
func TestDopplerGridExhaustive(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(), 1)

	rapid.Check(t, func(t *rapid.T) {
		fd := rapid.Float64Range(-5000, 5000).Draw(t, "fd")

		k := int(math.Round((fd + float64(e.cfg.DopplerMaxHz)) / float64(e.cfg.DopplerStepHz)))
		require.GreaterOrEqual(t, k, 0)
		require.Less(t, k, e.numBins)

		nearest := float64(e.dopplerAt(k))
		assert.LessOrEqual(t, math.Abs(nearest-fd), float64(e.cfg.DopplerStepHz)/2)
	})
}

func TestDopplerGridBijective(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(), 1)

	seen := make(map[int]bool)
	for k := 0; k < e.numBins; k++ {
		f := e.dopplerAt(k)
		assert.False(t, seen[f])
		seen[f] = true
	}
	assert.Equal(t, -e.cfg.DopplerMaxHz, e.dopplerAt(0))
	assert.Equal(t, e.cfg.DopplerMaxHz, e.dopplerAt(e.numBins-1))
}

func BenchmarkDwell(b *testing.B) {
	syn := &gnss.Synchro{System: "G", Signal: "1C", PRN: 1}
	events := make(chan gnss.Event, 8)
	e, err := New(testConfig(), 0, syn, events)
	if err != nil {
		b.Fatal(err)
	}

	sig := gen.Snapshot([]gen.Satellite{
		{PRN: 1, DelaySamples: 317, DopplerHz: 1500, Amplitude: 1},
	}, testFs, e.fftSize)

	b.SetBytes(int64(e.fftSize * 8))
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		e.state = Dwell
		e.dwell(sig)
	}
}
