// GPSL1 - A software-defined GPS L1 C/A receiver core.
// Copyright (C) 2017 The gpsl1 project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package acq implements FFT-based parallel code phase search acquisition
// for GPS L1 C/A. A dwell correlates one block of baseband samples against
// Doppler-shifted replicas of the local code over the whole Doppler grid
// and thresholds the strongest peak against the correlation floor.
package acq

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sdrkit/gpsl1/dsp"
	"github.com/sdrkit/gpsl1/gnss"
)

// State enumerates the dwell state machine.
type State int

const (
	Idle State = iota
	Dwell
	Positive
	Negative
)

// Config holds the acquisition tuning parameters.
type Config struct {
	SampledMS      int // dwell length in code periods
	MaxDwells      int
	DopplerMaxHz   int
	DopplerStepHz  int
	IFFreqHz       float64
	FsIn           float64
	SamplesPerMS   int
	SamplesPerCode int

	// BitTransition enables two-dwell operation so a navigation bit edge
	// inside one dwell cannot mask the satellite.
	BitTransition bool

	// Peak is the number of disjoint correlation peaks required for a
	// positive; above 1 the engine resolves auxiliary peaks and reports
	// the Peak-th strongest disjoint one.
	Peak int

	Threshold float64

	Dump    bool
	DumpDir string
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.SampledMS < 1:
		return errors.Errorf("acq: invalid SampledMS %d", cfg.SampledMS)
	case cfg.MaxDwells < 1:
		return errors.Errorf("acq: invalid MaxDwells %d", cfg.MaxDwells)
	case cfg.DopplerStepHz < 1:
		return errors.Errorf("acq: invalid DopplerStepHz %d", cfg.DopplerStepHz)
	case cfg.DopplerMaxHz < cfg.DopplerStepHz:
		return errors.Errorf("acq: invalid DopplerMaxHz %d", cfg.DopplerMaxHz)
	case cfg.SamplesPerMS < 1 || cfg.SamplesPerCode < 1:
		return errors.Errorf("acq: invalid sample geometry %d/%d", cfg.SamplesPerMS, cfg.SamplesPerCode)
	case cfg.FsIn <= 0:
		return errors.Errorf("acq: invalid FsIn %f", cfg.FsIn)
	case cfg.Peak < 1:
		return errors.Errorf("acq: invalid Peak %d", cfg.Peak)
	case cfg.Threshold <= 1:
		return errors.Errorf("acq: threshold %f must exceed 1", cfg.Threshold)
	}
	return nil
}

// peak is one candidate cell of the search grid.
type peak struct {
	mag       float64 // normalized |IFFT|² magnitude
	codePhase int     // samples, mod SamplesPerCode
	dopplerHz int
	stamp     uint64
}

// Engine is a per-satellite acquisition search. It owns its FFT plans and
// scratch buffers, allocated once in New and reused every dwell; only
// auxiliary-peak ranking and grid dumping allocate on the dwell path.
type Engine struct {
	cfg     Config
	channel int
	syn     *gnss.Synchro
	events  chan<- gnss.Event

	fftSize  int
	numBins  int
	fft      *dsp.FFT
	fftCodes []complex128
	wipeoffs [][]complex64

	wiped   []complex128
	freqDom []complex128
	timeDom []complex128
	grid    [][]float64

	exclSamples int // aux/second-peak exclusion radius, two chips

	state  State
	active bool

	sampleCounter  uint64
	wellCount      int
	mag            float64
	mag2ndHighest  float64
	inputPower     float64
	testStatistics float64
	nanBlocks      int

	prn        int
	dumpFailed bool
}

// New builds an engine for the given channel. The synchronization record is
// shared with the channel controller; events are posted to the controller's
// queue.
func New(cfg Config, channel int, syn *gnss.Synchro, events chan<- gnss.Event) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		channel: channel,
		syn:     syn,
		events:  events,
		fftSize: cfg.SampledMS * cfg.SamplesPerMS,
		numBins: 2*cfg.DopplerMaxHz/cfg.DopplerStepHz + 1,
	}

	e.fft = dsp.NewFFT(e.fftSize)
	e.fftCodes = make([]complex128, e.fftSize)
	e.wiped = make([]complex128, e.fftSize)
	e.freqDom = make([]complex128, e.fftSize)
	e.timeDom = make([]complex128, e.fftSize)

	e.grid = make([][]float64, e.numBins)
	e.wipeoffs = make([][]complex64, e.numBins)
	for k := 0; k < e.numBins; k++ {
		e.grid[k] = make([]float64, e.fftSize)
		e.wipeoffs[k] = make([]complex64, e.fftSize)
		dsp.CmplxExpGenConj(e.wipeoffs[k], cfg.IFFreqHz+float64(e.dopplerAt(k)), cfg.FsIn)
	}

	e.exclSamples = intRound(2 * float64(cfg.SamplesPerCode) / gnss.CodeLengthChips)

	e.SetPRN(syn.PRN)

	return e, nil
}

// dopplerAt maps a grid index to its Doppler frequency. Indices cover
// -DopplerMax .. +DopplerMax in DopplerStep increments.
func (e *Engine) dopplerAt(k int) int {
	return -e.cfg.DopplerMaxHz + e.cfg.DopplerStepHz*k
}

// SetPRN installs the local code for a new satellite hypothesis: the C/A
// code resampled to the input rate, tiled over the dwell, transformed and
// conjugated. Recomputed only on PRN change.
func (e *Engine) SetPRN(prn int) {
	if prn == e.prn {
		return
	}
	e.prn = prn
	e.syn.PRN = prn

	code := gnss.CACode(prn, 0)
	for i := 0; i < e.fftSize; i++ {
		chip := (i % e.cfg.SamplesPerCode) * gnss.CodeLengthChips / e.cfg.SamplesPerCode
		e.wiped[i] = complex128(code[chip])
	}

	e.fft.Forward(e.freqDom, e.wiped)
	for i, v := range e.freqDom {
		e.fftCodes[i] = complex(real(v), -imag(v))
	}
}

// SetActive arms or disarms the search. The dwell sequence starts on the
// next processed block.
func (e *Engine) SetActive(active bool) { e.active = active }

func (e *Engine) State() State            { return e.state }
func (e *Engine) TestStatistics() float64 { return e.testStatistics }
func (e *Engine) SampleCounter() uint64   { return e.sampleCounter }

// SetSampleCounter realigns the engine with the channel's stream position,
// used when control returns from tracking.
func (e *Engine) SetSampleCounter(n uint64) { e.sampleCounter = n }

// Process consumes one block of fftSize baseband samples and advances the
// dwell state machine. Returns the number of samples consumed; a short
// block is left untouched for the caller to refill.
func (e *Engine) Process(in []complex64) (consumed int) {
	if len(in) < e.fftSize {
		return 0
	}
	in = in[:e.fftSize]

	switch e.state {
	case Idle:
		if e.active {
			e.syn.AcqDelaySamples = 0
			e.syn.AcqDopplerHz = 0
			e.syn.AcqSamplestampSamples = 0
			e.wellCount = 0
			e.mag = 0
			e.mag2ndHighest = 0
			e.inputPower = 0
			e.testStatistics = 0
			e.state = Dwell
		}
		e.sampleCounter += uint64(e.fftSize)

	case Dwell:
		e.dwell(in)

	case Positive:
		e.finish(gnss.AcqSuccess)

	case Negative:
		e.finish(gnss.AcqFail)
	}

	return e.fftSize
}

func (e *Engine) finish(kind gnss.EventKind) {
	log.WithFields(log.Fields{
		"channel": e.channel,
		"prn":     e.prn,
		"test":    e.testStatistics,
		"outcome": kind,
	}).Debug("acquisition decision")

	e.active = false
	e.state = Idle
	e.sampleCounter += uint64(e.fftSize)
	e.events <- gnss.Event{Channel: e.channel, Kind: kind}
}

// dwell runs one full Doppler grid search over the block and applies the
// decision logic.
func (e *Engine) dwell(in []complex64) {
	e.sampleCounter += uint64(e.fftSize)
	e.wellCount++

	power := dsp.MeanPower(in)
	if math.IsNaN(power) {
		e.nanBlocks++
		e.wellCount--
		log.WithFields(log.Fields{
			"channel": e.channel,
			"sample":  e.sampleCounter,
		}).Warn("NaN in acquisition input, block skipped")
		return
	}
	e.inputPower = power

	for k := 0; k < e.numBins; k++ {
		w := e.wipeoffs[k]
		for i, v := range in {
			e.wiped[i] = complex128(v * w[i])
		}

		e.fft.Forward(e.freqDom, e.wiped)
		for i, v := range e.freqDom {
			e.freqDom[i] = v * e.fftCodes[i]
		}
		e.fft.Inverse(e.timeDom, e.freqDom)

		dsp.MagnitudeSquared(e.grid[k], e.timeDom)

		if e.cfg.Dump && !e.dumpFailed {
			e.dumpRow(k)
		}
	}

	e.decide()
}

// decide extracts the peak structure from the grid and moves the state
// machine. The test statistic is the ratio of the strongest cell to the
// correlation floor, the floor being the largest cell in any Doppler row
// more than two chips away from every selected peak.
func (e *Engine) decide() {
	normalization := float64(e.fftSize) * float64(e.fftSize)
	normalization *= normalization

	// Global maximum and its cell.
	var rawMag float64
	var maxIdx, maxBin int
	for k, row := range e.grid {
		for i, m := range row {
			if m > rawMag {
				rawMag, maxIdx, maxBin = m, i, k
			}
		}
	}

	best := peak{
		mag:       rawMag / normalization,
		codePhase: maxIdx % e.cfg.SamplesPerCode,
		dopplerHz: e.dopplerAt(maxBin),
		stamp:     e.sampleCounter,
	}

	selected := []peak{best}
	foundPeak := true
	if e.cfg.Peak > 1 {
		selected, foundPeak = e.selectAuxiliary(best, rawMag)
	}

	// Correlation floor: strongest cell clear of every selected peak. The
	// exclusion spans all Doppler rows; a peak's sidelobes in neighboring
	// bins share its code phase and are part of the same signature.
	var floor float64
	for _, row := range e.grid {
		for i, m := range row {
			if m <= floor {
				continue
			}
			if !e.nearSelected(selected, i) {
				floor = m
			}
		}
	}

	e.mag = best.mag
	e.mag2ndHighest = floor / normalization

	result := selected[len(selected)-1]
	var statistic float64
	switch {
	case floor > 0:
		statistic = rawMag / floor
	case rawMag > 0:
		statistic = math.Inf(1)
	}

	// In two-dwell mode the statistic is never reset between dwells: keep
	// the strongest observation and its cell across the whole sequence.
	if !e.cfg.BitTransition || statistic > e.testStatistics {
		e.testStatistics = statistic
		e.syn.AcqDelaySamples = float64(result.codePhase)
		e.syn.AcqDopplerHz = float64(result.dopplerHz)
		e.syn.AcqSamplestampSamples = result.stamp
	}

	auxMode := e.cfg.Peak > 1
	if !e.cfg.BitTransition {
		switch {
		case auxMode && !foundPeak:
			e.state = Negative
		case e.testStatistics > e.cfg.Threshold:
			e.state = Positive
		case e.wellCount == e.cfg.MaxDwells:
			e.state = Negative
		}
		return
	}

	if e.wellCount == e.cfg.MaxDwells {
		switch {
		case auxMode && !foundPeak:
			e.state = Negative
		case e.testStatistics > e.cfg.Threshold:
			e.state = Positive
		default:
			e.state = Negative
		}
	}
}

// selectAuxiliary ranks every cell within a factor Threshold of the main
// peak and greedily picks disjoint peaks until cfg.Peak are found. Two
// cells are disjoint when their circular code-phase distance exceeds two
// chips; Doppler alone does not separate peaks, since a satellite leaks
// into neighboring bins at its own code phase.
func (e *Engine) selectAuxiliary(best peak, rawMag float64) ([]peak, bool) {
	normalization := float64(e.fftSize) * float64(e.fftSize)
	normalization *= normalization
	cutoff := rawMag / e.cfg.Threshold

	var candidates []peak
	for k, row := range e.grid {
		doppler := e.dopplerAt(k)
		for i, m := range row {
			if m > cutoff {
				candidates = append(candidates, peak{
					mag:       m / normalization,
					codePhase: i % e.cfg.SamplesPerCode,
					dopplerHz: doppler,
					stamp:     e.sampleCounter,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mag > candidates[j].mag
	})

	selected := []peak{best}
	for _, c := range candidates {
		if len(selected) == e.cfg.Peak {
			break
		}
		if !e.nearSelected(selected, c.codePhase) {
			selected = append(selected, c)
		}
	}

	if len(selected) < e.cfg.Peak {
		log.WithFields(log.Fields{
			"channel": e.channel,
			"prn":     e.prn,
			"peaks":   len(selected),
			"want":    e.cfg.Peak,
		}).Debug("insufficient disjoint peaks")
		return selected, false
	}

	return selected, true
}

// nearSelected reports whether the grid cell at index idx falls inside the
// two-chip circular exclusion window of any selected peak.
func (e *Engine) nearSelected(selected []peak, idx int) bool {
	codePhase := idx % e.cfg.SamplesPerCode
	for _, s := range selected {
		d := codePhase - s.codePhase
		if d < 0 {
			d += e.cfg.SamplesPerCode
		}
		if d <= e.exclSamples || d >= e.cfg.SamplesPerCode-e.exclSamples {
			return true
		}
	}
	return false
}

func intRound(f float64) int {
	return int(math.Floor(f + 0.5))
}
