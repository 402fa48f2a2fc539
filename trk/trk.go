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

// Package trk implements carrier and code tracking of one GPS L1 C/A
// satellite with a coupled-amplitude delay-locked loop: two code replicas
// with independent DLLs share a single carrier PLL, and two amplitude
// loops apportion the received energy between the direct path and a
// multipath echo.
package trk

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sdrkit/gpsl1/gnss"
	"github.com/sdrkit/gpsl1/loop"
)

// Initial ratio between the two amplitude estimates, derived from the
// expected attenuation of the secondary path.
const initialAmplitudeRatio = 1.284025416687741

// Config holds the tracking loop tuning parameters.
type Config struct {
	FsIn         float64
	IFFreqHz     float64
	VectorLength int

	PLLBwHz           float64
	DLLBwHz           float64
	EarlyLateSpcChips float64

	// CADLLOffsetSamples is subtracted from the primary code phase to seed
	// the secondary loop when CADLL mode engages: positive seeds the
	// secondary earlier, negative later (a trailing echo). Front-end
	// dependent.
	CADLLOffsetSamples float64

	Dump         bool
	DumpFilename string
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.FsIn <= 0:
		return errors.Errorf("trk: invalid FsIn %f", cfg.FsIn)
	case cfg.VectorLength < 1:
		return errors.Errorf("trk: invalid VectorLength %d", cfg.VectorLength)
	case cfg.PLLBwHz <= 0 || cfg.DLLBwHz <= 0:
		return errors.Errorf("trk: invalid loop bandwidths %f/%f", cfg.PLLBwHz, cfg.DLLBwHz)
	case cfg.EarlyLateSpcChips <= 0 || cfg.EarlyLateSpcChips >= 1:
		return errors.Errorf("trk: invalid EarlyLateSpcChips %f", cfg.EarlyLateSpcChips)
	}
	return nil
}

// Tracker is the per-channel tracking stage. Replica and wipeoff buffers
// are preallocated; the correlation path allocates nothing.
type Tracker struct {
	cfg     Config
	channel int
	syn     *gnss.Synchro
	events  chan<- gnss.Event

	caCode []complex64 // guard-padded, one chip each side

	earlyCode  []complex64 // E/P/L share this buffer at staggered offsets
	earlyCodeM []complex64
	carrSign   []complex64

	pll  *loop.PLLFilter
	dll  *loop.DLLFilter
	dllM *loop.DLLFilter
	amp  *loop.AmplitudeFilter
	ampM *loop.AmplitudeFilter

	// Carrier NCO, shared by both code loops.
	remCarrPhaseRad    float64
	accCarrierPhaseRad float64
	carrierDopplerHz   float64
	codeFreqChips      float64

	// Code NCOs, primary and secondary.
	remCodePhaseSamples      float64
	remCodePhaseSamplesM     float64
	accCodePhaseSecs         float64
	accCodePhaseSecsM        float64
	currentPRNLengthSamples  int
	currentPRNLengthSamplesM int
	sampleCounter            uint64
	sampleCounterM           uint64

	acqCodePhaseSamples float64
	acqCarrierDopplerHz float64
	acqSampleStamp      uint64

	a1, a2    float64
	cadllInit bool

	enabled atomic.Bool
	stopped atomic.Bool
	pullIn  bool

	promptBuffer           []complex64
	cn0EstimationCounter   int
	carrierLockFailCounter int
	carrierLockTest        float64
	cn0DbHz                float64

	dump *dumpWriter
}

// New builds a tracker for the given channel sharing the controller's
// synchronization record and event queue.
func New(cfg Config, channel int, syn *gnss.Synchro, events chan<- gnss.Event) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CADLLOffsetSamples == 0 {
		cfg.CADLLOffsetSamples = 27
	}

	t := &Tracker{
		cfg:     cfg,
		channel: channel,
		syn:     syn,
		events:  events,

		earlyCode:  make([]complex64, 2*cfg.VectorLength),
		earlyCodeM: make([]complex64, 2*cfg.VectorLength),
		carrSign:   make([]complex64, 2*cfg.VectorLength),

		pll:  loop.NewPLLFilter(cfg.PLLBwHz),
		dll:  loop.NewDLLFilter(cfg.DLLBwHz),
		dllM: loop.NewDLLFilter(cfg.DLLBwHz),
		amp:  loop.NewAmplitudeFilter(loop.AmplitudeBandwidthHz),
		ampM: loop.NewAmplitudeFilter(loop.AmplitudeBandwidthHz),

		promptBuffer: make([]complex64, loop.CN0EstimationSamples),

		codeFreqChips:            gnss.CodeRateHz,
		currentPRNLengthSamples:  cfg.VectorLength,
		currentPRNLengthSamplesM: cfg.VectorLength,
		carrierLockTest:          1,
	}

	if cfg.Dump {
		t.dump = newDumpWriter(cfg.DumpFilename, channel)
	}

	return t, nil
}

// Enabled reports whether the tracker is following a satellite.
func (t *Tracker) Enabled() bool { return t.enabled.Load() }

// Close releases the dump file, if any.
func (t *Tracker) Close() error {
	if t.dump != nil {
		return t.dump.close()
	}
	return nil
}

// SampleCounter returns the stream position in consumed samples.
func (t *Tracker) SampleCounter() uint64 { return t.sampleCounter }

// StopTracking requests a cooperative stop. Safe to call from any thread;
// the stop takes effect on the next PRN boundary, where a StopChannel
// event is posted.
func (t *Tracker) StopTracking() {
	t.stopped.Store(true)
	t.enabled.Store(false)
}

// StartTracking seeds the loops from the acquisition estimate in the
// shared record, reprojecting the acquired code phase across the samples
// that elapsed between the acquisition stamp and the current stream
// position.
func (t *Tracker) StartTracking(atSample uint64) {
	t.sampleCounter = atSample

	t.acqCodePhaseSamples = t.syn.AcqDelaySamples
	t.acqCarrierDopplerHz = t.syn.AcqDopplerHz
	t.acqSampleStamp = t.syn.AcqSamplestampSamples

	acqTrkDiffSamples := int64(t.sampleCounter) - int64(t.acqSampleStamp)
	acqTrkDiffSeconds := float64(acqTrkDiffSamples) / t.cfg.FsIn

	// Doppler-corrected chip rate and PRN period.
	radialVelocity := (gnss.L1FreqHz + t.acqCarrierDopplerHz) / gnss.L1FreqHz
	t.codeFreqChips = radialVelocity * gnss.CodeRateHz
	tPrnModSeconds := gnss.CodeLengthChips / t.codeFreqChips
	tPrnModSamples := tPrnModSeconds * t.cfg.FsIn

	t.currentPRNLengthSamples = intRound(tPrnModSamples)
	t.currentPRNLengthSamplesM = intRound(tPrnModSamples)

	tPrnTrueSeconds := float64(gnss.CodeLengthChips) / gnss.CodeRateHz
	tPrnTrueSamples := tPrnTrueSeconds * t.cfg.FsIn
	tPrnDiffSeconds := tPrnTrueSeconds - tPrnModSeconds
	nPrnDiff := acqTrkDiffSeconds / tPrnTrueSeconds

	corrected := math.Mod(t.acqCodePhaseSamples+tPrnDiffSeconds*nPrnDiff*t.cfg.FsIn, tPrnTrueSamples)
	if corrected < 0 {
		corrected += tPrnModSamples
	}
	t.acqCodePhaseSamples = corrected

	t.carrierDopplerHz = t.acqCarrierDopplerHz

	t.pll.Initialize()
	t.dll.Initialize()
	t.dllM.Initialize()
	t.amp.Initialize()
	t.ampM.Initialize()

	t.carrierLockFailCounter = 0
	t.cn0EstimationCounter = 0
	t.remCodePhaseSamples = 0
	t.remCodePhaseSamplesM = 0
	t.remCarrPhaseRad = 0
	t.accCarrierPhaseRad = 0
	t.accCodePhaseSecs = 0
	t.accCodePhaseSecsM = 0
	t.a1 = 0
	t.a2 = 0

	t.caCode = gnss.PaddedCACode(t.syn.PRN)

	t.cadllInit = true
	t.pullIn = true
	t.stopped.Store(false)
	t.enabled.Store(true)

	log.WithFields(log.Fields{
		"channel":   t.channel,
		"prn":       t.syn.PRN,
		"doppler":   t.carrierDopplerHz,
		"codePhase": t.acqCodePhaseSamples,
	}).Info("tracking start")
}

// Process runs at most one PRN period of tracking over the input block.
// It returns the number of samples consumed and, in steady state, the
// synchronization record for the period. A short block consumes nothing;
// the caller refills and retries.
func (t *Tracker) Process(in []complex64) (consumed int, rec *gnss.Synchro) {
	if t.stopped.Swap(false) {
		t.events <- gnss.Event{Channel: t.channel, Kind: gnss.StopChannel}
		return 0, nil
	}
	if !t.enabled.Load() {
		t.sampleCounter += uint64(len(in))
		return len(in), nil
	}

	if t.pullIn {
		return t.alignToPRN(in), nil
	}

	if len(in) < t.currentPRNLengthSamples {
		return 0, nil
	}

	return t.step(in)
}

// alignToPRN consumes the samples between the current stream position and
// the next PRN boundary predicted by acquisition, so that steady-state
// blocks start on a code period.
func (t *Tracker) alignToPRN(in []complex64) (consumed int) {
	acqToTrkDelaySamples := t.sampleCounter - t.acqSampleStamp
	shift := float64(t.currentPRNLengthSamples) -
		math.Mod(float64(acqToTrkDelaySamples), float64(t.currentPRNLengthSamples))
	samplesOffset := intRound(t.acqCodePhaseSamples + shift)

	if len(in) < samplesOffset {
		return 0
	}

	t.sampleCounter += uint64(samplesOffset)
	t.sampleCounterM = t.sampleCounter
	t.pullIn = false

	log.WithFields(log.Fields{
		"channel": t.channel,
		"offset":  samplesOffset,
	}).Debug("pull-in alignment")

	return samplesOffset
}

// step performs one PRN period: wipeoff, correlation, discriminators,
// loop filters, NCO update, amplitude estimation, lock supervision and
// record emission.
func (t *Tracker) step(in []complex64) (consumed int, rec *gnss.Synchro) {
	n := t.currentPRNLengthSamples

	t.updateLocalCarrier(n)
	spc := t.updateLocalCode(t.earlyCode, t.remCodePhaseSamples, n)
	t.updateLocalCode(t.earlyCodeM, t.remCodePhaseSamplesM, n)

	var early, prompt, late complex64
	var earlyM, promptM, lateM complex64
	var corr float64

	if t.cadllInit {
		early, prompt, late = t.correlateEPL(in[:n], t.earlyCode, spc)
		corr = float64(real(prompt)) / float64(n)
	} else {
		early, prompt, late, earlyM, promptM, lateM, corr, _ =
			t.correlateCADLL(in[:n], spc)
	}

	if isNaN(prompt) {
		return t.skipBlock(in)
	}

	// Carrier PLL, shared by both units.
	carrErrorHz := loop.PLLCloopTwoQuadrantAtan(prompt) / (2 * math.Pi)
	carrErrorFiltHz := t.pll.Update(carrErrorHz)
	t.carrierDopplerHz = t.acqCarrierDopplerHz + carrErrorFiltHz
	t.codeFreqChips = gnss.CodeRateHz + t.carrierDopplerHz*gnss.CodeRateHz/gnss.L1FreqHz

	t.accCarrierPhaseRad += 2 * math.Pi * t.carrierDopplerHz * gnss.CodePeriodSecs
	t.remCarrPhaseRad = math.Mod(t.remCarrPhaseRad+2*math.Pi*t.carrierDopplerHz*gnss.CodePeriodSecs, 2*math.Pi)

	// Primary DLL.
	codeErrorChips := loop.DLLNCEMinusLNormalized(early, late)
	codeErrorFiltChips := t.dll.Update(codeErrorChips)
	codeErrorFiltSecs := gnss.CodePeriodSecs * codeErrorFiltChips / gnss.CodeRateHz
	t.accCodePhaseSecs += codeErrorFiltSecs

	// Secondary DLL, once CADLL mode is live.
	var codeErrorChipsM, codeErrorFiltChipsM, codeErrorFiltSecsM float64
	if !t.cadllInit {
		codeErrorChipsM = loop.DLLNCEMinusLNormalized(earlyM, lateM)
		codeErrorFiltChipsM = t.dllM.Update(codeErrorChipsM)
		codeErrorFiltSecsM = gnss.CodePeriodSecs * codeErrorFiltChipsM / gnss.CodeRateHz
		t.accCodePhaseSecsM += codeErrorFiltSecsM
	}

	// Next-period lengths from the corrected code frequency.
	tPrnSamples := gnss.CodeLengthChips / t.codeFreqChips * t.cfg.FsIn
	kBlk := tPrnSamples + t.remCodePhaseSamples + codeErrorFiltSecs*t.cfg.FsIn
	var kBlkM float64
	if t.cadllInit {
		kBlkM = kBlk
		t.remCodePhaseSamplesM = t.remCodePhaseSamples
	} else {
		kBlkM = tPrnSamples + t.remCodePhaseSamplesM + codeErrorFiltSecsM*t.cfg.FsIn
	}
	t.currentPRNLengthSamples = intRound(kBlk)
	t.currentPRNLengthSamplesM = intRound(kBlkM)

	// Amplitude loops.
	if t.cadllInit {
		t.a1 = t.amp.Update(corr / 0.99)
		t.a2 = t.a1 / initialAmplitudeRatio
	} else {
		total := float64(real(prompt)) + float64(real(promptM))
		if total != 0 {
			d := corr / total
			t.a1 = t.amp.Update(d * float64(real(prompt)) / 0.99)
			t.a2 = t.ampM.Update(d * float64(real(promptM)) / 0.99)
		}
	}

	t.superviseLock(prompt)

	// The timestamp is aligned with the current PRN start sample; the
	// remainder is updated afterwards for the next period.
	timestamp := (float64(t.sampleCounter) + t.remCodePhaseSamples) / t.cfg.FsIn
	t.remCodePhaseSamples = kBlk - float64(t.currentPRNLengthSamples)
	if !t.cadllInit {
		// Both units correlate the same stream, whose consumption the
		// primary drives; the secondary remainder is therefore relative
		// to the primary length and carries the full multipath offset.
		t.remCodePhaseSamplesM = kBlkM - float64(t.currentPRNLengthSamples)
	}

	if t.cadllInit && timestamp > 1 {
		t.cadllInit = false
		t.accCodePhaseSecsM = t.accCodePhaseSecs
		t.remCodePhaseSamplesM = t.remCodePhaseSamples - t.cfg.CADLLOffsetSamples
		log.WithFields(log.Fields{
			"channel": t.channel,
			"prn":     t.syn.PRN,
		}).Info("CADLL mode engaged")
	}

	t.syn.PromptI = float64(real(prompt))
	t.syn.PromptQ = float64(imag(prompt))
	t.syn.TrackingTimestampSecs = timestamp
	t.syn.CodePhaseSecs = 0
	t.syn.CarrierPhaseRads = t.accCarrierPhaseRad
	t.syn.CarrierDopplerHz = t.carrierDopplerHz
	t.syn.CN0DbHz = t.cn0DbHz
	t.syn.FlagValidTracking = true

	if t.dump != nil {
		t.dump.write(t, in[:n], dumpVars{
			early: early, prompt: prompt, late: late,
			carrErrorHz: carrErrorHz, carrErrorFiltHz: carrErrorFiltHz,
			codeErrorChips: codeErrorChips, codeErrorFiltChips: codeErrorFiltChips,
		})
	}

	out := *t.syn
	t.sampleCounter += uint64(t.currentPRNLengthSamples)
	t.sampleCounterM += uint64(t.currentPRNLengthSamplesM)

	return t.currentPRNLengthSamples, &out
}

// skipBlock handles NaN input: the block is discarded wholesale and a
// zeroed record keeps the downstream consumers fed.
func (t *Tracker) skipBlock(in []complex64) (consumed int, rec *gnss.Synchro) {
	t.sampleCounter += uint64(len(in))
	log.WithFields(log.Fields{
		"channel": t.channel,
		"sample":  t.sampleCounter,
	}).Warn("NaN in tracking input, block skipped")

	t.syn.PromptI = 0
	t.syn.PromptQ = 0
	t.syn.TrackingTimestampSecs = float64(t.sampleCounter) / t.cfg.FsIn
	t.syn.CarrierPhaseRads = 0
	t.syn.CodePhaseSecs = 0
	t.syn.CN0DbHz = 0
	t.syn.FlagValidTracking = false

	out := *t.syn
	return len(in), &out
}

// superviseLock folds the prompt into the CN0/lock window and declares
// loss of lock after persistent degradation.
func (t *Tracker) superviseLock(prompt complex64) {
	if t.cn0EstimationCounter < loop.CN0EstimationSamples {
		t.promptBuffer[t.cn0EstimationCounter] = prompt
		t.cn0EstimationCounter++
		return
	}
	t.cn0EstimationCounter = 0

	t.cn0DbHz = loop.CN0SVNEstimator(t.promptBuffer, t.cfg.FsIn, gnss.CodeLengthChips)
	t.carrierLockTest = loop.CarrierLockDetector(t.promptBuffer)

	if t.carrierLockTest < loop.CarrierLockThreshold || t.cn0DbHz < loop.MinimumValidCN0 {
		t.carrierLockFailCounter++
	} else if t.carrierLockFailCounter > 0 {
		t.carrierLockFailCounter--
	}

	if t.carrierLockFailCounter > loop.MaximumLockFailCounter {
		log.WithFields(log.Fields{
			"channel": t.channel,
			"prn":     t.syn.PRN,
			"cn0":     t.cn0DbHz,
		}).Info("loss of lock")
		t.carrierLockFailCounter = 0
		t.enabled.Store(false)
		t.events <- gnss.Event{Channel: t.channel, Kind: gnss.LossOfLock}
	}
}

// updateLocalCarrier regenerates the Doppler wipeoff for the period.
func (t *Tracker) updateLocalCarrier(n int) {
	phaseStep := 2 * math.Pi * t.carrierDopplerHz / t.cfg.FsIn
	phase := t.remCarrPhaseRad
	for i := 0; i < n; i++ {
		s, c := math.Sincos(phase)
		t.carrSign[i] = complex(float32(c), -float32(s))
		phase += phaseStep
	}
}

// updateLocalCode regenerates an E/P/L replica triple into early. The
// prompt and late views are the same buffer at offsets of one and two
// early-late spacings; the return value is that spacing in samples.
func (t *Tracker) updateLocalCode(early []complex64, remCodePhaseSamples float64, n int) int {
	codePhaseStep := t.codeFreqChips / t.cfg.FsIn
	remCodePhaseChips := remCodePhaseSamples * codePhaseStep
	tcodeChips := -remCodePhaseChips

	spcSamples := intRound(t.cfg.EarlyLateSpcChips / codePhaseStep)
	loopLen := n + 2*spcSamples
	for i := 0; i < loopLen; i++ {
		idx := 1 + int(math.Floor(math.Mod(tcodeChips-t.cfg.EarlyLateSpcChips, gnss.CodeLengthChips)))
		if idx < 0 {
			idx += gnss.CodeLengthChips
		}
		early[i] = t.caCode[idx]
		tcodeChips += codePhaseStep
	}

	return spcSamples
}

// correlateEPL performs carrier wipeoff and the three-lag correlation of
// one unit.
func (t *Tracker) correlateEPL(in, early []complex64, spc int) (e, p, l complex64) {
	prompt := early[spc:]
	late := early[2*spc:]

	var accE, accP, accL complex128
	for i, v := range in {
		bb := complex128(v * t.carrSign[i])
		accE += bb * complex128(early[i])
		accP += bb * complex128(prompt[i])
		accL += bb * complex128(late[i])
	}

	return c64(accE), c64(accP), c64(accL)
}

// correlateCADLL wipes off the carrier once and correlates both units,
// each against the input with the other unit's amplitude-weighted prompt
// replica cancelled. The per-sample prompt products are averaged into the
// amplitude residuals corr and corrM.
func (t *Tracker) correlateCADLL(in []complex64, spc int) (e, p, l, em, pm, lm complex64, corr, corrM float64) {
	prompt := t.earlyCode[spc:]
	late := t.earlyCode[2*spc:]
	promptM := t.earlyCodeM[spc:]
	lateM := t.earlyCodeM[2*spc:]

	a1 := complex(float32(t.a1), 0)
	a2 := complex(float32(t.a2), 0)

	var accE, accP, accL, accEM, accPM, accLM complex128
	var corrAcc, corrMAcc float64
	for i, v := range in {
		bb := v * t.carrSign[i]

		r1 := bb - a2*promptM[i]
		r2 := bb - a1*prompt[i]

		accE += complex128(r1 * t.earlyCode[i])
		accP += complex128(r1 * prompt[i])
		accL += complex128(r1 * late[i])

		accEM += complex128(r2 * t.earlyCodeM[i])
		accPM += complex128(r2 * promptM[i])
		accLM += complex128(r2 * lateM[i])

		corrAcc += float64(real(bb * prompt[i]))
		corrMAcc += float64(real(bb * promptM[i]))
	}

	n := float64(len(in))
	return c64(accE), c64(accP), c64(accL),
		c64(accEM), c64(accPM), c64(accLM),
		corrAcc / n, corrMAcc / n
}

func c64(v complex128) complex64 {
	return complex(float32(real(v)), float32(imag(v)))
}

func isNaN(v complex64) bool {
	return math.IsNaN(float64(real(v))) || math.IsNaN(float64(imag(v)))
}

func intRound(f float64) int {
	return int(math.Floor(f + 0.5))
}
