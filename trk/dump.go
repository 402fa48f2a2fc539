package trk

import (
	"encoding/binary"
	"fmt"
	"math/cmplx"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// dumpVars carries the per-period intermediates that only exist inside
// the tracking step but belong in the dump record.
type dumpVars struct {
	early, prompt, late complex64

	carrErrorHz, carrErrorFiltHz       float64
	codeErrorChips, codeErrorFiltChips float64
}

// dumpWriter streams the multiplexed binary tracking record, one entry
// per PRN period. Write failures warn once and disable the writer; the
// channel keeps tracking.
type dumpWriter struct {
	file    *os.File
	channel int
	failed  bool
}

func newDumpWriter(filename string, channel int) *dumpWriter {
	w := &dumpWriter{channel: channel}

	f, err := os.Create(fmt.Sprintf("%s%d.dat", filename, channel))
	if err != nil {
		w.failed = true
		log.WithField("channel", channel).Warnf("tracking dump disabled: %+v", err)
		return w
	}
	w.file = f

	return w
}

func (w *dumpWriter) write(t *Tracker, in []complex64, v dumpVars) {
	if w.failed {
		return
	}

	fields := []interface{}{
		float32(cmplx.Abs(complex128(v.early))),
		float32(cmplx.Abs(complex128(v.prompt))),
		float32(cmplx.Abs(complex128(v.late))),
		real(v.prompt),
		imag(v.prompt),
		t.sampleCounter,
		float32(t.accCarrierPhaseRad),
		float32(t.carrierDopplerHz),
		float32(t.codeFreqChips),
		float32(v.carrErrorHz),
		float32(v.carrErrorFiltHz),
		float32(v.codeErrorChips),
		float32(v.codeErrorFiltChips),
		float32(t.cn0DbHz),
		float32(t.carrierLockTest),
		float32(t.remCodePhaseSamples),
		float64(t.sampleCounter + uint64(t.currentPRNLengthSamples)),
	}

	err := func() error {
		for _, f := range fields {
			if err := binary.Write(w.file, binary.LittleEndian, f); err != nil {
				return err
			}
		}
		return binary.Write(w.file, binary.LittleEndian, in)
	}()

	if err != nil {
		w.failed = true
		log.WithField("channel", w.channel).Warnf("tracking dump disabled: %+v", errors.Wrap(err, "writing dump record"))
	}
}

func (w *dumpWriter) close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
