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

package main

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	"github.com/bemasher/rtltcp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sdrkit/gpsl1/channel"
	"github.com/sdrkit/gpsl1/gnss"
)

// L1 center frequency for the rtl_tcp front-end.
const CenterFreq = 1575420000

// SampleSource produces blocks of complex baseband samples.
type SampleSource interface {
	ReadBlock(out []complex64) (int, error)
	Close() error
}

// FileSource reads interleaved little-endian complex float32 samples.
type FileSource struct {
	f   *os.File
	buf []byte
}

func NewFileSource(name string) (*FileSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "opening sample file")
	}
	return &FileSource{f: f}, nil
}

func (src *FileSource) ReadBlock(out []complex64) (int, error) {
	need := len(out) * 8
	if cap(src.buf) < need {
		src.buf = make([]byte, need)
	}
	src.buf = src.buf[:need]

	n, err := io.ReadFull(src.f, src.buf)
	for i := 0; i < n/8; i++ {
		re := math.Float32frombits(binary.LittleEndian.Uint32(src.buf[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(src.buf[i*8+4:]))
		out[i] = complex(re, im)
	}

	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n / 8, err
}

func (src *FileSource) Close() error { return src.f.Close() }

// TCPSource adapts an rtl_tcp connection: unsigned 8-bit IQ pairs are
// mapped to unit-range complex floats through a lookup table.
type TCPSource struct {
	sdr *rtltcp.SDR
	lut [256]float32
	buf []byte
}

func NewTCPSource(sdr *rtltcp.SDR) *TCPSource {
	src := &TCPSource{sdr: sdr}
	for idx := range src.lut {
		src.lut[idx] = (float32(idx) - 127.5) / 127.5
	}
	return src
}

func (src *TCPSource) ReadBlock(out []complex64) (int, error) {
	need := len(out) * 2
	if cap(src.buf) < need {
		src.buf = make([]byte, need)
	}
	src.buf = src.buf[:need]

	n, err := io.ReadFull(src.sdr, src.buf)
	for i := 0; i < n/2; i++ {
		out[i] = complex(src.lut[src.buf[i*2]], src.lut[src.buf[i*2+1]])
	}
	return n / 2, err
}

func (src *TCPSource) Close() error { return src.sdr.Close() }

// Receiver fans sample blocks out to one worker per satellite channel.
// Each worker owns its controller and all of its state; the only shared
// structure is the code phase map.
type Receiver struct {
	src        SampleSource
	codePhases *channel.CodePhaseMap

	workers []*worker
	records chan gnss.Synchro

	blockSize int
	stop      chan struct{}
	wg        sync.WaitGroup
}

// worker is one channel pipeline: blocks in, records out. The input
// buffer accumulates samples until the active stage can consume them.
type worker struct {
	ctrl *channel.Controller
	in   chan []complex64
	buf  []complex64
}

func NewReceiver(src SampleSource, prns []int, cfg channel.Config) (*Receiver, error) {
	rcvr := &Receiver{
		src:        src,
		codePhases: channel.NewCodePhaseMap(),
		records:    make(chan gnss.Synchro, 16),
		blockSize:  cfg.Acq.SampledMS * cfg.Acq.SamplesPerMS,
		stop:       make(chan struct{}),
	}

	for id, prn := range prns {
		ctrl, err := channel.New(id, prn, cfg, rcvr.codePhases, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "building channel %d", id)
		}
		rcvr.workers = append(rcvr.workers, &worker{
			ctrl: ctrl,
			in:   make(chan []complex64, 4),
		})
	}

	return rcvr, nil
}

func (rcvr *Receiver) Records() <-chan gnss.Synchro { return rcvr.records }

// Run reads blocks from the source until EOF or Stop and drives every
// channel worker. Blocks until all workers have drained.
func (rcvr *Receiver) Run() {
	for _, w := range rcvr.workers {
		rcvr.wg.Add(1)
		go rcvr.runWorker(w)
	}

	for {
		select {
		case <-rcvr.stop:
			rcvr.finish()
			return
		default:
		}

		block := make([]complex64, rcvr.blockSize)
		n, err := rcvr.src.ReadBlock(block)
		if err != nil {
			if err != io.EOF {
				log.Errorf("reading samples: %+v", err)
			}
			rcvr.finish()
			return
		}

		for _, w := range rcvr.workers {
			w.in <- block[:n]
		}
	}
}

func (rcvr *Receiver) finish() {
	for _, w := range rcvr.workers {
		close(w.in)
	}
	rcvr.wg.Wait()
	close(rcvr.records)
}

func (rcvr *Receiver) runWorker(w *worker) {
	defer rcvr.wg.Done()
	defer w.ctrl.Close()

	for block := range w.in {
		w.buf = append(w.buf, block...)

		for {
			consumed, rec := w.ctrl.Process(w.buf)
			if rec != nil {
				rcvr.records <- *rec
			}
			if consumed == 0 {
				break
			}
			w.buf = w.buf[:copy(w.buf, w.buf[consumed:])]
		}
	}
}

// Stop requests a cooperative shutdown.
func (rcvr *Receiver) Stop() {
	for _, w := range rcvr.workers {
		w.ctrl.Stop()
	}
	close(rcvr.stop)
}

func (rcvr *Receiver) Close() error {
	return rcvr.src.Close()
}
