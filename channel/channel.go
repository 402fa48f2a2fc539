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

// Package channel sequences one satellite channel through its
// acquisition → tracking → loss-of-lock → re-acquisition lifecycle. The
// controller owns the shared synchronization record and is the single
// consumer of the channel's control event queue.
package channel

import (
	log "github.com/sirupsen/logrus"

	"github.com/sdrkit/gpsl1/acq"
	"github.com/sdrkit/gpsl1/gnss"
	"github.com/sdrkit/gpsl1/trk"
)

// State of the channel lifecycle.
type State int

const (
	Acquiring State = iota
	Tracking
	Stopped
)

// Config aggregates the stage configurations of one channel.
type Config struct {
	Acq acq.Config
	Trk trk.Config
}

// RepickFunc chooses the next PRN hypothesis after a failed acquisition
// or a loss of lock. A nil policy retries the same satellite.
type RepickFunc func(prn int) int

// Controller drives one channel. All processing is synchronous within
// Process; the event queue is multi-producer (stages, possibly foreign
// threads via StopTracking) and single-consumer (the controller).
type Controller struct {
	id  int
	syn gnss.Synchro

	events chan gnss.Event

	acq *acq.Engine
	trk *trk.Tracker

	state      State
	codePhases *CodePhaseMap
	repick     RepickFunc
}

// New builds a controller for the given channel and initial PRN
// hypothesis and arms acquisition.
func New(id, prn int, cfg Config, codePhases *CodePhaseMap, repick RepickFunc) (*Controller, error) {
	c := &Controller{
		id:         id,
		syn:        gnss.Synchro{System: "G", Signal: "1C", PRN: prn},
		events:     make(chan gnss.Event, 8),
		codePhases: codePhases,
		repick:     repick,
	}

	var err error
	if c.acq, err = acq.New(cfg.Acq, id, &c.syn, c.events); err != nil {
		return nil, err
	}
	if c.trk, err = trk.New(cfg.Trk, id, &c.syn, c.events); err != nil {
		return nil, err
	}

	c.acq.SetActive(true)

	return c, nil
}

func (c *Controller) State() State          { return c.state }
func (c *Controller) Synchro() *gnss.Synchro { return &c.syn }
func (c *Controller) Events() chan<- gnss.Event { return c.events }

// Process feeds one sample block to the active stage and dispatches any
// control events it produced. In the tracking state the returned record
// is the synchronization output of the PRN period, if one completed.
func (c *Controller) Process(in []complex64) (consumed int, rec *gnss.Synchro) {
	switch c.state {
	case Acquiring:
		consumed = c.acq.Process(in)
	case Tracking:
		consumed, rec = c.trk.Process(in)
	case Stopped:
		consumed = len(in)
	}

	c.drain()

	return consumed, rec
}

// Stop requests a cooperative shutdown of the channel.
func (c *Controller) Stop() {
	if c.state == Tracking {
		c.trk.StopTracking()
		return
	}
	c.state = Stopped
}

// Close releases stage resources.
func (c *Controller) Close() error {
	return c.trk.Close()
}

func (c *Controller) drain() {
	for {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
		default:
			return
		}
	}
}

func (c *Controller) dispatch(ev gnss.Event) {
	log.WithFields(log.Fields{
		"channel": c.id,
		"prn":     c.syn.PRN,
		"event":   ev.Kind,
	}).Debug("channel event")

	switch ev.Kind {
	case gnss.AcqSuccess:
		if c.codePhases != nil {
			c.codePhases.Store(c.syn.PRN, CodePhase{
				CodePhaseSamples: c.syn.AcqDelaySamples,
				SampleStamp:      c.syn.AcqSamplestampSamples,
			})
		}
		c.trk.StartTracking(c.acq.SampleCounter())
		c.state = Tracking

	case gnss.AcqFail:
		c.rearm(c.acq.SampleCounter())

	case gnss.LossOfLock:
		c.rearm(c.trk.SampleCounter())

	case gnss.StopChannel:
		c.state = Stopped
	}
}

// rearm returns the channel to acquisition with the next PRN hypothesis.
func (c *Controller) rearm(atSample uint64) {
	prn := c.syn.PRN
	if c.repick != nil {
		prn = c.repick(prn)
	}

	c.acq.SetSampleCounter(atSample)
	c.acq.SetPRN(prn)
	c.acq.SetActive(true)
	c.state = Acquiring
}
