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

// Package gnss holds the GPS L1 C/A signal constants, the spreading code
// generator and the synchronization record exchanged between the
// acquisition and tracking stages of a channel.
package gnss

import "strconv"

const (
	// L1 carrier frequency.
	L1FreqHz = 1575.42e6

	// C/A code chipping rate and period.
	CodeRateHz      = 1.023e6
	CodeLengthChips = 1023
	CodePeriodSecs  = CodeLengthChips / CodeRateHz
)

// Synchro carries the synchronization state of one satellite through the
// receiver. Acquisition fills the Acq fields, tracking fills the rest once
// per PRN period. The channel controller owns the record; the stages hold a
// reference to it.
type Synchro struct {
	System string
	Signal string
	PRN    int

	// Written by acquisition.
	AcqDelaySamples       float64
	AcqDopplerHz          float64
	AcqSamplestampSamples uint64

	// Written by tracking.
	PromptI               float64
	PromptQ               float64
	TrackingTimestampSecs float64
	CarrierPhaseRads      float64
	CarrierDopplerHz      float64
	CodePhaseSecs         float64
	CN0DbHz               float64
	FlagValidTracking     bool
}

// Record produces the CSV field list for a synchronization record.
func (s Synchro) Record() []string {
	return []string{
		s.System, s.Signal,
		strconv.Itoa(s.PRN),
		strconv.FormatFloat(s.TrackingTimestampSecs, 'f', 9, 64),
		strconv.FormatFloat(s.PromptI, 'f', 3, 64),
		strconv.FormatFloat(s.PromptQ, 'f', 3, 64),
		strconv.FormatFloat(s.CarrierDopplerHz, 'f', 3, 64),
		strconv.FormatFloat(s.CarrierPhaseRads, 'f', 6, 64),
		strconv.FormatFloat(s.CN0DbHz, 'f', 2, 64),
		strconv.FormatBool(s.FlagValidTracking),
	}
}

// EventKind identifies a channel control event.
type EventKind int

const (
	StopChannel EventKind = iota
	AcqSuccess
	AcqFail
	LossOfLock
)

// Code returns the integer message code used on the wire and in dump files:
// 0=STOP_CHANNEL, 1=ACQ_SUCCESS, 2=ACQ_FAIL or LOSS_OF_LOCK.
func (k EventKind) Code() int {
	switch k {
	case StopChannel:
		return 0
	case AcqSuccess:
		return 1
	default:
		return 2
	}
}

func (k EventKind) String() string {
	switch k {
	case StopChannel:
		return "StopChannel"
	case AcqSuccess:
		return "AcqSuccess"
	case AcqFail:
		return "AcqFail"
	case LossOfLock:
		return "LossOfLock"
	}
	return "Unknown(" + strconv.Itoa(int(k)) + ")"
}

// Event is a control message posted by a stage to its channel controller.
type Event struct {
	Channel int
	Kind    EventKind
}
