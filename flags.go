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
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sdrkit/gpsl1/acq"
	"github.com/sdrkit/gpsl1/channel"
	"github.com/sdrkit/gpsl1/csv"
	"github.com/sdrkit/gpsl1/trk"
)

var sampleFilename = flag.String("filename", "", "read interleaved complex float32 samples from file instead of rtl_tcp")

var sampleRate = flag.Int("samplerate", 2048000, "baseband sample rate in Hz")
var ifFreq = flag.Float64("iffreq", 0, "intermediate frequency of the front-end in Hz")

var prnFlag = flag.String("prns", "1", "comma-separated PRNs to search, 1..32")

var sampledMS = flag.Int("sampledms", 1, "acquisition dwell length in code periods")
var maxDwells = flag.Int("maxdwells", 2, "dwells before a negative acquisition")
var dopplerMax = flag.Int("dopplermax", 5000, "half-width of the Doppler search grid in Hz")
var dopplerStep = flag.Int("dopplerstep", 500, "Doppler grid spacing in Hz")
var threshold = flag.Float64("threshold", 2.5, "acquisition peak-to-floor decision threshold")
var peakCount = flag.Int("peak", 1, "disjoint correlation peaks required for a positive")
var bitTransition = flag.Bool("bittransition", false, "two-dwell acquisition robust to navigation bit edges")

var pllBw = flag.Float64("pllbw", 25, "carrier loop noise bandwidth in Hz")
var dllBw = flag.Float64("dllbw", 2, "code loop noise bandwidth in Hz")
var earlyLateSpc = flag.Float64("earlylatespc", 0.5, "early-late correlator spacing in chips")
var cadllOffset = flag.Float64("cadlloffset", 27, "secondary code loop seed offset in samples")

var acqDumpDir = flag.String("acqdump", "", "directory for acquisition grid dumps, empty disables")
var trkDumpFile = flag.String("trkdump", "", "tracking dump filename prefix, empty disables")

var timeLimit = flag.Duration("duration", 0, "time to run for, 0 for infinite, ex. 1h5m10s")

var encoder Encoder
var format = flag.String("format", "plain", "synchronization record output format: plain, csv or json")

var verbose = flag.Bool("verbose", false, "enable debug logging")

func EnvOverride() {
	flag.VisitAll(func(f *flag.Flag) {
		envName := "GPSL1_" + strings.ToUpper(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue != "" {
			if err := flag.Set(f.Name, flagValue); err != nil {
				log.Warnf("environment variable %q failed to override flag %q with %q: %v",
					envName, f.Name, flagValue, err,
				)
			}
		}
	})
}

func HandleFlags() {
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	*format = strings.ToLower(*format)
	switch *format {
	case "plain":
		encoder = PlainEncoder{}
	case "csv":
		encoder = csv.NewEncoder(os.Stdout)
	case "json":
		encoder = json.NewEncoder(os.Stdout)
	default:
		log.Fatalf("invalid format: %q", *format)
	}
}

// ParsePRNs splits the -prns flag value.
func ParsePRNs(value string) (prns []int, err error) {
	for _, field := range strings.Split(value, ",") {
		prn, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		if prn < 1 || prn > 32 {
			return nil, fmt.Errorf("prn out of range: %d", prn)
		}
		prns = append(prns, prn)
	}
	return prns, nil
}

// ChannelConfig assembles the per-channel stage configuration from flags.
func ChannelConfig() channel.Config {
	fs := float64(*sampleRate)
	samplesPerMS := *sampleRate / 1000

	return channel.Config{
		Acq: acq.Config{
			SampledMS:      *sampledMS,
			MaxDwells:      *maxDwells,
			DopplerMaxHz:   *dopplerMax,
			DopplerStepHz:  *dopplerStep,
			IFFreqHz:       *ifFreq,
			FsIn:           fs,
			SamplesPerMS:   samplesPerMS,
			SamplesPerCode: samplesPerMS,
			BitTransition:  *bitTransition,
			Peak:           *peakCount,
			Threshold:      *threshold,
			Dump:           *acqDumpDir != "",
			DumpDir:        *acqDumpDir,
		},
		Trk: trk.Config{
			FsIn:               fs,
			IFFreqHz:           *ifFreq,
			VectorLength:       samplesPerMS,
			PLLBwHz:            *pllBw,
			DLLBwHz:            *dllBw,
			EarlyLateSpcChips:  *earlyLateSpc,
			CADLLOffsetSamples: *cadllOffset,
			Dump:               *trkDumpFile != "",
			DumpFilename:       *trkDumpFile,
		},
	}
}

// JSON and CSV both implement this interface so we can simplify record
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

type PlainEncoder struct{}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	_, err = fmt.Println(msg)
	return
}
