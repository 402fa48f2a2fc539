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
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/bemasher/rtltcp"
	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

func main() {
	var sdr rtltcp.SDR
	sdr.RegisterFlags()
	EnvOverride()
	flag.Parse()
	HandleFlags()

	prns, err := ParsePRNs(*prnFlag)
	if err != nil {
		log.Fatalf("parsing -prns: %v", err)
	}

	var src SampleSource
	if *sampleFilename != "" {
		src, err = NewFileSource(*sampleFilename)
		if err != nil {
			log.Fatalf("%+v", err)
		}
	} else {
		if err := sdr.Connect(nil); err != nil {
			log.Fatalf("connecting to rtl_tcp: %v", err)
		}
		sdr.HandleFlags()
		sdr.SetCenterFreq(CenterFreq)
		sdr.SetSampleRate(uint32(*sampleRate))
		sdr.SetGainMode(true)
		src = NewTCPSource(&sdr)
	}

	rcvr, err := NewReceiver(src, prns, ChannelConfig())
	if err != nil {
		log.Fatalf("%+v", err)
	}
	defer rcvr.Close()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	tLimit := make(<-chan time.Time, 1)
	if *timeLimit != 0 {
		tLimit = time.After(*timeLimit)
	}

	go func() {
		select {
		case <-sigint:
		case <-tLimit:
			log.Info("time limit reached")
		}
		rcvr.Stop()
	}()

	go rcvr.Run()

	for rec := range rcvr.Records() {
		if err := encoder.Encode(rec); err != nil {
			log.Fatalf("encoding record: %v", err)
		}
	}
}
