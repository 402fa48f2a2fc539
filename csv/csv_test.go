package csv

import (
	"bytes"
	"encoding/csv"
	"runtime"
	"strings"
	"testing"

	"golang.org/x/xerrors"

	"github.com/sdrkit/gpsl1/gnss"
)

func TestRecorderNil(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := Encoder{csv.NewWriter(buf)}

	if err := enc.Encode(nil); err == nil {
		t.Fatalf("%+v\n", err)
	}
}

type Msg struct{}

func (m Msg) Record() []string {
	return []string{}
}

func TestRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := Encoder{csv.NewWriter(buf)}

	if err := enc.Encode(Msg{}); err != nil {
		t.Fatalf("%+v\n", err)
	}
}

type NonRecorder struct{}

func TestNonRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := Encoder{csv.NewWriter(buf)}

	err := enc.Encode(NonRecorder{})

	var runtimeErr runtime.Error
	if !xerrors.As(err, &runtimeErr) {
		t.Fatalf("%+v\n", runtimeErr)
	}
}

func TestSynchroRecord(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := Encoder{csv.NewWriter(buf)}

	syn := gnss.Synchro{System: "G", Signal: "1C", PRN: 12, CN0DbHz: 44.25}
	if err := enc.Encode(syn); err != nil {
		t.Fatalf("%+v\n", err)
	}

	fields := strings.Split(strings.TrimSpace(buf.String()), ",")
	if len(fields) != len(syn.Record()) {
		t.Fatalf("field count %d, want %d", len(fields), len(syn.Record()))
	}
	if fields[2] != "12" {
		t.Fatalf("prn field %q", fields[2])
	}
}
