package acq

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// dumpRow writes the |IFFT|² magnitudes of one Doppler bin to its own
// file. A failure warns once and disables dumping for the channel; the
// search itself continues.
func (e *Engine) dumpRow(k int) {
	name := fmt.Sprintf("test_statistics_%s_%s_sat_%d_doppler_%d.dat",
		e.syn.System, e.syn.Signal, e.prn, e.dopplerAt(k))

	if err := writeRow(filepath.Join(e.cfg.DumpDir, name), e.grid[k]); err != nil {
		e.dumpFailed = true
		log.WithFields(log.Fields{
			"channel": e.channel,
			"prn":     e.prn,
		}).Warnf("acquisition dump disabled: %+v", err)
	}
}

func writeRow(path string, row []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating dump file")
	}
	defer f.Close()

	buf := make([]float32, len(row))
	for i, v := range row {
		buf[i] = float32(v)
	}

	return errors.Wrap(binary.Write(f, binary.LittleEndian, buf), "writing dump file")
}
