package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/workflow-sim/workflow-sim/sim"
)

// CompressedSuffix selects zstd compression in Create and ReadFile.
const CompressedSuffix = ".zst"

// Writer streams records as JSON lines, optionally zstd-compressed.
// The first write error is kept and returned by Close; later records are
// dropped.
type Writer struct {
	level   Level
	file    *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
	json    *json.Encoder
	err     error
	written int
}

// Create opens path for writing. Paths ending in .zst are compressed.
func Create(path string, level Level) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	w, err := NewWriter(f, strings.HasSuffix(path, CompressedSuffix), level)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter wraps out. Close does not close out unless it was opened by Create.
func NewWriter(out io.Writer, compress bool, level Level) (*Writer, error) {
	w := &Writer{level: level}
	if compress {
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		w.enc = enc
		out = enc
	}
	w.buf = bufio.NewWriter(out)
	w.json = json.NewEncoder(w.buf)
	return w, nil
}

// Observe implements sim.Observer.
func (w *Writer) Observe(t float64, kind string, ticketID, agentID int, stage sim.Stage, detail string) {
	w.Append(newRecord(t, kind, ticketID, agentID, stage, detail))
}

// Append encodes one record if the level lets it through.
func (w *Writer) Append(r Record) {
	if w.err != nil || !keep(w.level, r) {
		return
	}
	if err := w.json.Encode(r); err != nil {
		w.err = fmt.Errorf("writing trace record: %w", err)
		logrus.Errorf("trace: %v; further records are dropped", w.err)
		return
	}
	w.written++
}

// Written returns the number of records encoded so far.
func (w *Writer) Written() int { return w.written }

// Close flushes buffered data and closes the compressor and file.
func (w *Writer) Close() error {
	errs := []error{w.err, w.buf.Flush()}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
	}
	return errors.Join(errs...)
}

// ReadFile loads every record of a trace written by Create.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()
	var in io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		in = dec
	}
	return Read(in)
}

// Read decodes JSON lines until EOF.
func Read(in io.Reader) ([]Record, error) {
	dec := json.NewDecoder(in)
	var out []Record
	for {
		var r Record
		if err := dec.Decode(&r); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("decoding trace record %d: %w", len(out), err)
		}
		out = append(out, r)
	}
}
