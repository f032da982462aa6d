package report

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/workflow-sim/workflow-sim/sim"
)

// Rendered holds the CSV artifacts of a run exactly as they are written.
type Rendered struct {
	Tickets []byte
	Summary []byte
}

// Render produces both CSV renderings of res.
func Render(res *sim.Result) (Rendered, error) {
	var tickets, summary bytes.Buffer
	if err := WriteTicketsCSV(&tickets, res.Records); err != nil {
		return Rendered{}, err
	}
	if err := WriteSummaryCSV(&summary, res.Summary); err != nil {
		return Rendered{}, err
	}
	return Rendered{Tickets: tickets.Bytes(), Summary: summary.Bytes()}, nil
}

// Digest fingerprints the rendered artifacts with BLAKE3. Two runs with the
// same configuration and seeds have the same digest.
func (r Rendered) Digest() string {
	h := blake3.New()
	for _, part := range [][]byte{r.Tickets, r.Summary} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Digest renders res and returns its fingerprint.
func Digest(res *sim.Result) (string, error) {
	r, err := Render(res)
	if err != nil {
		return "", err
	}
	return r.Digest(), nil
}

// WriteRun writes tickets_stats.csv, summary_stats.csv and config_used.yaml
// into dir, creating it if needed, and returns the run digest.
func WriteRun(dir string, cfg sim.Config, res *sim.Result) (string, error) {
	if res == nil || res.Summary == nil {
		return "", fmt.Errorf("no result to write")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	r, err := Render(res)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, TicketsFilename), r.Tickets, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", TicketsFilename, err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFilename), r.Summary, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", SummaryFilename, err)
	}
	f, err := os.Create(filepath.Join(dir, ConfigFilename))
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", ConfigFilename, err)
	}
	if err := WriteConfigYAML(f, cfg); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", ConfigFilename, err)
	}
	digest := r.Digest()
	logrus.Infof("Wrote %d ticket rows and %d summary bytes to %s (digest %s)", len(res.Records), len(r.Summary), dir, digest)
	return digest, nil
}
