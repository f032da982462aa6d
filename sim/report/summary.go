package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/workflow-sim/workflow-sim/sim"
)

// SummaryColumns is the header of summary_stats.csv.
var SummaryColumns = []string{"metric", "value", "units", "description"}

// SummaryRows renders the aggregate report in its fixed metric order.
func SummaryRows(s *sim.Summary) [][]string {
	metrics := s.Rows()
	rows := make([][]string, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []string{m.Metric, sim.FormatFloat(m.Value), m.Units, m.Description})
	}
	return rows
}

// WriteSummaryCSV writes one row per metric.
func WriteSummaryCSV(w io.Writer, s *sim.Summary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(SummaryColumns); err != nil {
		return fmt.Errorf("writing summary CSV header: %w", err)
	}
	for _, row := range SummaryRows(s) {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing summary metric %s: %w", row[0], err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadSummaryCSV loads summary_stats.csv into metric → value. Rows whose
// value is not numeric are skipped.
func ReadSummaryCSV(r io.Reader) (map[string]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading summary CSV header: %w", err)
	}
	metricCol, valueCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "metric":
			metricCol = i
		case "value":
			valueCol = i
		}
	}
	if metricCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("summary CSV header %v lacks metric and value columns", header)
	}

	metrics := make(map[string]float64)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return metrics, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading summary CSV: %w", err)
		}
		if len(rec) <= metricCol || len(rec) <= valueCol {
			continue
		}
		name := strings.TrimSpace(rec[metricCol])
		if name == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[valueCol]), 64)
		if err != nil {
			continue
		}
		metrics[name] = v
	}
}
