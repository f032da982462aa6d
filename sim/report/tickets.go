package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/workflow-sim/workflow-sim/sim"
)

// TicketColumns is the header of tickets_stats.csv.
var TicketColumns = []string{
	"ticket_id", "arrival_time", "closed_time",
	"dev_cycles", "review_cycles", "test_cycles",
	"review_reworks", "test_reworks",
	"wait_dev", "wait_review", "wait_testing",
	"service_time_dev", "service_time_review", "service_time_testing",
	"total_wait", "time_in_system",
}

// TicketRows renders one row per ticket in arrival order. closed_time is
// empty for tickets still open at the horizon.
func TicketRows(records []*sim.TicketRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		closed := ""
		if r.Closed {
			closed = sim.FormatFloat(r.ClosedTime)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.ID),
			sim.FormatFloat(r.ArrivalTime),
			closed,
			strconv.Itoa(r.CyclesAt(sim.StageDev)),
			strconv.Itoa(r.CyclesAt(sim.StageReview)),
			strconv.Itoa(r.CyclesAt(sim.StageTesting)),
			strconv.Itoa(r.ReviewReworks),
			strconv.Itoa(r.TestReworks),
			sim.FormatFloat(r.WaitAt(sim.StageDev)),
			sim.FormatFloat(r.WaitAt(sim.StageReview)),
			sim.FormatFloat(r.WaitAt(sim.StageTesting)),
			sim.FormatFloat(r.ServiceAt(sim.StageDev)),
			sim.FormatFloat(r.ServiceAt(sim.StageReview)),
			sim.FormatFloat(r.ServiceAt(sim.StageTesting)),
			sim.FormatFloat(r.TotalWait),
			sim.FormatFloat(r.TimeInSystem),
		})
	}
	return rows
}

// WriteTicketsCSV writes the per-ticket microdata with a header row.
func WriteTicketsCSV(w io.Writer, records []*sim.TicketRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TicketColumns); err != nil {
		return fmt.Errorf("writing tickets CSV header: %w", err)
	}
	for _, row := range TicketRows(records) {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing tickets CSV row %s: %w", row[0], err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Row is one CSV data row keyed by column name.
type Row map[string]string

// Float parses column name; a missing column reads as 0.
func (r Row) Float(name string) (float64, error) {
	v, ok := r[name]
	if !ok || v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return f, nil
}

// ReadTicketsCSV loads tickets_stats.csv as rows keyed by header name.
func ReadTicketsCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading tickets CSV header: %w", err)
	}
	var rows []Row
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tickets CSV row %d: %w", len(rows)+1, err)
		}
		row := make(Row, len(header))
		for i, name := range header {
			row[name] = rec[i]
		}
		rows = append(rows, row)
	}
}
