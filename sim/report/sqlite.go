package report

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workflow-sim/workflow-sim/sim"

	_ "modernc.org/sqlite"
)

// SQLiteExporter appends run artifacts to a SQLite database. Each run is
// keyed by its digest, so exporting the same run twice is a no-op.
type SQLiteExporter struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and initializes the schema.
func OpenSQLite(path string) (*SQLiteExporter, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	e := &SQLiteExporter{db: db}
	if err := e.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return e, nil
}

// Close closes the database connection.
func (e *SQLiteExporter) Close() error { return e.db.Close() }

func (e *SQLiteExporter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		digest        TEXT PRIMARY KEY,
		created_at    TEXT NOT NULL,
		horizon_days  REAL NOT NULL,
		arrival_rate  REAL NOT NULL,
		developers    INTEGER NOT NULL,
		seed          INTEGER NOT NULL,
		config_yaml   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tickets (
		digest               TEXT NOT NULL REFERENCES runs(digest),
		ticket_id            INTEGER NOT NULL,
		arrival_time         REAL NOT NULL,
		closed_time          REAL,
		dev_cycles           INTEGER NOT NULL,
		review_cycles        INTEGER NOT NULL,
		test_cycles          INTEGER NOT NULL,
		review_reworks       INTEGER NOT NULL,
		test_reworks         INTEGER NOT NULL,
		wait_dev             REAL NOT NULL,
		wait_review          REAL NOT NULL,
		wait_testing         REAL NOT NULL,
		service_time_dev     REAL NOT NULL,
		service_time_review  REAL NOT NULL,
		service_time_testing REAL NOT NULL,
		total_wait           REAL NOT NULL,
		time_in_system       REAL NOT NULL,
		PRIMARY KEY (digest, ticket_id)
	);

	CREATE TABLE IF NOT EXISTS summary (
		digest      TEXT NOT NULL REFERENCES runs(digest),
		metric      TEXT NOT NULL,
		value       REAL NOT NULL,
		units       TEXT NOT NULL,
		description TEXT NOT NULL,
		PRIMARY KEY (digest, metric)
	);
	`
	_, err := e.db.Exec(schema)
	return err
}

// Export stores the run under digest in a single transaction. It reports
// whether the run was new.
func (e *SQLiteExporter) Export(ctx context.Context, digest string, cfg sim.Config, res *sim.Result) (bool, error) {
	var cfgYAML bytes.Buffer
	if err := WriteConfigYAML(&cfgYAML, cfg); err != nil {
		return false, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (digest, created_at, horizon_days, arrival_rate, developers, seed, config_yaml)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		digest, time.Now().UTC().Format(time.RFC3339Nano), cfg.DurationDays, cfg.ArrivalRate,
		cfg.Developers.Count, cfg.Seeds.Global, cfgYAML.String())
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	if n, err := out.RowsAffected(); err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	} else if n == 0 {
		logrus.Infof("Run %s already exported", digest)
		return false, nil
	}

	ticketStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickets (digest, ticket_id, arrival_time, closed_time, dev_cycles, review_cycles, test_cycles,
		   review_reworks, test_reworks, wait_dev, wait_review, wait_testing,
		   service_time_dev, service_time_review, service_time_testing, total_wait, time_in_system)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("prepare tickets: %w", err)
	}
	defer ticketStmt.Close()
	for _, r := range res.Records {
		var closed sql.NullFloat64
		if r.Closed {
			closed = sql.NullFloat64{Float64: r.ClosedTime, Valid: true}
		}
		_, err := ticketStmt.ExecContext(ctx, digest, r.ID, r.ArrivalTime, closed,
			r.CyclesAt(sim.StageDev), r.CyclesAt(sim.StageReview), r.CyclesAt(sim.StageTesting),
			r.ReviewReworks, r.TestReworks,
			r.WaitAt(sim.StageDev), r.WaitAt(sim.StageReview), r.WaitAt(sim.StageTesting),
			r.ServiceAt(sim.StageDev), r.ServiceAt(sim.StageReview), r.ServiceAt(sim.StageTesting),
			r.TotalWait, r.TimeInSystem)
		if err != nil {
			return false, fmt.Errorf("insert ticket %d: %w", r.ID, err)
		}
	}

	summaryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO summary (digest, metric, value, units, description) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("prepare summary: %w", err)
	}
	defer summaryStmt.Close()
	for _, m := range res.Summary.Rows() {
		if _, err := summaryStmt.ExecContext(ctx, digest, m.Metric, m.Value, m.Units, m.Description); err != nil {
			return false, fmt.Errorf("insert metric %s: %w", m.Metric, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit export: %w", err)
	}
	logrus.Infof("Exported run %s: %d tickets", digest, len(res.Records))
	return true, nil
}

// RunCount returns the number of exported runs.
func (e *SQLiteExporter) RunCount(ctx context.Context) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

// Metric reads one summary value of an exported run.
func (e *SQLiteExporter) Metric(ctx context.Context, digest, metric string) (float64, error) {
	var v float64
	err := e.db.QueryRowContext(ctx,
		`SELECT value FROM summary WHERE digest = ? AND metric = ?`, digest, metric).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("metric %s of run %s: %w", metric, digest, err)
	}
	return v, nil
}

// TicketCount returns how many ticket rows were exported for a run.
func (e *SQLiteExporter) TicketCount(ctx context.Context, digest string) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE digest = ?`, digest).Scan(&n)
	return n, err
}
