// Package report turns a simulation result into its emitted artifacts:
// tickets_stats.csv, summary_stats.csv and config_used.yaml. It also
// fingerprints runs, exports them to SQLite and re-checks the artifacts of
// a finished run against each other.
package report

// Artifact file names inside a run's output directory.
const (
	TicketsFilename = "tickets_stats.csv"
	SummaryFilename = "summary_stats.csv"
	ConfigFilename  = "config_used.yaml"
	ReportFilename  = "verification_report.md"
)
