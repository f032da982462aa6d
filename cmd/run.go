package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/workflow-sim/workflow-sim/sim"
	"github.com/workflow-sim/workflow-sim/sim/report"
	"github.com/workflow-sim/workflow-sim/sim/trace"
)

type runOptions struct {
	configPath string // YAML or JSON/JSONC simulation config
	outDir     string // Directory for CSV and YAML artifacts
	sqlitePath string // Optional SQLite database to append the run to
	tracePath  string // Optional JSONL trace, zstd-compressed when ending in .zst
	traceLevel string // Trace verbosity

	// Overrides, applied only when the flag is set
	seed         int64
	horizonDays  float64
	rate         float64
	feedbackDev  float64
	feedbackTest float64
	agents       int
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one workflow simulation and write its artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Simulation config file (.yaml, .yml, .json, .jsonc)")
	f.StringVar(&opts.outDir, "out", "output", "Output directory for tickets_stats.csv, summary_stats.csv and config_used.yaml")
	f.StringVar(&opts.sqlitePath, "sqlite", "", "Append the run to this SQLite database")
	f.StringVar(&opts.tracePath, "trace", "", "Write a transition trace (JSON lines; .zst suffix compresses)")
	f.StringVar(&opts.traceLevel, "trace-level", string(trace.LevelAll), "Trace verbosity (none, tickets, all)")

	f.Int64Var(&opts.seed, "seed", 0, "Override the global seed")
	f.Float64Var(&opts.horizonDays, "horizon-days", 0, "Override duration_days")
	f.Float64Var(&opts.rate, "rate", 0, "Override arrival_rate (tickets/day)")
	f.Float64Var(&opts.feedbackDev, "feedback-dev", 0, "Override feedback.p_dev")
	f.Float64Var(&opts.feedbackTest, "feedback-test", 0, "Override feedback.p_test")
	f.IntVar(&opts.agents, "agents", 0, "Override developers.count (clears initial_states)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// applyOverrides copies every explicitly set override flag into cfg.
func (o *runOptions) applyOverrides(cfg *sim.Config, flags *pflag.FlagSet) {
	if flags.Changed("seed") {
		logrus.Infof("CLI --seed %d overrides config seed %d", o.seed, cfg.Seeds.Global)
		cfg.Seeds.Global = o.seed
	}
	if flags.Changed("horizon-days") {
		cfg.DurationDays = o.horizonDays
	}
	if flags.Changed("rate") {
		cfg.ArrivalRate = o.rate
	}
	if flags.Changed("feedback-dev") {
		cfg.Feedback.PDev = o.feedbackDev
	}
	if flags.Changed("feedback-test") {
		cfg.Feedback.PTest = o.feedbackTest
	}
	if flags.Changed("agents") {
		if len(cfg.Developers.InitialStates) > 0 {
			logrus.Warnf("--agents %d replaces the configured initial_states; states are drawn from the stationary distribution", o.agents)
		}
		cfg.Developers.Count = o.agents
		cfg.Developers.InitialStates = nil
	}
}

func (o *runOptions) run(cmd *cobra.Command) error {
	cfg, err := sim.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	o.applyOverrides(&cfg, cmd.Flags())

	rec, err := trace.Open(o.tracePath, trace.Level(o.traceLevel))
	if err != nil {
		return err
	}
	var observer sim.Observer
	if rec != nil {
		observer = rec
	}

	startTime := time.Now()
	s, err := sim.NewSimulator(cfg, observer)
	if err != nil {
		closeRecorder(rec)
		return err
	}
	res, runErr := s.Run()
	closeRecorder(rec)
	if runErr != nil {
		if res != nil && res.Summary != nil {
			logrus.Errorf("run halted at t=%.4f after %d events; partial statistics cover %d arrivals and were not written",
				s.Clock, s.EventsProcessed(), res.Summary.TicketsArrived)
		}
		return fmt.Errorf("simulation failed: %w", runErr)
	}

	digest, err := report.WriteRun(o.outDir, s.Config(), res)
	if err != nil {
		return err
	}
	if o.sqlitePath != "" {
		db, err := report.OpenSQLite(o.sqlitePath)
		if err != nil {
			return err
		}
		_, exportErr := db.Export(cmd.Context(), digest, s.Config(), res)
		if err := db.Close(); err != nil && exportErr == nil {
			exportErr = err
		}
		if exportErr != nil {
			return exportErr
		}
	}

	printSummary(cmd.OutOrStdout(), res, digest)
	logrus.Infof("Simulation complete in %s.", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func closeRecorder(rec trace.Recorder) {
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		logrus.Errorf("closing trace: %v", err)
	}
}

// printSummary writes the aggregate metrics block.
func printSummary(w io.Writer, res *sim.Result, digest string) {
	s := res.Summary
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Horizon              : %.2f days\n", s.Horizon)
	fmt.Fprintf(w, "Tickets Arrived      : %d\n", s.TicketsArrived)
	fmt.Fprintf(w, "Tickets Closed       : %d\n", s.TicketsClosed)
	fmt.Fprintf(w, "Closure Rate         : %.4f\n", s.ClosureRate)
	fmt.Fprintf(w, "Closed Throughput    : %.4f tickets/day\n", s.ThroughputClosed)
	if s.TicketsClosed > 0 {
		fmt.Fprintf(w, "Time in System       : mean %.4f, p50 %.4f, p95 %.4f days\n",
			s.TimeInSystem.Mean, s.TimeInSystem.P50, s.TimeInSystem.P95)
	}
	for _, st := range sim.ServiceStages {
		ss := s.Stage(st)
		fmt.Fprintf(w, "%-8s wait %.4f d, service %.4f d, Lq %.4f, servers %.3f, utilization %.4f\n",
			st, ss.AvgWait, ss.AvgServiceTime, ss.AvgQueueLength, ss.AvgServers, ss.Utilization)
	}
	fmt.Fprintf(w, "Rework Rates         : review %.4f, testing %.4f\n", s.ReworkRateReview, s.ReworkRateTest)
	fmt.Fprintf(w, "Agent Transitions    : %d\n", s.Diagnostics.Transitions)
	if d := s.Diagnostics; d.ChurnFallbacks+d.ReleaseAnomalies+d.ServiceSubstitutions > 0 {
		fmt.Fprintf(w, "Anomalies            : %d churn fallbacks, %d release anomalies, %d epsilon substitutions\n",
			d.ChurnFallbacks, d.ReleaseAnomalies, d.ServiceSubstitutions)
	}
	if res.Stationary != nil && res.Stationary.AccuracyRisk {
		fmt.Fprintln(w, "Warning              : stationary distribution may be biased (complex eigenpair)")
	}
	fmt.Fprintf(w, "Run Digest           : %s\n", digest)
}
