package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/workflow-sim/workflow-sim/sim/report"
)

type verifyOptions struct {
	inputDir    string
	writeReport bool
	opts        report.VerifyOptions
}

func newVerifyCmd() *cobra.Command {
	o := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check a run's summary against its per-ticket microdata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep := report.VerifyDir(o.inputDir, o.opts)
			w := cmd.OutOrStdout()
			for _, c := range rep.Results {
				status := "PASS"
				if !c.Passed {
					status = "FAIL"
				}
				fmt.Fprintf(w, "[%s] %s: %s\n", status, c.Name, c.Details)
			}
			if o.writeReport {
				if err := writeVerifyReport(rep, filepath.Join(o.inputDir, report.ReportFilename)); err != nil {
					return err
				}
			}
			if n := len(rep.Failures()); n > 0 {
				return fmt.Errorf("verification failed: %d of %d checks failed", n, len(rep.Results))
			}
			fmt.Fprintf(w, "All %d checks passed.\n", len(rep.Results))
			return nil
		},
	}
	defaults := report.DefaultVerifyOptions()
	cmd.Flags().StringVar(&o.inputDir, "input", "output", "Run output directory containing summary_stats.csv and tickets_stats.csv")
	cmd.Flags().Float64Var(&o.opts.Tolerance, "tolerance", defaults.Tolerance, "Tolerance for floating-point comparisons")
	cmd.Flags().Float64Var(&o.opts.LittleRelTolerance, "little-rel-tolerance", defaults.LittleRelTolerance, "Relative tolerance of the mean-jobs identity")
	cmd.Flags().BoolVar(&o.writeReport, "report", true, "Write verification_report.md into the input directory")
	return cmd
}

func writeVerifyReport(rep *report.VerifyReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating verification report: %w", err)
	}
	if err := rep.WriteMarkdown(f); err != nil {
		f.Close()
		return fmt.Errorf("writing verification report: %w", err)
	}
	logrus.Infof("Verification report written to %s", path)
	return f.Close()
}
