package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	logLevel string // Log verbosity level
	logFile  string // Optional file mirroring stderr logging

	logHandle *os.File
}

// NewRootCmd builds the CLI. Each call returns an independent command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "workflow-sim",
		Short:         "Discrete-event simulator for software-issue workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also append log output to this file")

	root.AddCommand(newRunCmd(), newCalibrateCmd(), newVerifyCmd())
	return root, opts
}

// execute runs root and releases the log file even when the command failed;
// cobra skips post-run hooks on error.
func (o *rootOptions) execute(root *cobra.Command) error {
	defer o.closeLog()
	return root.Execute()
}

func (o *rootOptions) setupLogging(stderr io.Writer) error {
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(stderr)
	if o.logFile == "" {
		return nil
	}
	f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	o.logHandle = f
	logrus.SetOutput(io.MultiWriter(stderr, f))
	return nil
}

func (o *rootOptions) closeLog() {
	if o.logHandle == nil {
		return
	}
	logrus.SetOutput(os.Stderr)
	if err := o.logHandle.Close(); err != nil {
		logrus.Warnf("closing log file: %v", err)
	}
	o.logHandle = nil
}

// Execute runs the CLI root command
func Execute() {
	root, opts := newRootCmd()
	if err := opts.execute(root); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
