package report

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/workflow-sim/workflow-sim/sim"
)

// WriteConfigYAML records the effective configuration of a run, after
// artifact loading and CLI overrides, so the run can be reproduced with
// `run --config config_used.yaml`.
func WriteConfigYAML(w io.Writer, cfg sim.Config) error {
	// File references are already resolved into inline values.
	cfg.ServiceParamsPath = ""
	cfg.Developers.MatrixPath = ""
	cfg.Developers.StintPaths = nil

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config YAML: %w", err)
	}
	return enc.Close()
}
