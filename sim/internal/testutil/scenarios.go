// Package testutil provides shared test infrastructure for the workflow
// simulator: scenario fixtures and float assertions used by the sim/ and
// sim/report/ test packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Scenario names under testdata/scenarios/.
const (
	// ScenarioBaseline has one developer per stage with infinite stints,
	// no feedback and inline parameters.
	ScenarioBaseline = "baseline.yaml"

	// ScenarioMarkov loads P, the stint PMFs and the fitted service
	// parameters from CSV/JSON artifacts and uses churn-weighted selection.
	ScenarioMarkov = "markov.yaml"
)

// ScenarioDir returns the absolute path of testdata/scenarios.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func ScenarioDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "scenarios")
}

// ScenarioPath returns the path of a scenario config and fails the test if
// it does not exist.
func ScenarioPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(ScenarioDir(t), name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Scenario %s not found: %v", name, err)
	}
	return path
}

// WriteFile writes content to name inside a fresh temp dir and returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
