// Semi-Markov inputs: the developer transition matrix P, per-state stint-length
// PMFs, the stationary distribution of P and loaders for the CSV artifacts
// produced by the upstream parameter estimation step.

package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// probabilityTolerance bounds |Σ - 1| for P rows and stint PMFs.
const probabilityTolerance = 1e-6

// TransitionMatrix is the row-stochastic matrix of developer state changes,
// indexed in AllStates order.
type TransitionMatrix [NumStates][NumStates]float64

// Row returns the transition probabilities out of state s.
func (p TransitionMatrix) Row(s DevState) []float64 {
	row := p[s]
	return row[:]
}

// Validate checks that every entry is a probability and every row sums to 1.
func (p TransitionMatrix) Validate() error {
	for i, row := range p {
		for j, v := range row {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return configErrorf("transition matrix entry P[%s][%s]=%v outside [0,1]", AllStates[i], AllStates[j], v)
			}
		}
		if sum := floats.Sum(row[:]); math.Abs(sum-1) > probabilityTolerance {
			return configErrorf("transition matrix row %s sums to %.9f, want 1", AllStates[i], sum)
		}
	}
	return nil
}

// StintPMF is a discrete distribution over stint lengths in days.
// A length of +Inf is allowed and means the agent never leaves the state.
type StintPMF struct {
	Lengths []float64 `yaml:"lengths" json:"lengths"`
	Probs   []float64 `yaml:"probs" json:"probs"`
}

// Validate checks lengths are at least minStint and probabilities sum to 1.
func (s StintPMF) Validate() error {
	if len(s.Lengths) == 0 {
		return configErrorf("stint PMF is empty")
	}
	if len(s.Lengths) != len(s.Probs) {
		return configErrorf("stint PMF has %d lengths but %d probabilities", len(s.Lengths), len(s.Probs))
	}
	for i, l := range s.Lengths {
		if math.IsNaN(l) || l < minStint {
			return configErrorf("stint length %v at index %d must be at least %g days", l, i, minStint)
		}
		if p := s.Probs[i]; math.IsNaN(p) || p < 0 || p > 1 {
			return configErrorf("stint probability %v at index %d outside [0,1]", p, i)
		}
	}
	if sum := floats.Sum(s.Probs); math.Abs(sum-1) > probabilityTolerance {
		return configErrorf("stint PMF sums to %.9f, want 1", sum)
	}
	return nil
}

// Mean returns the expected stint length; +Inf if any infinite length has mass.
func (s StintPMF) Mean() float64 {
	var m float64
	for i, l := range s.Lengths {
		if s.Probs[i] == 0 {
			continue
		}
		m += l * s.Probs[i]
	}
	return m
}

// drawIndex samples an index with probability proportional to weights.
func drawIndex(weights []float64, rng *rand.Rand) (int, bool) {
	return sampleuv.NewWeighted(weights, rng).Take()
}

// StationaryDiagnostics reports how the stationary distribution was obtained.
type StationaryDiagnostics struct {
	Eigenvalue complex128

	// MaxImag is the largest |imag| among the chosen eigenvector's entries.
	MaxImag float64

	// Corrected is set when negative entries were absolute-valued and renormalised.
	Corrected bool

	// AccuracyRisk is set when the eigenvalue or eigenvector carried a
	// non-trivial imaginary part.
	AccuracyRisk bool

	Distribution []float64
}

// imagTolerance separates round-off from a genuinely complex eigenpair.
const imagTolerance = 1e-9

// StationaryDistribution returns π with πP = π, taken as the eigenvector of
// Pᵀ whose eigenvalue is closest to 1. Only the real part is used. Negative
// entries are replaced by their absolute values and the vector renormalised;
// when the selected eigenpair has a non-trivial imaginary part this can bias
// π, so AccuracyRisk is set and a warning logged.
func StationaryDistribution(p TransitionMatrix) ([]float64, StationaryDiagnostics, error) {
	var diag StationaryDiagnostics

	pt := mat.NewDense(NumStates, NumStates, nil)
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			pt.Set(j, i, p[i][j])
		}
	}
	var eig mat.Eigen
	if ok := eig.Factorize(pt, mat.EigenRight); !ok {
		return nil, diag, fmt.Errorf("%w: eigendecomposition of transition matrix failed", ErrInvalidConfig)
	}
	values := eig.Values(nil)
	best := 0
	for i, v := range values {
		if cmplx.Abs(v-1) < cmplx.Abs(values[best]-1) {
			best = i
		}
	}
	diag.Eigenvalue = values[best]

	var vecs mat.CDense
	eig.VectorsTo(&vecs)
	pi := make([]float64, NumStates)
	for i := range pi {
		c := vecs.At(i, best)
		pi[i] = real(c)
		diag.MaxImag = math.Max(diag.MaxImag, math.Abs(imag(c)))
	}

	corrected, err := normalizeDistribution(pi)
	if err != nil {
		return nil, diag, err
	}
	diag.Corrected = corrected
	diag.AccuracyRisk = accuracyRisk(diag.Eigenvalue, diag.MaxImag)
	diag.Distribution = pi
	return pi, diag, nil
}

// normalizeDistribution scales v in place to sum to 1. If any entry is then
// negative, every entry is replaced by its absolute value and v rescaled;
// the return value reports that correction.
func normalizeDistribution(v []float64) (bool, error) {
	sum := floats.Sum(v)
	if sum == 0 || math.IsNaN(sum) {
		return false, fmt.Errorf("%w: stationary eigenvector of transition matrix sums to %v", ErrInvalidConfig, sum)
	}
	floats.Scale(1/sum, v)
	if floats.Min(v) >= 0 {
		return false, nil
	}
	for i, x := range v {
		v[i] = math.Abs(x)
	}
	floats.Scale(1/floats.Sum(v), v)
	return true, nil
}

// accuracyRisk reports, and warns about, an eigenpair whose imaginary part
// is above round-off.
func accuracyRisk(eigenvalue complex128, maxImag float64) bool {
	if math.Abs(imag(eigenvalue)) <= imagTolerance && maxImag <= imagTolerance {
		return false
	}
	logrus.Warnf("stationary distribution may be biased: eigenvalue %v, max imaginary component %.3g; only real parts were used",
		eigenvalue, maxImag)
	return true
}

// === CSV loaders ===

// readCSVRecords parses CSV from r, dropping blank lines and '#' comment lines.
func readCSVRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

// LoadTransitionMatrixCSV reads a state-labelled matrix (OFF, DEV, REV, TEST
// rows) as written by the parameter estimation step. Header and comment lines
// are skipped; rows appear in any order but all four must be present.
func LoadTransitionMatrixCSV(path string) (TransitionMatrix, error) {
	var p TransitionMatrix
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("opening transition matrix: %w", err)
	}
	defer f.Close()

	records, err := readCSVRecords(f)
	if err != nil {
		return p, fmt.Errorf("reading transition matrix %s: %w", path, err)
	}
	var seen [NumStates]bool
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		state, err := ParseDevState(strings.ToUpper(strings.TrimSpace(rec[0])))
		if err != nil {
			// header row or unrelated label
			continue
		}
		if len(rec) != NumStates+1 {
			return p, configErrorf("transition matrix %s: row %s has %d values, want %d", path, state, len(rec)-1, NumStates)
		}
		for j := 0; j < NumStates; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64)
			if err != nil {
				return p, configErrorf("transition matrix %s: row %s: %v", path, state, err)
			}
			p[state][j] = v
		}
		seen[state] = true
	}
	for i, ok := range seen {
		if !ok {
			return p, configErrorf("transition matrix %s: missing row %s (matrix must be 4x4)", path, AllStates[i])
		}
	}
	logrus.Infof("Loaded transition matrix from %s", path)
	return p, nil
}

// LoadStintPMFCSV reads a "length,prob" table. Lengths may be "inf".
func LoadStintPMFCSV(path string) (StintPMF, error) {
	var pmf StintPMF
	f, err := os.Open(path)
	if err != nil {
		return pmf, fmt.Errorf("opening stint PMF: %w", err)
	}
	defer f.Close()

	records, err := readCSVRecords(f)
	if err != nil {
		return pmf, fmt.Errorf("reading stint PMF %s: %w", path, err)
	}
	if len(records) == 0 {
		return pmf, configErrorf("stint PMF %s is empty", path)
	}
	lengthCol, probCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "length":
			lengthCol = i
		case "prob":
			probCol = i
		}
	}
	if lengthCol < 0 || probCol < 0 {
		return pmf, configErrorf("stint PMF %s: header must contain length and prob columns", path)
	}
	for n, rec := range records[1:] {
		if len(rec) <= lengthCol || len(rec) <= probCol {
			return pmf, configErrorf("stint PMF %s: row %d is short", path, n+2)
		}
		l, err := strconv.ParseFloat(strings.TrimSpace(rec[lengthCol]), 64)
		if err != nil {
			return pmf, configErrorf("stint PMF %s: row %d: %v", path, n+2, err)
		}
		pr, err := strconv.ParseFloat(strings.TrimSpace(rec[probCol]), 64)
		if err != nil {
			return pmf, configErrorf("stint PMF %s: row %d: %v", path, n+2, err)
		}
		pmf.Lengths = append(pmf.Lengths, l)
		pmf.Probs = append(pmf.Probs, pr)
	}
	if len(pmf.Lengths) == 0 {
		return pmf, configErrorf("stint PMF %s has no entries", path)
	}
	logrus.Infof("Loaded %d stint entries from %s", len(pmf.Lengths), path)
	return pmf, nil
}
