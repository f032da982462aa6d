package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the static numeric configuration consumed once at start-up.
type Config struct {
	DurationDays float64        `yaml:"duration_days" json:"duration_days"`
	ArrivalRate  float64        `yaml:"arrival_rate" json:"arrival_rate"` // tickets per day
	Feedback     FeedbackConfig `yaml:"feedback" json:"feedback"`

	// Service maps a stage name (dev, review, testing) to its distribution.
	Service map[string]ServiceSpec `yaml:"service" json:"service"`
	// ServiceParamsPath optionally points at fitted lognormal parameters;
	// they fill stages missing from Service.
	ServiceParamsPath string `yaml:"service_params_path,omitempty" json:"service_params_path,omitempty"`

	Developers DevelopersConfig `yaml:"developers" json:"developers"`
	Selection  SelectionConfig  `yaml:"selection" json:"selection"`
	Churn      ChurnConfig      `yaml:"churn" json:"churn"`
	Seeds      SeedConfig       `yaml:"seeds" json:"seeds"`
	Invariants InvariantConfig  `yaml:"invariants" json:"invariants"`
}

// DevelopersConfig describes the semi-Markov developer pool.
type DevelopersConfig struct {
	Count int `yaml:"count" json:"count"`

	// InitialStates fixes the number of agents per state (OFF, DEV, REV,
	// TEST). When empty, states are drawn from the stationary distribution.
	InitialStates map[string]int `yaml:"initial_states,omitempty" json:"initial_states,omitempty"`

	// TransitionMatrix rows and columns follow OFF, DEV, REV, TEST.
	TransitionMatrix [][]float64        `yaml:"transition_matrix,omitempty" json:"transition_matrix,omitempty"`
	StintPMFs        map[string]StintPMF `yaml:"stint_pmfs,omitempty" json:"stint_pmfs,omitempty"`

	// MatrixPath and StintPaths load the same inputs from CSV files;
	// inline values take precedence.
	MatrixPath string            `yaml:"matrix_path,omitempty" json:"matrix_path,omitempty"`
	StintPaths map[string]string `yaml:"stint_paths,omitempty" json:"stint_paths,omitempty"`
}

// SelectionConfig chooses the queue discipline.
type SelectionConfig struct {
	Policy         SelectionPolicy    `yaml:"policy" json:"policy"`
	OnMissingChurn MissingChurnPolicy `yaml:"on_missing_churn" json:"on_missing_churn"`
	Weights        ChurnWeights       `yaml:"weights" json:"weights"`
}

// SeedConfig holds the global seed and optional per-subsystem overrides.
type SeedConfig struct {
	Global   int64  `yaml:"global" json:"global"`
	Arrivals *int64 `yaml:"arrivals,omitempty" json:"arrivals,omitempty"`
	Service  *int64 `yaml:"service,omitempty" json:"service,omitempty"`
	State    *int64 `yaml:"state,omitempty" json:"state,omitempty"`
	Routing  *int64 `yaml:"routing,omitempty" json:"routing,omitempty"`
	Churn    *int64 `yaml:"churn,omitempty" json:"churn,omitempty"`
}

// InvariantConfig sets the tolerances of the run-time checks.
type InvariantConfig struct {
	Epsilon            float64 `yaml:"epsilon" json:"epsilon"`
	LittleRelTolerance float64 `yaml:"little_rel_tolerance" json:"little_rel_tolerance"`
}

// DefaultConfig returns the values used for any field a config file omits.
func DefaultConfig() Config {
	return Config{
		Selection: SelectionConfig{
			Policy:         SelectFIFO,
			OnMissingChurn: MissingChurnFIFO,
			Weights:        ChurnWeights{Add: 1, Mod: 1, Del: 1},
		},
		Seeds: SeedConfig{Global: 42},
		Invariants: InvariantConfig{
			Epsilon:            1e-9,
			LittleRelTolerance: 0.05,
		},
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON/JSONC (.json, .jsonc) file on
// top of DefaultConfig. Unknown fields are rejected. Relative artifact paths
// are resolved against the config file's directory and loaded. The result is
// not validated; NewSimulator does that.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing config YAML %s: %v", ErrInvalidConfig, path, err)
		}
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing config JSON %s: %v", ErrInvalidConfig, path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config extension %q (want .yaml, .yml, .json or .jsonc)", ErrInvalidConfig, filepath.Ext(path))
	}
	if err := cfg.LoadArtifacts(filepath.Dir(path)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// LoadArtifacts fills the transition matrix, stint PMFs and service specs
// from the referenced files wherever they are not given inline.
func (c *Config) LoadArtifacts(baseDir string) error {
	d := &c.Developers
	if len(d.TransitionMatrix) == 0 && d.MatrixPath != "" {
		p, err := LoadTransitionMatrixCSV(resolve(baseDir, d.MatrixPath))
		if err != nil {
			return err
		}
		d.TransitionMatrix = make([][]float64, NumStates)
		for i := range p {
			d.TransitionMatrix[i] = append([]float64(nil), p[i][:]...)
		}
	}
	for _, name := range sortedKeys(d.StintPaths) {
		if _, ok := d.StintPMFs[name]; ok {
			continue
		}
		pmf, err := LoadStintPMFCSV(resolve(baseDir, d.StintPaths[name]))
		if err != nil {
			return err
		}
		if d.StintPMFs == nil {
			d.StintPMFs = make(map[string]StintPMF)
		}
		d.StintPMFs[name] = pmf
	}
	if c.ServiceParamsPath != "" {
		fitted, err := LoadServiceParamsJSON(resolve(baseDir, c.ServiceParamsPath))
		if err != nil {
			return err
		}
		for _, st := range ServiceStages {
			spec, ok := fitted[st]
			if !ok {
				continue
			}
			if _, set := c.Service[st.String()]; set {
				continue
			}
			if c.Service == nil {
				c.Service = make(map[string]ServiceSpec)
			}
			c.Service[st.String()] = spec
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matrix converts the configured rows into a TransitionMatrix.
func (c Config) Matrix() (TransitionMatrix, error) {
	var p TransitionMatrix
	rows := c.Developers.TransitionMatrix
	if len(rows) != NumStates {
		return p, configErrorf("transition matrix has %d rows, want %d", len(rows), NumStates)
	}
	for i, row := range rows {
		if len(row) != NumStates {
			return p, configErrorf("transition matrix row %s has %d columns, want %d", AllStates[i], len(row), NumStates)
		}
		copy(p[i][:], row)
	}
	return p, p.Validate()
}

// PMFs returns the stint PMF of every state.
func (c Config) PMFs() ([NumStates]StintPMF, error) {
	var out [NumStates]StintPMF
	for _, name := range sortedKeys(c.Developers.StintPMFs) {
		if _, err := ParseDevState(name); err != nil {
			return out, configErrorf("stint_pmfs: %v", err)
		}
	}
	for _, s := range AllStates {
		pmf, ok := c.Developers.StintPMFs[s.String()]
		if !ok {
			return out, configErrorf("no stint PMF for state %s", s)
		}
		if err := pmf.Validate(); err != nil {
			return out, fmt.Errorf("state %s: %w", s, err)
		}
		out[s] = pmf
	}
	return out, nil
}

// InitialStateCounts returns nil when initial states are to be drawn.
func (c Config) InitialStateCounts() (map[DevState]int, error) {
	if len(c.Developers.InitialStates) == 0 {
		return nil, nil
	}
	out := make(map[DevState]int, NumStates)
	total := 0
	for _, name := range sortedKeys(c.Developers.InitialStates) {
		s, err := ParseDevState(name)
		if err != nil {
			return nil, configErrorf("initial_states: %v", err)
		}
		n := c.Developers.InitialStates[name]
		if n < 0 {
			return nil, configErrorf("initial_states: %s count %d is negative", name, n)
		}
		out[s] = n
		total += n
	}
	if total != c.Developers.Count {
		return nil, configErrorf("initial_states sum to %d but developers.count is %d", total, c.Developers.Count)
	}
	return out, nil
}

// ServiceSpecs returns the distribution of every service stage.
func (c Config) ServiceSpecs() (map[Stage]ServiceSpec, error) {
	out := make(map[Stage]ServiceSpec, len(ServiceStages))
	for _, name := range sortedKeys(c.Service) {
		st, err := ParseStage(name)
		if err != nil || !st.IsService() {
			return nil, configErrorf("service: %q is not a service stage (want dev, review or testing)", name)
		}
		spec := c.Service[name]
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		out[st] = spec
	}
	for _, st := range ServiceStages {
		if _, ok := out[st]; !ok {
			return nil, configErrorf("no service distribution configured for stage %s", st)
		}
	}
	return out, nil
}

func checkProbability(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return configErrorf("%s=%v outside [0,1]", name, v)
	}
	return nil
}

// Validate reports the first configuration error, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if math.IsNaN(c.DurationDays) || math.IsInf(c.DurationDays, 0) || c.DurationDays <= 0 {
		return configErrorf("duration_days=%v must be positive and finite", c.DurationDays)
	}
	if math.IsNaN(c.ArrivalRate) || math.IsInf(c.ArrivalRate, 0) || c.ArrivalRate <= 0 {
		return configErrorf("arrival_rate=%v must be positive and finite", c.ArrivalRate)
	}
	if err := checkProbability("feedback.p_dev", c.Feedback.PDev); err != nil {
		return err
	}
	if err := checkProbability("feedback.p_test", c.Feedback.PTest); err != nil {
		return err
	}
	if _, err := c.ServiceSpecs(); err != nil {
		return err
	}
	if c.Developers.Count < 0 {
		return configErrorf("developers.count=%d is negative", c.Developers.Count)
	}
	if _, err := c.Matrix(); err != nil {
		return err
	}
	if _, err := c.PMFs(); err != nil {
		return err
	}
	if _, err := c.InitialStateCounts(); err != nil {
		return err
	}
	if _, err := NewTicketSelector(c.Selection.Policy, c.Selection.OnMissingChurn, c.Selection.Weights, nil); err != nil {
		return err
	}
	if err := c.Churn.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.Invariants.Epsilon) || c.Invariants.Epsilon < 0 {
		return configErrorf("invariants.epsilon=%v must be non-negative", c.Invariants.Epsilon)
	}
	if math.IsNaN(c.Invariants.LittleRelTolerance) || c.Invariants.LittleRelTolerance <= 0 {
		return configErrorf("invariants.little_rel_tolerance=%v must be positive", c.Invariants.LittleRelTolerance)
	}
	return nil
}

// NewRNG builds the partitioned generator described by the seed set.
func (c Config) NewRNG() *PartitionedRNG {
	rng := NewPartitionedRNG(NewSimulationKey(c.Seeds.Global))
	overrides := []struct {
		name string
		seed *int64
	}{
		{SubsystemArrivals, c.Seeds.Arrivals},
		{SubsystemService, c.Seeds.Service},
		{SubsystemState, c.Seeds.State},
		{SubsystemRouting, c.Seeds.Routing},
		{SubsystemChurn, c.Seeds.Churn},
	}
	for _, o := range overrides {
		if o.seed != nil {
			rng.WithSeed(o.name, *o.seed)
		}
	}
	for _, name := range Subsystems {
		logrus.Debugf("RNG subsystem %s seeded with %d", name, rng.SeedFor(name))
	}
	return rng
}
