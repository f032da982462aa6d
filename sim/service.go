// Service-time sampling. Each service stage has one parametric family, a set
// of named parameters and an optional location shift. Draws are made from the
// service subsystem generator only.

package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// maxServiceRetries bounds redraws of a non-positive shifted sample.
	maxServiceRetries = 50

	// serviceEpsilon substitutes for a sample that stayed non-positive.
	serviceEpsilon = 1e-6
)

// Distribution family names accepted in configuration.
const (
	FamilyLogNormal   = "lognormal"
	FamilyWeibull     = "weibull"
	FamilyGamma       = "gamma"
	FamilyExponential = "exponential"
	FamilyNormal      = "normal"
	FamilyPareto      = "pareto"
)

// familyAliases maps alternative spellings (including SciPy names) to a family.
var familyAliases = map[string]string{
	"lognormal":   FamilyLogNormal,
	"lognorm":     FamilyLogNormal,
	"weibull":     FamilyWeibull,
	"weibull_min": FamilyWeibull,
	"gamma":       FamilyGamma,
	"exponential": FamilyExponential,
	"expon":       FamilyExponential,
	"normal":      FamilyNormal,
	"norm":        FamilyNormal,
	"pareto":      FamilyPareto,
}

// ServiceSpec configures the service-time distribution of one stage.
//
// Parameters per family (aliases in parentheses):
//   - lognormal: mu, sigma (s); or scale instead of mu, with mu = ln(scale)
//   - weibull: shape (c, k), scale (lambda)
//   - gamma: shape (a, alpha), scale; or rate instead of scale
//   - exponential: scale; or rate
//   - normal: mu, sigma
//   - pareto: shape (b, alpha), scale (xm)
//
// Loc shifts every draw: sample = loc + draw.
type ServiceSpec struct {
	Family string             `yaml:"family" json:"family"`
	Params map[string]float64 `yaml:"params" json:"params"`
	Loc    float64            `yaml:"loc,omitempty" json:"loc,omitempty"`
}

// sampler is the subset of gonum's univariate distributions used here.
type sampler interface {
	Rand() float64
	Mean() float64
}

func (s ServiceSpec) param(names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := s.Params[n]; ok {
			return v, true
		}
	}
	return 0, false
}

func (s ServiceSpec) positive(names ...string) (float64, error) {
	v, ok := s.param(names...)
	if !ok {
		return 0, configErrorf("%s distribution missing parameter %s", s.Family, names[0])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, configErrorf("%s parameter %s=%v must be positive and finite", s.Family, names[0], v)
	}
	return v, nil
}

func (s ServiceSpec) finite(names ...string) (float64, error) {
	v, ok := s.param(names...)
	if !ok {
		return 0, configErrorf("%s distribution missing parameter %s", s.Family, names[0])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, configErrorf("%s parameter %s=%v must be finite", s.Family, names[0], v)
	}
	return v, nil
}

// Validate checks the family is known and its parameters are well formed.
func (s ServiceSpec) Validate() error {
	_, err := s.build(nil)
	return err
}

// build turns the ServiceSpec into a gonum distribution drawing from src.
func (s ServiceSpec) build(src rand.Source) (sampler, error) {
	if math.IsNaN(s.Loc) || math.IsInf(s.Loc, 0) {
		return nil, configErrorf("loc=%v must be finite", s.Loc)
	}
	family, ok := familyAliases[strings.ToLower(s.Family)]
	if !ok {
		return nil, configErrorf("unknown service distribution family %q", s.Family)
	}
	switch family {
	case FamilyLogNormal:
		sigma, err := s.positive("sigma", "s")
		if err != nil {
			return nil, err
		}
		var mu float64
		if _, ok := s.param("mu"); ok {
			if mu, err = s.finite("mu"); err != nil {
				return nil, err
			}
		} else {
			scale, err := s.positive("scale")
			if err != nil {
				return nil, configErrorf("lognormal distribution needs mu or scale")
			}
			mu = math.Log(scale)
		}
		return distuv.LogNormal{Mu: mu, Sigma: sigma, Src: src}, nil
	case FamilyWeibull:
		k, err := s.positive("shape", "c", "k")
		if err != nil {
			return nil, err
		}
		lambda, err := s.positive("scale", "lambda")
		if err != nil {
			return nil, err
		}
		return distuv.Weibull{K: k, Lambda: lambda, Src: src}, nil
	case FamilyGamma:
		alpha, err := s.positive("shape", "a", "alpha")
		if err != nil {
			return nil, err
		}
		var rate float64
		if _, ok := s.param("rate"); ok {
			if rate, err = s.positive("rate"); err != nil {
				return nil, err
			}
		} else {
			scale, err := s.positive("scale")
			if err != nil {
				return nil, err
			}
			rate = 1 / scale
		}
		return distuv.Gamma{Alpha: alpha, Beta: rate, Src: src}, nil
	case FamilyExponential:
		var rate float64
		if _, ok := s.param("rate"); ok {
			r, err := s.positive("rate")
			if err != nil {
				return nil, err
			}
			rate = r
		} else {
			scale, err := s.positive("scale")
			if err != nil {
				return nil, configErrorf("exponential distribution needs scale or rate")
			}
			rate = 1 / scale
		}
		return distuv.Exponential{Rate: rate, Src: src}, nil
	case FamilyNormal:
		mu, err := s.finite("mu", "mean")
		if err != nil {
			return nil, err
		}
		sigma, err := s.positive("sigma", "std")
		if err != nil {
			return nil, err
		}
		return distuv.Normal{Mu: mu, Sigma: sigma, Src: src}, nil
	case FamilyPareto:
		alpha, err := s.positive("shape", "b", "alpha")
		if err != nil {
			return nil, err
		}
		xm, err := s.positive("scale", "xm")
		if err != nil {
			return nil, err
		}
		return distuv.Pareto{Xm: xm, Alpha: alpha, Src: src}, nil
	}
	return nil, configErrorf("unknown service distribution family %q", s.Family)
}

// ServiceTimeSampler draws service durations per stage.
type ServiceTimeSampler struct {
	dists map[Stage]sampler
	specs map[Stage]ServiceSpec

	retries       int
	substitutions int
}

// NewServiceTimeSampler builds one distribution per service stage. Every
// service stage must be configured.
func NewServiceTimeSampler(specs map[Stage]ServiceSpec, rng *rand.Rand) (*ServiceTimeSampler, error) {
	s := &ServiceTimeSampler{
		dists: make(map[Stage]sampler, len(specs)),
		specs: make(map[Stage]ServiceSpec, len(specs)),
	}
	for _, st := range ServiceStages {
		spec, ok := specs[st]
		if !ok {
			return nil, configErrorf("no service distribution configured for stage %s", st)
		}
		d, err := spec.build(rng)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st, err)
		}
		s.dists[st] = d
		s.specs[st] = spec
	}
	return s, nil
}

// Sample returns a strictly positive service time for stage. A shifted draw
// that is not positive is redrawn up to maxServiceRetries times before
// serviceEpsilon is substituted.
func (s *ServiceTimeSampler) Sample(stage Stage) (float64, error) {
	d, ok := s.dists[stage]
	if !ok {
		return 0, fmt.Errorf("no service distribution for stage %s", stage)
	}
	loc := s.specs[stage].Loc
	for attempt := 0; attempt <= maxServiceRetries; attempt++ {
		v := loc + d.Rand()
		if v > 0 && !math.IsNaN(v) {
			return v, nil
		}
		if attempt < maxServiceRetries {
			s.retries++
		}
	}
	s.substitutions++
	logrus.Warnf("service time for %s stayed non-positive after %d retries; using %g", stage, maxServiceRetries, serviceEpsilon)
	return serviceEpsilon, nil
}

// Mean returns loc plus the analytic mean of the stage's distribution.
// It ignores the truncation applied by Sample.
func (s *ServiceTimeSampler) Mean(stage Stage) float64 {
	d, ok := s.dists[stage]
	if !ok {
		return math.NaN()
	}
	return s.specs[stage].Loc + d.Mean()
}

// Retries is the number of redraws caused by non-positive samples.
func (s *ServiceTimeSampler) Retries() int { return s.retries }

// Substitutions is the number of times serviceEpsilon was used.
func (s *ServiceTimeSampler) Substitutions() int { return s.substitutions }

// === Upstream fitted parameters ===

type serviceParamsFile struct {
	Version    string `json:"version"`
	Parameters map[string]struct {
		Distribution string   `json:"distribution"`
		Mu           *float64 `json:"mu"`
		Sigma        *float64 `json:"sigma"`
		N            int      `json:"n"`
	} `json:"parameters"`
}

// LoadServiceParamsJSON reads fitted per-state service parameters (keys DEV,
// REV, TEST) from a JSON file that may carry // comment lines. States whose
// fit has no data (null mu or sigma) are skipped with a warning.
func LoadServiceParamsJSON(path string) (map[Stage]ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service params: %w", err)
	}
	var file serviceParamsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, configErrorf("parsing service params %s: %v", path, err)
	}

	keys := make([]string, 0, len(file.Parameters))
	for k := range file.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[Stage]ServiceSpec)
	for _, key := range keys {
		p := file.Parameters[key]
		state, err := ParseDevState(strings.ToUpper(key))
		if err != nil {
			return nil, configErrorf("service params %s: %v", path, err)
		}
		stage, ok := state.Stage()
		if !ok {
			logrus.Warnf("service params %s: ignoring non-productive state %s", path, state)
			continue
		}
		if p.Mu == nil || p.Sigma == nil {
			logrus.Warnf("service params %s: no fit for %s (n=%d), skipping", path, state, p.N)
			continue
		}
		family := p.Distribution
		if family == "" {
			family = FamilyLogNormal
		}
		out[stage] = ServiceSpec{
			Family: family,
			Params: map[string]float64{"mu": *p.Mu, "sigma": *p.Sigma},
		}
	}
	logrus.Infof("Loaded service parameters %s from %s for %d stages", file.Version, path, len(out))
	return out, nil
}
