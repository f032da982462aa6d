package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// Churn is the code change associated with a ticket, in lines.
type Churn struct {
	Added    float64
	Modified float64
	Deleted  float64
}

// ChurnWeights scale each churn component into a selection weight.
type ChurnWeights struct {
	Add float64 `yaml:"add" json:"add"`
	Mod float64 `yaml:"mod" json:"mod"`
	Del float64 `yaml:"del" json:"del"`
}

// Weight returns add×W_add + mod×W_mod + del×W_del, clamped at zero.
func (c Churn) Weight(w ChurnWeights) float64 {
	return math.Max(0, c.Added*w.Add+c.Modified*w.Mod+c.Deleted*w.Del)
}

// === Selection policy ===

// SelectionPolicy names how a queued ticket is picked when several wait.
type SelectionPolicy string

const (
	SelectFIFO          SelectionPolicy = "fifo"
	SelectChurnWeighted SelectionPolicy = "churn_weighted"
)

// MissingChurnPolicy decides what churn-weighted selection does when a
// candidate has no churn metadata.
type MissingChurnPolicy string

const (
	// MissingChurnFIFO serves the head of the queue whenever any candidate lacks churn.
	MissingChurnFIFO MissingChurnPolicy = "fifo"

	// MissingChurnZeroWeight gives candidates without churn a weight of zero.
	MissingChurnZeroWeight MissingChurnPolicy = "zero_weight"
)

// TicketSelector picks the next ticket out of a non-empty candidate list.
type TicketSelector struct {
	policy    SelectionPolicy
	onMissing MissingChurnPolicy
	weights   ChurnWeights
	rng       *rand.Rand

	fallbacks int
}

// NewTicketSelector validates the policy pair. rng is the routing generator.
func NewTicketSelector(policy SelectionPolicy, onMissing MissingChurnPolicy, weights ChurnWeights, rng *rand.Rand) (*TicketSelector, error) {
	switch policy {
	case SelectFIFO, SelectChurnWeighted:
	default:
		return nil, configErrorf("unknown selection policy %q", policy)
	}
	switch onMissing {
	case MissingChurnFIFO, MissingChurnZeroWeight:
	default:
		return nil, configErrorf("unknown on_missing_churn %q", onMissing)
	}
	for _, w := range []float64{weights.Add, weights.Mod, weights.Del} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, configErrorf("churn weight %v must be finite", w)
		}
	}
	return &TicketSelector{policy: policy, onMissing: onMissing, weights: weights, rng: rng}, nil
}

// Select returns the index of the chosen entry.
func (ts *TicketSelector) Select(entries []QueueEntry) int {
	if len(entries) <= 1 || ts.policy == SelectFIFO {
		return 0
	}
	weights := make([]float64, len(entries))
	for i, e := range entries {
		if e.Ticket.Churn == nil {
			if ts.onMissing == MissingChurnFIFO {
				ts.fallbacks++
				logrus.Debugf("churn metadata missing for ticket %d; serving queue head", e.Ticket.ID)
				return 0
			}
			continue
		}
		weights[i] = e.Ticket.Churn.Weight(ts.weights)
	}
	idx, ok := drawIndex(weights, ts.rng)
	if !ok {
		ts.fallbacks++
		logrus.Debugf("churn weights sum to zero over %d candidates; serving queue head", len(entries))
		return 0
	}
	return idx
}

// Fallbacks counts churn-weighted selections that were served FIFO instead.
func (ts *TicketSelector) Fallbacks() int { return ts.fallbacks }

func (ts *TicketSelector) String() string {
	if ts.policy == SelectFIFO {
		return string(SelectFIFO)
	}
	return fmt.Sprintf("%s (on_missing_churn=%s, weights add=%g mod=%g del=%g)",
		ts.policy, ts.onMissing, ts.weights.Add, ts.weights.Mod, ts.weights.Del)
}

// === Churn generation ===

// LogNormalParams parameterises a lognormal line count.
type LogNormalParams struct {
	Mu    float64 `yaml:"mu" json:"mu"`
	Sigma float64 `yaml:"sigma" json:"sigma"`
}

// ChurnConfig describes synthetic churn attached to arriving tickets.
type ChurnConfig struct {
	// PresenceProbability is the chance a ticket carries churn metadata.
	PresenceProbability float64         `yaml:"presence_probability" json:"presence_probability"`
	Added               LogNormalParams `yaml:"added" json:"added"`
	Modified            LogNormalParams `yaml:"modified" json:"modified"`
	Deleted             LogNormalParams `yaml:"deleted" json:"deleted"`
}

// Validate checks the probability and lognormal scales.
func (c ChurnConfig) Validate() error {
	if math.IsNaN(c.PresenceProbability) || c.PresenceProbability < 0 || c.PresenceProbability > 1 {
		return configErrorf("churn presence_probability %v outside [0,1]", c.PresenceProbability)
	}
	if c.PresenceProbability == 0 {
		return nil
	}
	names := []string{"added", "modified", "deleted"}
	for i, p := range []LogNormalParams{c.Added, c.Modified, c.Deleted} {
		if math.IsNaN(p.Mu) || math.IsInf(p.Mu, 0) || math.IsNaN(p.Sigma) || p.Sigma <= 0 || math.IsInf(p.Sigma, 0) {
			return configErrorf("churn %s lognormal needs finite mu and positive sigma", names[i])
		}
	}
	return nil
}

// ChurnGenerator draws churn for new tickets from the churn generator.
type ChurnGenerator struct {
	presence float64
	rng      *rand.Rand
	added    distuv.LogNormal
	modified distuv.LogNormal
	deleted  distuv.LogNormal
}

// NewChurnGenerator creates a generator; cfg must already be valid.
func NewChurnGenerator(cfg ChurnConfig, rng *rand.Rand) *ChurnGenerator {
	return &ChurnGenerator{
		presence: cfg.PresenceProbability,
		rng:      rng,
		added:    distuv.LogNormal{Mu: cfg.Added.Mu, Sigma: cfg.Added.Sigma, Src: rng},
		modified: distuv.LogNormal{Mu: cfg.Modified.Mu, Sigma: cfg.Modified.Sigma, Src: rng},
		deleted:  distuv.LogNormal{Mu: cfg.Deleted.Mu, Sigma: cfg.Deleted.Sigma, Src: rng},
	}
}

// Next returns churn for one ticket, or nil when it carries none.
// Nothing is drawn when the presence probability is zero.
func (g *ChurnGenerator) Next() *Churn {
	if g.presence <= 0 {
		return nil
	}
	if g.presence < 1 && g.rng.Float64() >= g.presence {
		return nil
	}
	return &Churn{
		Added:    math.Round(g.added.Rand()),
		Modified: math.Round(g.modified.Rand()),
		Deleted:  math.Round(g.deleted.Rand()),
	}
}
