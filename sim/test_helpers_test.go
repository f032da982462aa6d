package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// singlePMF returns a degenerate stint PMF at length l.
func singlePMF(l float64) StintPMF {
	return StintPMF{Lengths: []float64{l}, Probs: []float64{1}}
}

// uniformPMFs gives every state the same degenerate stint length.
func uniformPMFs(l float64) [NumStates]StintPMF {
	var out [NumStates]StintPMF
	for _, s := range AllStates {
		out[s] = singlePMF(l)
	}
	return out
}

func identityMatrix() TransitionMatrix {
	var p TransitionMatrix
	for i := 0; i < NumStates; i++ {
		p[i][i] = 1
	}
	return p
}

// constantSpec draws (almost exactly) v every time.
func constantSpec(v float64) ServiceSpec {
	return ServiceSpec{Family: FamilyNormal, Params: map[string]float64{"mu": v, "sigma": 1e-12}}
}

func matrixRows(p TransitionMatrix) [][]float64 {
	rows := make([][]float64, NumStates)
	for i := range p {
		rows[i] = append([]float64(nil), p[i][:]...)
	}
	return rows
}

func pmfMap(pmfs [NumStates]StintPMF) map[string]StintPMF {
	out := make(map[string]StintPMF, NumStates)
	for _, s := range AllStates {
		out[s.String()] = pmfs[s]
	}
	return out
}

// baselineConfig has one developer per stage with infinite stints and no
// feedback: a tandem of three single-server queues.
func baselineConfig() Config {
	cfg := DefaultConfig()
	cfg.DurationDays = 365
	cfg.ArrivalRate = 0.307
	cfg.Service = map[string]ServiceSpec{
		"dev":     {Family: FamilyLogNormal, Params: map[string]float64{"mu": -0.7, "sigma": 0.25}},
		"review":  {Family: FamilyLogNormal, Params: map[string]float64{"mu": -1.2, "sigma": 0.25}},
		"testing": {Family: FamilyLogNormal, Params: map[string]float64{"mu": -1.0, "sigma": 0.25}},
	}
	cfg.Developers = DevelopersConfig{
		Count:            3,
		InitialStates:    map[string]int{"OFF": 0, "DEV": 1, "REV": 1, "TEST": 1},
		TransitionMatrix: matrixRows(identityMatrix()),
		StintPMFs:        pmfMap(uniformPMFs(math.Inf(1))),
	}
	cfg.Seeds.Global = 20240101
	return cfg
}

// markovConfig has a 10-agent semi-Markov pool started from the stationary
// distribution, feedback and churn-weighted selection.
func markovConfig() Config {
	cfg := DefaultConfig()
	cfg.DurationDays = 90
	cfg.ArrivalRate = 1.5
	cfg.Feedback = FeedbackConfig{PDev: 0.2, PTest: 0.1}
	cfg.Service = map[string]ServiceSpec{
		"dev":     {Family: FamilyLogNormal, Params: map[string]float64{"mu": -0.6, "sigma": 0.6}},
		"review":  {Family: FamilyWeibull, Params: map[string]float64{"shape": 1.5, "scale": 0.2}},
		"testing": {Family: FamilyGamma, Params: map[string]float64{"shape": 2, "scale": 0.15}},
	}
	cfg.Developers = DevelopersConfig{
		Count: 10,
		TransitionMatrix: [][]float64{
			{0.10, 0.50, 0.20, 0.20},
			{0.40, 0.20, 0.25, 0.15},
			{0.35, 0.40, 0.10, 0.15},
			{0.40, 0.40, 0.10, 0.10},
		},
		StintPMFs: map[string]StintPMF{
			"OFF":  {Lengths: []float64{0.5, 1, 2}, Probs: []float64{0.4, 0.4, 0.2}},
			"DEV":  {Lengths: []float64{0.25, 0.5, 1, 2}, Probs: []float64{0.4, 0.3, 0.2, 0.1}},
			"REV":  {Lengths: []float64{0.1, 0.25, 0.5}, Probs: []float64{0.5, 0.3, 0.2}},
			"TEST": {Lengths: []float64{0.1, 0.25, 0.5}, Probs: []float64{0.4, 0.4, 0.2}},
		},
	}
	cfg.Selection = SelectionConfig{
		Policy:         SelectChurnWeighted,
		OnMissingChurn: MissingChurnFIFO,
		Weights:        ChurnWeights{Add: 1, Mod: 0.5, Del: 0.25},
	}
	cfg.Churn = ChurnConfig{
		PresenceProbability: 0.7,
		Added:               LogNormalParams{Mu: 3, Sigma: 1},
		Modified:            LogNormalParams{Mu: 2.5, Sigma: 1},
		Deleted:             LogNormalParams{Mu: 2, Sigma: 1},
	}
	cfg.Seeds.Global = 7
	return cfg
}

// runConfig builds and runs a simulator, failing the test on any error.
func runConfig(t *testing.T, cfg Config) *Result {
	t.Helper()
	s, err := NewSimulator(cfg, nil)
	require.NoError(t, err)
	res, err := s.Run()
	require.NoError(t, err)
	require.False(t, res.Partial)
	return res
}

// recordingScheduler collects scheduled events in order.
type recordingScheduler struct {
	events []Event
}

func (r *recordingScheduler) Schedule(e Event) { r.events = append(r.events, e) }

func (r *recordingScheduler) ofKind(k EventKind) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

// observation is one call to Observer.Observe.
type observation struct {
	Time     float64
	Kind     string
	TicketID int
	AgentID  int
	Stage    Stage
	Detail   string
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) Observe(t float64, kind string, ticketID, agentID int, stage Stage, detail string) {
	o.seen = append(o.seen, observation{t, kind, ticketID, agentID, stage, detail})
}

func (o *recordingObserver) count(kind string) int {
	n := 0
	for _, ob := range o.seen {
		if ob.Kind == kind {
			n++
		}
	}
	return n
}

// workflowHarness wires WorkflowLogic to in-memory collaborators.
type workflowHarness struct {
	wf    *WorkflowLogic
	state *SystemState
	pool  *DeveloperPool
	stats *StatsCollector
	sched *recordingScheduler
	obs   *recordingObserver
}

func newWorkflowHarness(t *testing.T, p TransitionMatrix, pmfs [NumStates]StintPMF, counts map[DevState]int,
	service map[Stage]ServiceSpec, feedback FeedbackConfig) *workflowHarness {
	t.Helper()
	rng := NewPartitionedRNG(NewSimulationKey(1))
	total := 0
	for _, n := range counts {
		total += n
	}
	pool := NewDeveloperPool(p, pmfs, rng.ForSubsystem(SubsystemState))
	require.NoError(t, pool.Initialize(total, counts))
	sampler, err := NewServiceTimeSampler(service, rng.ForSubsystem(SubsystemService))
	require.NoError(t, err)
	selector, err := NewTicketSelector(SelectFIFO, MissingChurnFIFO, ChurnWeights{}, rng.ForSubsystem(SubsystemRouting))
	require.NoError(t, err)
	h := &workflowHarness{
		state: NewSystemState(pool),
		pool:  pool,
		stats: NewStatsCollector(1e-9, 0.05),
		sched: &recordingScheduler{},
		obs:   &recordingObserver{},
	}
	h.wf = NewWorkflowLogic(h.state, pool, sampler, selector, NewChurnGenerator(ChurnConfig{}, rng.ForSubsystem(SubsystemChurn)),
		h.stats, h.sched, feedback, rng.ForSubsystem(SubsystemRouting), h.obs)
	return h
}

func constantService(dev, review, testing float64) map[Stage]ServiceSpec {
	return map[Stage]ServiceSpec{
		StageDev:     constantSpec(dev),
		StageReview:  constantSpec(review),
		StageTesting: constantSpec(testing),
	}
}
