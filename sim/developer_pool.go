// Implements the semi-Markov developer pool. Each agent sits in one of
// OFF/DEV/REV/TEST for a stint drawn from that state's PMF and then moves to a
// state drawn from the matching row of P. Idle time and service time are
// charged against the stint on separate paths so a long queue wait never
// extends an agent's productive time.

package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	// minStint is the shortest stint in days. Shorter draws are raised to it
	// so that back-to-back expiries always move the clock forward.
	minStint = 1e-6

	// stintExhaustedEpsilon absorbs round-off when an expiry event lands
	// exactly on the end of a stint.
	stintExhaustedEpsilon = 1e-9
)

// DeveloperAgent is a single developer following the semi-Markov policy.
type DeveloperAgent struct {
	ID             int
	State          DevState
	RemainingStint float64 // days left in the current stint; +Inf never expires
	Busy           bool

	busySince float64
	epoch     uint64 // bumped whenever State or Busy changes
}

// Epoch identifies the agent's current (state, busy) configuration. A
// scheduled stint expiry is only valid while the epoch is unchanged.
func (a *DeveloperAgent) Epoch() uint64 { return a.epoch }

func (a *DeveloperAgent) String() string {
	return fmt.Sprintf("Agent: (ID: %d, State: %s, RemainingStint: %.4f, Busy: %t)", a.ID, a.State, a.RemainingStint, a.Busy)
}

// DeveloperPool owns every agent and the semi-Markov clocks.
type DeveloperPool struct {
	p    TransitionMatrix
	pmfs [NumStates]StintPMF
	rng  *rand.Rand

	agents     []*DeveloperAgent
	lastUpdate float64

	stateTime    [NumStates]float64
	stintSamples [NumStates][]float64
	transitions  int
}

// NewDeveloperPool creates an empty pool. rng must be the state-transition
// generator; the pool never draws from any other source.
func NewDeveloperPool(p TransitionMatrix, pmfs [NumStates]StintPMF, rng *rand.Rand) *DeveloperPool {
	return &DeveloperPool{p: p, pmfs: pmfs, rng: rng}
}

// Initialize creates count agents. If initialStates is non-nil it gives the
// exact number of agents per state (agents are numbered in AllStates order);
// otherwise each agent's state is drawn from the stationary distribution of P.
func (dp *DeveloperPool) Initialize(count int, initialStates map[DevState]int) error {
	if count < 0 {
		return configErrorf("developer count %d is negative", count)
	}
	dp.agents = make([]*DeveloperAgent, 0, count)
	dp.lastUpdate = 0

	if initialStates != nil {
		total := 0
		for _, s := range AllStates {
			n := initialStates[s]
			if n < 0 {
				return configErrorf("initial state count for %s is negative", s)
			}
			total += n
			for i := 0; i < n; i++ {
				if err := dp.addAgent(s); err != nil {
					return err
				}
			}
		}
		if total != count {
			return configErrorf("initial state counts sum to %d, want %d", total, count)
		}
	} else if count > 0 {
		pi, _, err := StationaryDistribution(dp.p)
		if err != nil {
			return err
		}
		logrus.Infof("Initializing %d developer agents from stationary distribution %v", count, pi)
		for i := 0; i < count; i++ {
			idx, ok := drawIndex(pi, dp.rng)
			if !ok {
				return fmt.Errorf("%w: stationary distribution has no mass", ErrInvalidConfig)
			}
			if err := dp.addAgent(AllStates[idx]); err != nil {
				return err
			}
		}
	}
	logrus.Infof("Developer pool ready with counts: %v", dp.CountsByState())
	return nil
}

func (dp *DeveloperPool) addAgent(s DevState) error {
	stint, err := dp.drawStint(s)
	if err != nil {
		return err
	}
	dp.agents = append(dp.agents, &DeveloperAgent{ID: len(dp.agents), State: s, RemainingStint: stint})
	return nil
}

func (dp *DeveloperPool) drawStint(s DevState) (float64, error) {
	pmf := dp.pmfs[s]
	idx, ok := drawIndex(pmf.Probs, dp.rng)
	if !ok {
		return 0, fmt.Errorf("%w: stint PMF for %s has no mass", ErrInvalidConfig, s)
	}
	stint := pmf.Lengths[idx]
	if !(stint >= minStint) {
		stint = minStint
	}
	dp.stintSamples[s] = append(dp.stintSamples[s], stint)
	return stint, nil
}

// AdvanceTime charges the idle time since the last update to every idle
// agent and transitions those whose stint is exhausted. Busy agents are
// charged on OnServiceCompletion instead. It returns the stages whose
// capacity changed, in workflow order.
func (dp *DeveloperPool) AdvanceTime(now float64) ([]Stage, error) {
	delta := now - dp.lastUpdate
	if delta <= 0 {
		return nil, nil
	}
	var changed stageSet
	for _, a := range dp.agents {
		if a.Busy {
			continue
		}
		a.RemainingStint -= delta
		dp.stateTime[a.State] += delta
		if a.RemainingStint <= stintExhaustedEpsilon {
			if err := dp.transition(a, now, &changed); err != nil {
				return nil, err
			}
		}
	}
	dp.lastUpdate = now
	return changed.stages(), nil
}

// OnServiceCompletion frees the agent and charges serviceTime, spent while
// busy, against its stint. The agent transitions if the stint is exhausted.
func (dp *DeveloperPool) OnServiceCompletion(agentID int, stage Stage, serviceTime, now float64) ([]Stage, error) {
	a, ok := dp.Agent(agentID)
	if !ok {
		return nil, &InvariantError{Check: "agent-exists", Time: now, Detail: fmt.Sprintf("unknown agent %d completing %s", agentID, stage)}
	}
	if !a.Busy {
		return nil, &InvariantError{Check: "agent-busy", Time: now, Detail: fmt.Sprintf("agent %d completed %s while idle", agentID, stage)}
	}
	a.Busy = false
	a.epoch++
	a.RemainingStint -= serviceTime
	dp.stateTime[a.State] += serviceTime

	var changed stageSet
	if a.RemainingStint <= stintExhaustedEpsilon {
		if err := dp.transition(a, now, &changed); err != nil {
			return nil, err
		}
	}
	return changed.stages(), nil
}

// transition moves a to the next state drawn from P and draws a fresh stint.
// Any overshoot of the old stint is discarded. A self-transition still
// starts a new stint.
func (dp *DeveloperPool) transition(a *DeveloperAgent, now float64, changed *stageSet) error {
	idx, ok := drawIndex(dp.p.Row(a.State), dp.rng)
	if !ok {
		return fmt.Errorf("%w: transition matrix row %s has no mass", ErrInvalidConfig, a.State)
	}
	next := AllStates[idx]
	stint, err := dp.drawStint(next)
	if err != nil {
		return err
	}
	old := a.State
	changed.add(old)
	changed.add(next)
	a.State = next
	a.RemainingStint = stint
	a.epoch++
	dp.transitions++
	logrus.Debugf("Agent %d transitioned %s→%s at t=%.4f; new stint %.4f days", a.ID, old, next, now, stint)
	return nil
}

// Expire ends the stint of an idle agent at now, whatever is left of it.
// It is used when a scheduled expiry lands within round-off of the stint end.
func (dp *DeveloperPool) Expire(agentID int, now float64) ([]Stage, error) {
	a, ok := dp.Agent(agentID)
	if !ok || a.Busy || math.IsInf(a.RemainingStint, 1) {
		return nil, nil
	}
	var changed stageSet
	if err := dp.transition(a, now, &changed); err != nil {
		return nil, err
	}
	return changed.stages(), nil
}

// AvailableAgentForStage returns the lowest-numbered idle agent whose state
// serves stage.
func (dp *DeveloperPool) AvailableAgentForStage(stage Stage) (*DeveloperAgent, bool) {
	want, ok := StateForStage(stage)
	if !ok {
		return nil, false
	}
	for _, a := range dp.agents {
		if a.State == want && !a.Busy && a.RemainingStint > stintExhaustedEpsilon {
			return a, true
		}
	}
	return nil, false
}

// MarkBusy assigns the agent to a service starting at now.
func (dp *DeveloperPool) MarkBusy(agentID int, now float64) error {
	a, ok := dp.Agent(agentID)
	if !ok {
		return &InvariantError{Check: "agent-exists", Time: now, Detail: fmt.Sprintf("unknown agent %d", agentID)}
	}
	if a.Busy {
		return &InvariantError{Check: "agent-single-ticket", Time: now, Detail: fmt.Sprintf("agent %d is already busy", agentID)}
	}
	a.Busy = true
	a.busySince = now
	a.epoch++
	return nil
}

// Agent returns the agent with the given id.
func (dp *DeveloperPool) Agent(id int) (*DeveloperAgent, bool) {
	if id < 0 || id >= len(dp.agents) {
		return nil, false
	}
	return dp.agents[id], true
}

// Agents returns every agent in id order. Callers must not modify them.
func (dp *DeveloperPool) Agents() []*DeveloperAgent {
	return dp.agents
}

// Size returns the number of agents.
func (dp *DeveloperPool) Size() int { return len(dp.agents) }

// LastUpdate is the time idle agents were last charged.
func (dp *DeveloperPool) LastUpdate() float64 { return dp.lastUpdate }

// CountsByState returns the number of agents in each state.
func (dp *DeveloperPool) CountsByState() [NumStates]int {
	var counts [NumStates]int
	for _, a := range dp.agents {
		counts[a.State]++
	}
	return counts
}

// CapacityForStage is the number of agents, busy or idle, whose state serves stage.
func (dp *DeveloperPool) CapacityForStage(stage Stage) int {
	s, ok := StateForStage(stage)
	if !ok {
		return 0
	}
	return dp.CountsByState()[s]
}

// CapacityByStage returns CapacityForStage for every service stage.
func (dp *DeveloperPool) CapacityByStage() map[Stage]int {
	out := make(map[Stage]int, len(ServiceStages))
	for _, st := range ServiceStages {
		out[st] = dp.CapacityForStage(st)
	}
	return out
}

// Settle charges state time up to horizon without transitioning anyone:
// idle agents since the last update, busy agents since their service began.
// It is called once when the run ends.
func (dp *DeveloperPool) Settle(horizon float64) {
	if delta := horizon - dp.lastUpdate; delta > 0 {
		for _, a := range dp.agents {
			if !a.Busy {
				dp.stateTime[a.State] += delta
			}
		}
		dp.lastUpdate = horizon
	}
	for _, a := range dp.agents {
		if a.Busy {
			dp.stateTime[a.State] += math.Max(0, horizon-a.busySince)
		}
	}
}

// StateTime returns the agent-days spent in each state so far.
func (dp *DeveloperPool) StateTime() [NumStates]float64 { return dp.stateTime }

// StintSamples returns every stint length drawn for state s, initial draws included.
func (dp *DeveloperPool) StintSamples(s DevState) []float64 { return dp.stintSamples[s] }

// Transitions returns the number of state changes performed.
func (dp *DeveloperPool) Transitions() int { return dp.transitions }

// stageSet collects changed stages without duplicates.
type stageSet map[Stage]struct{}

func (ss *stageSet) add(s DevState) {
	st, ok := s.Stage()
	if !ok {
		return
	}
	if *ss == nil {
		*ss = make(stageSet)
	}
	(*ss)[st] = struct{}{}
}

func (ss stageSet) stages() []Stage {
	if len(ss) == 0 {
		return nil
	}
	out := make([]Stage, 0, len(ss))
	for st := range ss {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

