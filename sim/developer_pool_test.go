package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// devToRevMatrix sends DEV agents to REV and keeps every other state.
func devToRevMatrix() TransitionMatrix {
	p := identityMatrix()
	p[StateDev] = [NumStates]float64{0, 0, 1, 0}
	return p
}

func newTestPool(t *testing.T, p TransitionMatrix, pmfs [NumStates]StintPMF, counts map[DevState]int) *DeveloperPool {
	t.Helper()
	total := 0
	for _, n := range counts {
		total += n
	}
	pool := NewDeveloperPool(p, pmfs, NewPartitionedRNG(NewSimulationKey(3)).ForSubsystem(SubsystemState))
	require.NoError(t, pool.Initialize(total, counts))
	return pool
}

func TestDeveloperPool_TinyStintDrawIsRaisedToMinimum(t *testing.T) {
	// GIVEN a PMF handed to the pool directly, bypassing config validation
	pmfs := uniformPMFs(1)
	pmfs[StateOff] = singlePMF(1e-12)

	// WHEN an OFF agent draws its stint
	pool := newTestPool(t, identityMatrix(), pmfs, map[DevState]int{StateOff: 1})

	// THEN the draw is raised to the minimum stint
	a, ok := pool.Agent(0)
	require.True(t, ok)
	assert.Equal(t, minStint, a.RemainingStint)
	assert.Equal(t, []float64{minStint}, pool.StintSamples(StateOff))
}

func TestDeveloperPool_Initialize_ExplicitCounts(t *testing.T) {
	pool := newTestPool(t, identityMatrix(), uniformPMFs(1), map[DevState]int{StateOff: 1, StateDev: 2, StateTest: 1})

	assert.Equal(t, 4, pool.Size())
	assert.Equal(t, [NumStates]int{1, 2, 0, 1}, pool.CountsByState())
	// agents are numbered in state order
	wantStates := []DevState{StateOff, StateDev, StateDev, StateTest}
	for i, a := range pool.Agents() {
		assert.Equal(t, i, a.ID)
		assert.Equal(t, wantStates[i], a.State)
		assert.Equal(t, 1.0, a.RemainingStint)
		assert.False(t, a.Busy)
	}
	assert.Equal(t, map[Stage]int{StageDev: 2, StageReview: 0, StageTesting: 1}, pool.CapacityByStage())
}

func TestDeveloperPool_Initialize_CountMismatch(t *testing.T) {
	pool := NewDeveloperPool(identityMatrix(), uniformPMFs(1), NewPartitionedRNG(NewSimulationKey(1)).ForSubsystem(SubsystemState))
	err := pool.Initialize(3, map[DevState]int{StateDev: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDeveloperPool_Initialize_FromStationaryDistribution(t *testing.T) {
	// GIVEN a chain that always jumps to DEV, so π puts all mass on DEV
	var p TransitionMatrix
	for i := range p {
		p[i][StateDev] = 1
	}
	pool := NewDeveloperPool(p, uniformPMFs(1), NewPartitionedRNG(NewSimulationKey(1)).ForSubsystem(SubsystemState))

	// WHEN initial states are drawn
	require.NoError(t, pool.Initialize(5, nil))

	// THEN every agent starts in DEV
	assert.Equal(t, [NumStates]int{0, 5, 0, 0}, pool.CountsByState())
	assert.Len(t, pool.StintSamples(StateDev), 5, "each agent draws an initial stint")
}

func TestDeveloperPool_AdvanceTime_TransitionsOnExhaustion(t *testing.T) {
	// GIVEN one DEV agent with a 2-day stint whose next state is REV
	pool := newTestPool(t, devToRevMatrix(), uniformPMFs(2), map[DevState]int{StateDev: 1})

	// WHEN 1 day passes
	changed, err := pool.AdvanceTime(1)
	require.NoError(t, err)

	// THEN nothing changes yet
	assert.Empty(t, changed)
	a, _ := pool.Agent(0)
	assert.Equal(t, StateDev, a.State)
	assert.InDelta(t, 1.0, a.RemainingStint, 1e-12)

	// WHEN the stint runs out
	changed, err = pool.AdvanceTime(2)
	require.NoError(t, err)

	// THEN the agent is in REV with a fresh stint and both stages changed capacity
	assert.Equal(t, []Stage{StageDev, StageReview}, changed)
	assert.Equal(t, StateRev, a.State)
	assert.Equal(t, 2.0, a.RemainingStint)
	assert.Equal(t, 1, pool.Transitions())
	assert.InDelta(t, 2.0, pool.StateTime()[StateDev], 1e-12)
}

func TestDeveloperPool_StintOnlyElapsesWhileIdle(t *testing.T) {
	// GIVEN a DEV agent with a 2-day stint
	pool := newTestPool(t, devToRevMatrix(), uniformPMFs(2), map[DevState]int{StateDev: 1})
	_, err := pool.AdvanceTime(0.5)
	require.NoError(t, err)
	a, _ := pool.Agent(0)
	epoch := a.Epoch()

	// WHEN it is busy from 0.5 to 1.5 while time advances past its stint end
	require.NoError(t, pool.MarkBusy(0, 0.5))
	assert.Greater(t, a.Epoch(), epoch)
	_, err = pool.AdvanceTime(1.5)
	require.NoError(t, err)

	// THEN the idle clock did not move
	assert.InDelta(t, 1.5, a.RemainingStint, 1e-12)
	_, ok := pool.AvailableAgentForStage(StageDev)
	assert.False(t, ok, "busy agents are not available")

	// WHEN the one-day service completes
	changed, err := pool.OnServiceCompletion(0, StageDev, 1.0, 1.5)
	require.NoError(t, err)

	// THEN service time is charged against the stint, without transition
	assert.Empty(t, changed)
	assert.False(t, a.Busy)
	assert.InDelta(t, 0.5, a.RemainingStint, 1e-12)
	assert.InDelta(t, 1.5, pool.StateTime()[StateDev], 1e-12)

	// WHEN another one-day service overshoots the stint
	require.NoError(t, pool.MarkBusy(0, 1.5))
	_, err = pool.AdvanceTime(2.5)
	require.NoError(t, err)
	changed, err = pool.OnServiceCompletion(0, StageDev, 1.0, 2.5)
	require.NoError(t, err)

	// THEN the agent transitions at completion and the overshoot is discarded
	assert.Equal(t, []Stage{StageDev, StageReview}, changed)
	assert.Equal(t, StateRev, a.State)
	assert.Equal(t, 2.0, a.RemainingStint)
}

func TestDeveloperPool_InfiniteStintNeverTransitions(t *testing.T) {
	pool := newTestPool(t, devToRevMatrix(), uniformPMFs(math.Inf(1)), map[DevState]int{StateDev: 1})

	changed, err := pool.AdvanceTime(1e6)
	require.NoError(t, err)

	assert.Empty(t, changed)
	assert.Equal(t, 0, pool.Transitions())
	assert.Equal(t, [NumStates]int{0, 1, 0, 0}, pool.CountsByState())
}

func TestDeveloperPool_AvailableAgentForStage_LowestIdleID(t *testing.T) {
	pool := newTestPool(t, identityMatrix(), uniformPMFs(10), map[DevState]int{StateDev: 3})

	a, ok := pool.AvailableAgentForStage(StageDev)
	require.True(t, ok)
	assert.Equal(t, 0, a.ID)

	require.NoError(t, pool.MarkBusy(0, 0))
	a, ok = pool.AvailableAgentForStage(StageDev)
	require.True(t, ok)
	assert.Equal(t, 1, a.ID)

	_, ok = pool.AvailableAgentForStage(StageReview)
	assert.False(t, ok)
	_, ok = pool.AvailableAgentForStage(StageBacklog)
	assert.False(t, ok)
}

func TestDeveloperPool_BookkeepingViolations(t *testing.T) {
	pool := newTestPool(t, identityMatrix(), uniformPMFs(10), map[DevState]int{StateDev: 1})

	// completing while idle
	_, err := pool.OnServiceCompletion(0, StageDev, 1, 1)
	assert.True(t, errors.Is(err, ErrInvariant))

	// unknown agent
	_, err = pool.OnServiceCompletion(9, StageDev, 1, 1)
	assert.True(t, errors.Is(err, ErrInvariant))

	// double booking
	require.NoError(t, pool.MarkBusy(0, 0))
	assert.True(t, errors.Is(pool.MarkBusy(0, 0), ErrInvariant))
}

func TestDeveloperPool_Expire_ForcesTransition(t *testing.T) {
	pool := newTestPool(t, devToRevMatrix(), uniformPMFs(2), map[DevState]int{StateDev: 1})

	changed, err := pool.Expire(0, 1.999999999999)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageDev, StageReview}, changed)
	a, _ := pool.Agent(0)
	assert.Equal(t, StateRev, a.State)
}

func TestDeveloperPool_Settle_ChargesIdleAndBusyAgents(t *testing.T) {
	// GIVEN two DEV agents, one busy since t=1
	pool := newTestPool(t, identityMatrix(), uniformPMFs(100), map[DevState]int{StateDev: 2})
	_, err := pool.AdvanceTime(1)
	require.NoError(t, err)
	require.NoError(t, pool.MarkBusy(0, 1))

	// WHEN the run ends at t=4
	pool.Settle(4)

	// THEN both agents contributed 4 agent-days of DEV time
	assert.InDelta(t, 8.0, pool.StateTime()[StateDev], 1e-12)
}
