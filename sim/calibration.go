package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Calibration reports how the developer process behaves on its own, with no
// tickets, against the stationary distribution of P.
type Calibration struct {
	Days       float64
	Agents     int
	Occupancy  [NumStates]float64
	Stationary []float64
	// ProductiveHoursPerAgentDay is the DEV+REV+TEST time per agent per day, in hours.
	ProductiveHoursPerAgentDay float64
	Transitions                int
	FinalCounts                [NumStates]int
}

// RunCalibration simulates the developer pool of cfg alone for days days
// with agents agents drawn from the stationary distribution. Only the
// transition matrix, stint PMFs and state seed of cfg are used.
func RunCalibration(cfg Config, days float64, agents int) (*Calibration, error) {
	if math.IsNaN(days) || math.IsInf(days, 0) || days <= 0 {
		return nil, configErrorf("calibration days=%v must be positive and finite", days)
	}
	if agents <= 0 {
		return nil, configErrorf("calibration needs at least one agent, got %d", agents)
	}
	p, err := cfg.Matrix()
	if err != nil {
		return nil, err
	}
	pmfs, err := cfg.PMFs()
	if err != nil {
		return nil, err
	}
	pi, _, err := StationaryDistribution(p)
	if err != nil {
		return nil, err
	}

	pool := NewDeveloperPool(p, pmfs, cfg.NewRNG().ForSubsystem(SubsystemState))
	if err := pool.Initialize(agents, nil); err != nil {
		return nil, fmt.Errorf("initializing developer pool: %w", err)
	}

	for {
		next, id := math.Inf(1), -1
		for _, a := range pool.Agents() {
			if end := pool.LastUpdate() + a.RemainingStint; end < next {
				next, id = end, a.ID
			}
		}
		if id < 0 || next > days {
			break
		}
		a, _ := pool.Agent(id)
		epoch := a.Epoch()
		if _, err := pool.AdvanceTime(next); err != nil {
			return nil, err
		}
		if a.Epoch() == epoch {
			if _, err := pool.Expire(id, next); err != nil {
				return nil, err
			}
		}
	}
	pool.Settle(days)

	c := &Calibration{
		Days:        days,
		Agents:      agents,
		Stationary:  pi,
		Transitions: pool.Transitions(),
		FinalCounts: pool.CountsByState(),
	}
	stateTime := pool.StateTime()
	for _, s := range AllStates {
		c.Occupancy[s] = stateTime[s] / (days * float64(agents))
	}
	productive := stateTime[StateDev] + stateTime[StateRev] + stateTime[StateTest]
	c.ProductiveHoursPerAgentDay = productive / float64(agents) * 24 / days

	logrus.Infof("Calibration complete over %.1f days with %d agents", days, agents)
	logrus.Infof("Empirical occupancy: %v", c.Occupancy)
	logrus.Infof("Stationary distribution from P: %v", pi)
	return c, nil
}
