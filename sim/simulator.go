// sim/simulator.go
package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// Result is everything a run produces.
type Result struct {
	Summary *Summary
	Records []*TicketRecord
	// Partial is set when the run halted on an error; the summary then
	// covers [0, Clock] and skipped the invariant checks.
	Partial bool
	// Stationary is nil when initial states were configured explicitly.
	Stationary *StationaryDiagnostics
}

// Simulator is the driver: it owns the clock, the event queue and every
// component, and runs the event loop up to the horizon.
type Simulator struct {
	Clock   float64
	Horizon float64

	cfg      Config
	rng      *PartitionedRNG
	queue    *EventQueue
	state    *SystemState
	pool     *DeveloperPool
	sampler  *ServiceTimeSampler
	selector *TicketSelector
	workflow *WorkflowLogic
	stats    *StatsCollector

	arrivals   distuv.Exponential
	stationary *StationaryDiagnostics
	processed  int
}

// NewSimulator validates cfg and wires every component. observer may be nil.
func NewSimulator(cfg Config, observer Observer) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := cfg.Matrix()
	if err != nil {
		return nil, err
	}
	pmfs, err := cfg.PMFs()
	if err != nil {
		return nil, err
	}
	initial, err := cfg.InitialStateCounts()
	if err != nil {
		return nil, err
	}
	specs, err := cfg.ServiceSpecs()
	if err != nil {
		return nil, err
	}

	rng := cfg.NewRNG()
	s := &Simulator{
		Horizon: cfg.DurationDays,
		cfg:     cfg,
		rng:     rng,
		queue:   NewEventQueue(),
		stats:   NewStatsCollector(cfg.Invariants.Epsilon, cfg.Invariants.LittleRelTolerance),
		arrivals: distuv.Exponential{
			Rate: cfg.ArrivalRate,
			Src:  rng.ForSubsystem(SubsystemArrivals),
		},
	}

	if initial == nil {
		_, diag, err := StationaryDistribution(p)
		if err != nil {
			return nil, err
		}
		s.stationary = &diag
	}
	s.pool = NewDeveloperPool(p, pmfs, rng.ForSubsystem(SubsystemState))
	if err := s.pool.Initialize(cfg.Developers.Count, initial); err != nil {
		return nil, fmt.Errorf("initializing developer pool: %w", err)
	}

	s.sampler, err = NewServiceTimeSampler(specs, rng.ForSubsystem(SubsystemService))
	if err != nil {
		return nil, err
	}
	s.selector, err = NewTicketSelector(cfg.Selection.Policy, cfg.Selection.OnMissingChurn,
		cfg.Selection.Weights, rng.ForSubsystem(SubsystemRouting))
	if err != nil {
		return nil, err
	}
	s.state = NewSystemState(s.pool)
	s.workflow = NewWorkflowLogic(s.state, s.pool, s.sampler, s.selector,
		NewChurnGenerator(cfg.Churn, rng.ForSubsystem(SubsystemChurn)), s.stats, s,
		cfg.Feedback, rng.ForSubsystem(SubsystemRouting), observer)

	logrus.Infof("Simulating %g days at %g tickets/day with %d developers (p_dev=%g, p_test=%g)",
		cfg.DurationDays, cfg.ArrivalRate, cfg.Developers.Count, cfg.Feedback.PDev, cfg.Feedback.PTest)
	logrus.Infof("Global seed %d, service seed %d", rng.Key(), rng.SeedFor(SubsystemService))
	logrus.Infof("Ticket selection policy: %s", s.selector)
	for _, st := range ServiceStages {
		logrus.Infof("Service %s: %s, mean %.4f days", st, specs[st].Family, s.sampler.Mean(st))
	}
	return s, nil
}

// Schedule adds an event to the queue.
func (s *Simulator) Schedule(ev Event) {
	s.queue.Push(ev)
}

// scheduleNextArrival draws the gap to the arrival after the one at now.
// Ticket 0 arrives at t=0; arrivals at or past the horizon are not scheduled.
func (s *Simulator) scheduleNextArrival(now float64, nextID int) {
	t := now + s.arrivals.Rand()
	if t >= s.Horizon {
		logrus.Debugf("arrival stream ends: next arrival %.4f is past the horizon", t)
		return
	}
	s.Schedule(NewArrivalEvent(t, nextID))
}

// Run processes events in time order until none is due at or before the
// horizon. On the first error the run halts, statistics are finalized up to
// the current clock and both the partial result and the error are returned.
func (s *Simulator) Run() (*Result, error) {
	s.workflow.end()
	s.Schedule(NewArrivalEvent(0, 0))

	for !s.queue.Empty() {
		if s.queue.NextEventTime() > s.Horizon {
			break
		}
		ev := s.queue.Pop()
		if ev.Timestamp() < s.Clock {
			panic(fmt.Sprintf("event %s at %.9f precedes clock %.9f", ev.Kind(), ev.Timestamp(), s.Clock))
		}
		s.Clock = ev.Timestamp()
		s.processed++
		logrus.Debugf("[t=%.4f] Executing %s (seq %d)", s.Clock, ev.Kind(), ev.Seq())
		if err := ev.Execute(s); err != nil {
			logrus.Errorf("[t=%.4f] %s failed: %v", s.Clock, ev.Kind(), err)
			res, ferr := s.finalize(s.Clock, true)
			if ferr != nil {
				logrus.Errorf("finalizing partial statistics: %v", ferr)
			}
			return res, err
		}
	}
	s.Clock = s.Horizon
	logrus.Infof("[t=%.4f] Simulation ended after %d events", s.Clock, s.processed)
	return s.finalize(s.Horizon, false)
}

func (s *Simulator) finalize(end float64, partial bool) (*Result, error) {
	s.pool.Settle(end)
	diag := Diagnostics{
		AgentCount:           s.pool.Size(),
		StateTime:            s.pool.StateTime(),
		Transitions:          s.pool.Transitions(),
		ChurnFallbacks:       s.selector.Fallbacks(),
		ReleaseAnomalies:     s.workflow.ReleaseAnomalies(),
		ServiceRetries:       s.sampler.Retries(),
		ServiceSubstitutions: s.sampler.Substitutions(),
	}
	for _, st := range AllStates {
		diag.StintSamples[st] = s.pool.StintSamples(st)
	}
	if s.stationary != nil {
		diag.Stationary = s.stationary.Distribution
	}
	summary, err := s.stats.Finalize(end, s.workflow.Snapshot(), s.state.InFlight(), diag, partial)
	res := &Result{
		Summary:    summary,
		Records:    s.stats.Records(),
		Partial:    partial,
		Stationary: s.stationary,
	}
	return res, err
}

// Config returns the validated configuration the simulator was built from.
func (s *Simulator) Config() Config { return s.cfg }

// State exposes the system state, mainly for tests.
func (s *Simulator) State() *SystemState { return s.state }

// Pool exposes the developer pool.
func (s *Simulator) Pool() *DeveloperPool { return s.pool }

// EventsProcessed counts executed events.
func (s *Simulator) EventsProcessed() int { return s.processed }
