// StatsCollector observes every transition of a run. It keeps per-ticket
// wait/service samples and time-weighted integrals of queue length, tickets in
// service and agents per state, then derives the aggregate KPIs and asserts
// the utilization bound and the per-stage Little decomposition.

package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

// numServiceStages sizes the per-stage arrays, indexed by stageSlot.
const numServiceStages = 3

func stageSlot(s Stage) (int, bool) {
	switch s {
	case StageDev:
		return 0, true
	case StageReview:
		return 1, true
	case StageTesting:
		return 2, true
	case StageBacklog, StageClosed:
		return 0, false
	}
	return 0, false
}

// TicketRecord is the per-ticket microdata row.
type TicketRecord struct {
	ID          int
	ArrivalTime float64
	Closed      bool
	ClosedTime  float64

	// Indexed by stageSlot; totals across every pass through the stage.
	Wait    [numServiceStages]float64
	Service [numServiceStages]float64
	Cycles  [numServiceStages]int

	ReviewReworks int
	TestReworks   int

	TotalWait    float64
	TimeInSystem float64 // closed tickets: closed − arrival; open: end − arrival
}

// WaitAt returns the accumulated wait at stage s.
func (r *TicketRecord) WaitAt(s Stage) float64 {
	i, ok := stageSlot(s)
	if !ok {
		return 0
	}
	return r.Wait[i]
}

// ServiceAt returns the accumulated service time at stage s.
func (r *TicketRecord) ServiceAt(s Stage) float64 {
	i, ok := stageSlot(s)
	if !ok {
		return 0
	}
	return r.Service[i]
}

// CyclesAt returns the number of service passes started at stage s.
func (r *TicketRecord) CyclesAt(s Stage) int {
	i, ok := stageSlot(s)
	if !ok {
		return 0
	}
	return r.Cycles[i]
}

// EnteredStage applies the inclusion rule: a ticket counts toward a stage's
// averages only if it actually entered it.
func (r *TicketRecord) EnteredStage(s Stage) bool {
	return r.CyclesAt(s) > 0 || r.ServiceAt(s) > 0
}

// Snapshot is the piecewise-constant system state between two events.
type Snapshot struct {
	QueueLength [numServiceStages]int
	InService   [numServiceStages]int
	AgentCounts [NumStates]int
}

// Diagnostics carries counters owned by other components into Finalize.
type Diagnostics struct {
	AgentCount           int
	StateTime            [NumStates]float64
	StintSamples         [NumStates][]float64
	Transitions          int
	Stationary           []float64 // nil when initial states were explicit
	ChurnFallbacks       int
	ReleaseAnomalies     int
	ServiceRetries       int
	ServiceSubstitutions int
}

// StageSummary holds the derived KPIs of one service stage.
type StageSummary struct {
	Stage           Stage
	Starts          int
	Completions     int
	Included        int
	Throughput      float64
	AvgWait         float64
	AvgServiceTime  float64
	AvgQueueLength  float64
	AvgServers      float64
	Utilization     float64
	AvgSystemLength float64
	BusyTime        float64
	CapacityTime    float64
}

// StateSummary holds semi-Markov diagnostics for one developer state.
type StateSummary struct {
	State      DevState
	Time       float64
	Occupancy  float64
	StintMean  float64
	StintCount int
	Stationary float64
}

// MetricRow is one line of the aggregate report.
type MetricRow struct {
	Metric      string
	Value       float64
	Units       string
	Description string
}

// Summary is the aggregate result of a run.
type Summary struct {
	Horizon          float64
	TicketsArrived   int
	TicketsClosed    int
	ClosureRate      float64
	ThroughputClosed float64
	TimeInSystem     Distribution // closed tickets only
	Stages           [numServiceStages]StageSummary
	States           [NumStates]StateSummary
	ReworkRateReview float64
	ReworkRateTest   float64
	Diagnostics      Diagnostics
}

// Stage returns the summary of a service stage.
func (s *Summary) Stage(st Stage) StageSummary {
	i, ok := stageSlot(st)
	if !ok {
		return StageSummary{Stage: st}
	}
	return s.Stages[i]
}

// StatsCollector accumulates observations during a run.
type StatsCollector struct {
	lastTime float64

	queueArea     [numServiceStages]float64
	inServiceArea [numServiceStages]float64
	agentArea     [NumStates]float64

	busyCompleted [numServiceStages]float64
	starts        [numServiceStages]int
	completions   [numServiceStages]int

	records []*TicketRecord
	byID    map[int]*TicketRecord

	epsilon   float64
	littleTol float64
}

// NewStatsCollector creates a collector. epsilon bounds how far utilization
// may exceed 1; littleTol is the relative tolerance of the Little check.
func NewStatsCollector(epsilon, littleTol float64) *StatsCollector {
	return &StatsCollector{
		byID:      make(map[int]*TicketRecord),
		epsilon:   epsilon,
		littleTol: littleTol,
	}
}

// Observe integrates the snapshot, which held since the previous
// observation, up to now.
func (sc *StatsCollector) Observe(now float64, snap Snapshot) {
	dt := now - sc.lastTime
	if dt <= 0 {
		return
	}
	for i := 0; i < numServiceStages; i++ {
		sc.queueArea[i] += float64(snap.QueueLength[i]) * dt
		sc.inServiceArea[i] += float64(snap.InService[i]) * dt
	}
	for i := 0; i < NumStates; i++ {
		sc.agentArea[i] += float64(snap.AgentCounts[i]) * dt
	}
	sc.lastTime = now
}

func (sc *StatsCollector) record(id int) (*TicketRecord, error) {
	r, ok := sc.byID[id]
	if !ok {
		return nil, fmt.Errorf("no statistics record for ticket %d", id)
	}
	return r, nil
}

// RecordArrival opens the record of a new ticket.
func (sc *StatsCollector) RecordArrival(t *Ticket) {
	r := &TicketRecord{ID: t.ID, ArrivalTime: t.ArrivalTime}
	sc.records = append(sc.records, r)
	sc.byID[t.ID] = r
}

// RecordServiceStart adds the queue wait of a pass that begins now.
func (sc *StatsCollector) RecordServiceStart(id int, stage Stage, wait float64) error {
	r, err := sc.record(id)
	if err != nil {
		return err
	}
	i, ok := stageSlot(stage)
	if !ok {
		return fmt.Errorf("service start at non-service stage %s", stage)
	}
	r.Wait[i] += wait
	r.Cycles[i]++
	sc.starts[i]++
	logrus.Debugf("Ticket %d waited %.4f in %s queue", id, wait, stage)
	return nil
}

// RecordCompletion adds a finished service duration.
func (sc *StatsCollector) RecordCompletion(id int, stage Stage, serviceTime float64) error {
	r, err := sc.record(id)
	if err != nil {
		return err
	}
	i, ok := stageSlot(stage)
	if !ok {
		return fmt.Errorf("completion at non-service stage %s", stage)
	}
	r.Service[i] += serviceTime
	sc.busyCompleted[i] += serviceTime
	sc.completions[i]++
	return nil
}

// RecordRework counts a feedback loop from stage back to dev.
func (sc *StatsCollector) RecordRework(id int, from Stage) error {
	r, err := sc.record(id)
	if err != nil {
		return err
	}
	switch from {
	case StageReview:
		r.ReviewReworks++
	case StageTesting:
		r.TestReworks++
	case StageBacklog, StageDev, StageClosed:
		return fmt.Errorf("rework from %s", from)
	}
	return nil
}

// RecordClosure marks the ticket closed at time at.
func (sc *StatsCollector) RecordClosure(id int, at float64) error {
	r, err := sc.record(id)
	if err != nil {
		return err
	}
	r.Closed = true
	r.ClosedTime = at
	logrus.Debugf("Ticket %d closed in %.4f days", id, at-r.ArrivalTime)
	return nil
}

// Records returns the per-ticket records in arrival order (which is id order).
func (sc *StatsCollector) Records() []*TicketRecord {
	return sc.records
}

// Finalize extends the integrals to end, adds the clamped in-flight service
// time of tickets still being served, derives every KPI and checks the
// invariants. The summary is returned even when a check fails. With
// partial set the invariant checks are skipped.
func (sc *StatsCollector) Finalize(end float64, snap Snapshot, inFlight []Assignment, diag Diagnostics, partial bool) (*Summary, error) {
	sc.Observe(end, snap)

	busy := sc.busyCompleted
	for _, a := range inFlight {
		i, ok := stageSlot(a.Stage)
		if !ok {
			continue
		}
		clamped := math.Max(0, math.Min(end, a.Start+a.ServiceTime)-a.Start)
		busy[i] += clamped
		if r, ok := sc.byID[a.TicketID]; ok {
			r.Service[i] += clamped
		}
	}

	sum := &Summary{Horizon: end, Diagnostics: diag}
	var closedTimes []float64
	var reviewReworks, testReworks int
	for _, r := range sc.records {
		r.TotalWait = r.Wait[0] + r.Wait[1] + r.Wait[2]
		if r.Closed {
			r.TimeInSystem = r.ClosedTime - r.ArrivalTime
			closedTimes = append(closedTimes, r.TimeInSystem)
		} else {
			r.TimeInSystem = math.Max(0, end-r.ArrivalTime)
		}
		reviewReworks += r.ReviewReworks
		testReworks += r.TestReworks
	}
	sum.TicketsArrived = len(sc.records)
	sum.TicketsClosed = len(closedTimes)
	sum.ClosureRate = safeDiv(float64(sum.TicketsClosed), float64(sum.TicketsArrived))
	sum.ThroughputClosed = safeDiv(float64(sum.TicketsClosed), end)
	sum.TimeInSystem = NewDistribution(closedTimes)

	var violations []error
	for _, st := range ServiceStages {
		i, _ := stageSlot(st)
		state, _ := StateForStage(st)
		ss := StageSummary{
			Stage:        st,
			Starts:       sc.starts[i],
			Completions:  sc.completions[i],
			Throughput:   safeDiv(float64(sc.completions[i]), end),
			BusyTime:     busy[i],
			CapacityTime: sc.agentArea[state],
		}
		var waits, services []float64
		for _, r := range sc.records {
			if !r.EnteredStage(st) {
				continue
			}
			waits = append(waits, r.Wait[i])
			services = append(services, r.Service[i])
		}
		ss.Included = len(waits)
		ss.AvgWait = CalculateMean(waits)
		ss.AvgServiceTime = CalculateMean(services)
		ss.AvgQueueLength = safeDiv(sc.queueArea[i], end)
		ss.AvgServers = safeDiv(ss.CapacityTime, end)
		ss.Utilization = safeDiv(ss.BusyTime, ss.CapacityTime)
		ss.AvgSystemLength = safeDiv(sc.queueArea[i]+sc.inServiceArea[i], end)
		sum.Stages[i] = ss

		if partial {
			continue
		}
		if ss.Utilization > 1+sc.epsilon {
			violations = append(violations, &InvariantError{Check: "utilization-bound", Time: end,
				Detail: fmt.Sprintf("utilization_%s=%.9f exceeds 1 (busy %.6f, capacity %.6f)", st, ss.Utilization, ss.BusyTime, ss.CapacityTime)})
		}
		littleRHS := ss.AvgQueueLength + ss.AvgServers*ss.Utilization
		if d := RelativeDifference(ss.AvgSystemLength, littleRHS); d > sc.littleTol {
			violations = append(violations, &InvariantError{Check: "little-decomposition", Time: end,
				Detail: fmt.Sprintf("avg_system_length_%s=%.6f vs avg_queue_length+avg_servers×utilization=%.6f (rel diff %.4f)",
					st, ss.AvgSystemLength, littleRHS, d)})
		}
	}
	review := sum.Stage(StageReview)
	testing := sum.Stage(StageTesting)
	sum.ReworkRateReview = safeDiv(float64(reviewReworks), float64(review.Completions))
	sum.ReworkRateTest = safeDiv(float64(testReworks), float64(testing.Completions))

	for _, s := range AllStates {
		st := StateSummary{
			State:      s,
			Time:       diag.StateTime[s],
			Occupancy:  safeDiv(diag.StateTime[s], float64(diag.AgentCount)*end),
			StintMean:  CalculateMean(diag.StintSamples[s]),
			StintCount: len(diag.StintSamples[s]),
		}
		if diag.Stationary != nil {
			st.Stationary = diag.Stationary[s]
		}
		sum.States[s] = st
	}

	if len(violations) > 0 {
		for _, v := range violations[1:] {
			logrus.Errorf("additional violation: %v", v)
		}
		return sum, violations[0]
	}
	return sum, nil
}

// Rows renders the summary as the aggregate report, in a fixed order.
func (s *Summary) Rows() []MetricRow {
	rows := []MetricRow{
		{"horizon_days", s.Horizon, "days", "simulated time covered by the statistics"},
		{"tickets_arrived", float64(s.TicketsArrived), "tickets", "tickets that entered the backlog"},
		{"tickets_closed", float64(s.TicketsClosed), "tickets", "tickets closed before the horizon"},
		{"closure_rate", s.ClosureRate, "ratio", "tickets_closed / tickets_arrived"},
		{"throughput_closed", s.ThroughputClosed, "tickets/day", "closed tickets per simulated day"},
		{"mean_time_in_system", s.TimeInSystem.Mean, "days", "mean closed − arrival over closed tickets"},
		{"median_time_in_system", s.TimeInSystem.P50, "days", "median time in system over closed tickets"},
		{"p95_time_in_system", s.TimeInSystem.P95, "days", "95th percentile time in system over closed tickets"},
	}
	for _, ss := range s.Stages {
		name := ss.Stage.String()
		rows = append(rows,
			MetricRow{"throughput_" + name, ss.Throughput, "tickets/day", "service completions per day at " + name},
			MetricRow{"completions_" + name, float64(ss.Completions), "services", "service completions at " + name},
			MetricRow{"avg_wait_" + name, ss.AvgWait, "days", "mean per-ticket queue wait at " + name + " over tickets that entered it"},
			MetricRow{"avg_service_time_" + name, ss.AvgServiceTime, "days", "mean per-ticket service time at " + name + " over tickets that entered it"},
			MetricRow{"avg_queue_length_" + name, ss.AvgQueueLength, "tickets", "time-average number waiting for " + name},
			MetricRow{"avg_servers_" + name, ss.AvgServers, "agents", "time-average agents whose state serves " + name},
			MetricRow{"utilization_" + name, ss.Utilization, "ratio", "busy time / capacity time at " + name},
			MetricRow{"avg_system_length_" + name, ss.AvgSystemLength, "tickets", "time-average number waiting for or in service at " + name},
		)
	}
	rows = append(rows,
		MetricRow{"rework_rate_review", s.ReworkRateReview, "ratio", "review completions routed back to dev"},
		MetricRow{"rework_rate_testing", s.ReworkRateTest, "ratio", "testing completions routed back to dev"},
	)
	for _, st := range s.States {
		name := strings.ToLower(st.State.String())
		rows = append(rows,
			MetricRow{"markov_time_" + name, st.Time, "agent-days", "time agents spent in " + st.State.String()},
			MetricRow{"markov_occupancy_" + name, st.Occupancy, "ratio", "share of agent time in " + st.State.String()},
			MetricRow{"markov_stint_mean_" + name, st.StintMean, "days", "mean drawn stint length in " + st.State.String()},
			MetricRow{"markov_stint_count_" + name, float64(st.StintCount), "stints", "stints drawn in " + st.State.String()},
		)
		if s.Diagnostics.Stationary != nil {
			rows = append(rows, MetricRow{"markov_stationary_" + name, st.Stationary, "ratio", "stationary probability of " + st.State.String()})
		}
	}
	d := s.Diagnostics
	rows = append(rows,
		MetricRow{"markov_transitions", float64(d.Transitions), "transitions", "developer state changes"},
		MetricRow{"churn_fifo_fallbacks", float64(d.ChurnFallbacks), "selections", "churn-weighted selections served FIFO"},
		MetricRow{"release_anomalies", float64(d.ReleaseAnomalies), "events", "completions whose ticket had no server assignment"},
		MetricRow{"service_retries", float64(d.ServiceRetries), "draws", "service draws repeated because they were not positive"},
		MetricRow{"service_epsilon_substitutions", float64(d.ServiceSubstitutions), "draws", "service times replaced by the epsilon floor"},
	)
	return rows
}
