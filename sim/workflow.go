// WorkflowLogic is the routing policy: backlog → dev → review → {dev | testing}
// → {dev | closed}. Every handler first lets the developer pool catch up to
// the event time, then applies the event, then re-offers every stage whose
// capacity changed and finally arms stint expiries for idle agents.

package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
)

// FeedbackConfig holds the probabilities of routing a ticket back to dev.
type FeedbackConfig struct {
	// PDev applies after a review completion.
	PDev float64 `yaml:"p_dev" json:"p_dev"`
	// PTest applies after a testing completion.
	PTest float64 `yaml:"p_test" json:"p_test"`
}

// Scheduler receives the events WorkflowLogic creates.
type Scheduler interface {
	Schedule(Event)
}

// Observer receives every ticket and agent transition, e.g. a trace recorder.
type Observer interface {
	Observe(t float64, kind string, ticketID, agentID int, stage Stage, detail string)
}

// WorkflowLogic mutates SystemState and DeveloperPool in response to events.
type WorkflowLogic struct {
	state    *SystemState
	pool     *DeveloperPool
	sampler  *ServiceTimeSampler
	selector *TicketSelector
	churn    *ChurnGenerator
	stats    *StatsCollector
	sched    Scheduler
	observer Observer

	feedback FeedbackConfig
	routing  *rand.Rand

	armed            map[int]uint64 // agent id → epoch of the pending expiry
	releaseAnomalies int
}

// NewWorkflowLogic wires the routing policy. routing must be the routing
// subsystem generator; observer may be nil.
func NewWorkflowLogic(state *SystemState, pool *DeveloperPool, sampler *ServiceTimeSampler,
	selector *TicketSelector, churn *ChurnGenerator, stats *StatsCollector, sched Scheduler,
	feedback FeedbackConfig, routing *rand.Rand, observer Observer) *WorkflowLogic {
	return &WorkflowLogic{
		state:    state,
		pool:     pool,
		sampler:  sampler,
		selector: selector,
		churn:    churn,
		stats:    stats,
		sched:    sched,
		observer: observer,
		feedback: feedback,
		routing:  routing,
		armed:    make(map[int]uint64),
	}
}

func (w *WorkflowLogic) emit(now float64, kind string, ticketID, agentID int, stage Stage, detail string) {
	if w.observer != nil {
		w.observer.Observe(now, kind, ticketID, agentID, stage, detail)
	}
}

// Snapshot returns the counts the statistics integrate between events.
func (w *WorkflowLogic) Snapshot() Snapshot {
	var snap Snapshot
	for _, st := range ServiceStages {
		i, _ := stageSlot(st)
		snap.QueueLength[i] = w.state.QueueLength(st)
		snap.InService[i] = w.state.InService(st)
	}
	snap.AgentCounts = w.pool.CountsByState()
	return snap
}

// begin closes the statistics interval ending at now and advances the pool.
func (w *WorkflowLogic) begin(now float64) error {
	w.stats.Observe(now, w.Snapshot())
	changed, err := w.pool.AdvanceTime(now)
	if err != nil {
		return err
	}
	for _, st := range changed {
		w.emit(now, "capacity_change", -1, -1, st, fmt.Sprintf("capacity=%d", w.pool.CapacityForStage(st)))
	}
	return w.reoffer(changed, now)
}

// end schedules a stint expiry for every idle agent whose current stint has
// no valid pending expiry.
func (w *WorkflowLogic) end() {
	base := w.pool.LastUpdate()
	for _, a := range w.pool.Agents() {
		if a.Busy || math.IsInf(a.RemainingStint, 1) {
			continue
		}
		if epoch, ok := w.armed[a.ID]; ok && epoch == a.Epoch() {
			continue
		}
		w.armed[a.ID] = a.Epoch()
		w.sched.Schedule(NewStintExpiryEvent(base+a.RemainingStint, a.ID, a.Epoch()))
	}
}

func (w *WorkflowLogic) reoffer(stages []Stage, now float64) error {
	for _, st := range stages {
		if err := w.TryStartService(st, now); err != nil {
			return err
		}
	}
	return nil
}

// HandleArrival registers ticket id, parks it in the backlog and offers dev.
func (w *WorkflowLogic) HandleArrival(id int, now float64) error {
	if err := w.begin(now); err != nil {
		return err
	}
	t, err := w.state.CreateTicket(id, now)
	if err != nil {
		return err
	}
	t.Churn = w.churn.Next()
	w.stats.RecordArrival(t)
	if err := w.state.EnqueueBacklog(t, now); err != nil {
		return err
	}
	logrus.Debugf("Ticket %d arrived at %.4f", id, now)
	w.emit(now, "arrival", id, -1, StageBacklog, "")
	if err := w.TryStartService(StageDev, now); err != nil {
		return err
	}
	w.end()
	return nil
}

// HandleCompletion frees the agent, routes the ticket and re-offers every
// stage whose capacity changed. A completion without a matching assignment
// is logged and skipped.
func (w *WorkflowLogic) HandleCompletion(id int, stage Stage, serviceTime, now float64) error {
	if err := w.begin(now); err != nil {
		return err
	}
	agentID, ok := w.state.ReleaseServer(stage, id)
	if !ok {
		w.releaseAnomalies++
		logrus.Errorf("Ticket %d completed %s at %.4f but holds no server; skipping transition", id, stage, now)
		w.emit(now, "release_anomaly", id, -1, stage, "")
		w.end()
		return nil
	}
	t, ok := w.state.Ticket(id)
	if !ok {
		return &InvariantError{Check: "ticket-exists", Time: now, Detail: fmt.Sprintf("ticket %d released but not registered", id)}
	}
	if err := w.stats.RecordCompletion(id, stage, serviceTime); err != nil {
		return err
	}
	changed, err := w.pool.OnServiceCompletion(agentID, stage, serviceTime, now)
	if err != nil {
		return err
	}
	logrus.Debugf("Ticket %d completed %s at %.4f by agent %d", id, stage, now, agentID)
	w.emit(now, "complete", id, agentID, stage, FormatFloat(serviceTime))

	next, err := w.route(t, stage, now)
	if err != nil {
		return err
	}
	// The freed agent's stage always has capacity again.
	offer := stageSet{}
	if s, ok := StateForStage(stage); ok {
		offer.add(s)
	}
	if s, ok := StateForStage(next); ok {
		offer.add(s)
	}
	for _, st := range changed {
		if s, ok := StateForStage(st); ok {
			offer.add(s)
		}
	}
	if err := w.reoffer(offer.stages(), now); err != nil {
		return err
	}
	w.end()
	return nil
}

// route decides where t goes after completing stage and moves it there.
func (w *WorkflowLogic) route(t *Ticket, stage Stage, now float64) (Stage, error) {
	switch stage {
	case StageDev:
		return StageReview, w.enqueue(t, StageReview, "review_queue", now)
	case StageReview:
		if w.routing.Float64() < w.feedback.PDev {
			t.ReviewReworks++
			if err := w.stats.RecordRework(t.ID, StageReview); err != nil {
				return 0, err
			}
			logrus.Debugf("Ticket %d receives feedback at review, back to dev", t.ID)
			return StageDev, w.enqueue(t, StageDev, "review_feedback", now)
		}
		return StageTesting, w.enqueue(t, StageTesting, "testing_queue", now)
	case StageTesting:
		if w.routing.Float64() < w.feedback.PTest {
			t.TestReworks++
			if err := w.stats.RecordRework(t.ID, StageTesting); err != nil {
				return 0, err
			}
			logrus.Debugf("Ticket %d receives feedback at testing, back to dev", t.ID)
			return StageDev, w.enqueue(t, StageDev, "testing_feedback", now)
		}
		if err := t.Close(now); err != nil {
			return 0, err
		}
		if err := w.stats.RecordClosure(t.ID, now); err != nil {
			return 0, err
		}
		w.emit(now, "closed", t.ID, -1, StageClosed, "")
		return StageClosed, nil
	case StageBacklog, StageClosed:
	}
	return 0, fmt.Errorf("completion at non-service stage %s", stage)
}

func (w *WorkflowLogic) enqueue(t *Ticket, stage Stage, label string, now float64) error {
	if err := t.moveTo(stage, label, now); err != nil {
		return err
	}
	if err := w.state.Enqueue(stage, t, now); err != nil {
		return err
	}
	w.emit(now, "enqueue", t.ID, -1, stage, label)
	return nil
}

// HandleStintExpiry wakes the simulation at the end of an idle agent's
// stint. The transition itself happens in begin; a stale expiry is a no-op.
func (w *WorkflowLogic) HandleStintExpiry(agentID int, epoch uint64, now float64) error {
	if w.armed[agentID] == epoch {
		delete(w.armed, agentID)
	}
	if err := w.begin(now); err != nil {
		return err
	}
	if a, ok := w.pool.Agent(agentID); ok && a.Epoch() == epoch {
		// Still the same stint: round-off left it marginally positive.
		logrus.Debugf("stint expiry for agent %d at %.4f found %.3g days left", agentID, now, a.RemainingStint)
		changed, err := w.pool.Expire(agentID, now)
		if err != nil {
			return err
		}
		if err := w.reoffer(changed, now); err != nil {
			return err
		}
	}
	w.end()
	return nil
}

// TryStartService pairs every idle agent serving stage with a queued ticket
// until agents or tickets run out. For dev, the dev queue (feedback returns)
// is drained before the backlog.
func (w *WorkflowLogic) TryStartService(stage Stage, now float64) error {
	if !stage.IsService() {
		return nil
	}
	for {
		agent, ok := w.pool.AvailableAgentForStage(stage)
		if !ok {
			return nil
		}
		entry, ok := w.takeNext(stage)
		if !ok {
			return nil
		}
		if err := w.start(entry, stage, agent, now); err != nil {
			return err
		}
	}
}

// takeNext removes the selected candidate from the stage's source queue.
func (w *WorkflowLogic) takeNext(stage Stage) (QueueEntry, bool) {
	if items := w.state.Queue(stage); len(items) > 0 {
		return w.state.RemoveAt(stage, w.selector.Select(items))
	}
	if stage != StageDev {
		return QueueEntry{}, false
	}
	if items := w.state.Backlog(); len(items) > 0 {
		return w.state.RemoveBacklogAt(w.selector.Select(items))
	}
	return QueueEntry{}, false
}

func (w *WorkflowLogic) start(entry QueueEntry, stage Stage, agent *DeveloperAgent, now float64) error {
	t := entry.Ticket
	serviceTime, err := w.sampler.Sample(stage)
	if err != nil {
		return err
	}
	if err := w.pool.MarkBusy(agent.ID, now); err != nil {
		return err
	}
	if err := w.state.OccupyServer(stage, agent.ID, t.ID, now, serviceTime); err != nil {
		return err
	}
	if err := t.moveTo(stage, "start_"+stage.String(), now); err != nil {
		return err
	}
	t.incCycles(stage)
	if err := w.stats.RecordServiceStart(t.ID, stage, now-entry.EnqueuedAt); err != nil {
		return err
	}
	delete(w.armed, agent.ID)
	w.sched.Schedule(NewServiceCompletionEvent(now+serviceTime, t.ID, stage, agent.ID, serviceTime))
	logrus.Debugf("Ticket %d started %s with agent %d at %.4f, finishes at %.4f", t.ID, stage, agent.ID, now, now+serviceTime)
	w.emit(now, "start", t.ID, agent.ID, stage, FormatFloat(serviceTime))
	return nil
}

// ReleaseAnomalies counts completions that found no server assignment.
func (w *WorkflowLogic) ReleaseAnomalies() int { return w.releaseAnomalies }
