package sim

import "fmt"

// Stage is a ticket's position in the workflow.
// Only Dev, Review and Testing are service stages; Backlog and Closed are
// bookkeeping positions without servers.
type Stage int

const (
	StageBacklog Stage = iota
	StageDev
	StageReview
	StageTesting
	StageClosed
)

// ServiceStages lists the stages that have servers, in workflow order.
var ServiceStages = []Stage{StageDev, StageReview, StageTesting}

func (s Stage) String() string {
	switch s {
	case StageBacklog:
		return "backlog"
	case StageDev:
		return "dev"
	case StageReview:
		return "review"
	case StageTesting:
		return "testing"
	case StageClosed:
		return "closed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// IsService reports whether tickets are served (not just parked) at s.
func (s Stage) IsService() bool {
	switch s {
	case StageDev, StageReview, StageTesting:
		return true
	case StageBacklog, StageClosed:
		return false
	}
	return false
}

// ParseStage converts a stage name into a Stage.
func ParseStage(name string) (Stage, error) {
	switch name {
	case "backlog":
		return StageBacklog, nil
	case "dev":
		return StageDev, nil
	case "review":
		return StageReview, nil
	case "testing":
		return StageTesting, nil
	case "closed":
		return StageClosed, nil
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// DevState is the semi-Markov state of a developer agent.
type DevState int

const (
	StateOff DevState = iota
	StateDev
	StateRev
	StateTest
)

// NumStates is the dimension of the transition matrix.
const NumStates = 4

// AllStates lists every DevState in transition-matrix order.
var AllStates = [NumStates]DevState{StateOff, StateDev, StateRev, StateTest}

func (d DevState) String() string {
	switch d {
	case StateOff:
		return "OFF"
	case StateDev:
		return "DEV"
	case StateRev:
		return "REV"
	case StateTest:
		return "TEST"
	}
	return fmt.Sprintf("state(%d)", int(d))
}

// ParseDevState converts a state label (OFF, DEV, REV, TEST) into a DevState.
func ParseDevState(name string) (DevState, error) {
	switch name {
	case "OFF":
		return StateOff, nil
	case "DEV":
		return StateDev, nil
	case "REV":
		return StateRev, nil
	case "TEST":
		return StateTest, nil
	}
	return 0, fmt.Errorf("unknown developer state %q", name)
}

// Stage returns the service stage an agent in state d can serve.
// OFF serves nothing.
func (d DevState) Stage() (Stage, bool) {
	switch d {
	case StateDev:
		return StageDev, true
	case StateRev:
		return StageReview, true
	case StateTest:
		return StageTesting, true
	case StateOff:
		return 0, false
	}
	return 0, false
}

// StateForStage is the inverse of DevState.Stage.
func StateForStage(s Stage) (DevState, bool) {
	switch s {
	case StageDev:
		return StateDev, true
	case StageReview:
		return StateRev, true
	case StageTesting:
		return StateTest, true
	case StageBacklog, StageClosed:
		return 0, false
	}
	return 0, false
}
