package uws

import "fmt"

// ExecutionPhase is the lifecycle state of a job.
type ExecutionPhase string

const (
	PhasePending   ExecutionPhase = "PENDING"
	PhaseQueued    ExecutionPhase = "QUEUED"
	PhaseExecuting ExecutionPhase = "EXECUTING"
	PhaseCompleted ExecutionPhase = "COMPLETED"
	PhaseError     ExecutionPhase = "ERROR"
	PhaseAborted   ExecutionPhase = "ABORTED"
	PhaseHeld      ExecutionPhase = "HELD"
	PhaseSuspended ExecutionPhase = "SUSPENDED"
	PhaseArchived  ExecutionPhase = "ARCHIVED"
	PhaseUnknown   ExecutionPhase = "UNKNOWN"
)

// ActivePhases are the phases a long-poll may wait on. Jobs in any other
// phase have reached a settled state.
var ActivePhases = []ExecutionPhase{PhasePending, PhaseQueued, PhaseExecuting}

var allPhases = map[ExecutionPhase]struct{}{
	PhasePending:   {},
	PhaseQueued:    {},
	PhaseExecuting: {},
	PhaseCompleted: {},
	PhaseError:     {},
	PhaseAborted:   {},
	PhaseHeld:      {},
	PhaseSuspended: {},
	PhaseArchived:  {},
	PhaseUnknown:   {},
}

func (p ExecutionPhase) IsActive() bool {
	for _, a := range ActivePhases {
		if p == a {
			return true
		}
	}
	return false
}

func ParsePhase(s string) (ExecutionPhase, error) {
	p := ExecutionPhase(s)
	if _, ok := allPhases[p]; !ok {
		return "", fmt.Errorf("unknown execution phase %q", s)
	}
	return p, nil
}
