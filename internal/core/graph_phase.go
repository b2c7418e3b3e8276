package core

import "fmt"

// GraphPhase is a stage of the top-level Workflow Graph (distinct from
// Phase, which tracks an individual task's analyze/plan/execute cycle).
// The graph runs six ordered phases: prerequisites gate entry, planning
// produces a task breakdown, validation and verification are the two
// four-eyes review gates bracketing implementation, and completion
// finalises the run.
type GraphPhase int

const (
	GraphPhasePrerequisites GraphPhase = iota
	GraphPhasePlanning
	GraphPhaseValidation
	GraphPhaseImplementation
	GraphPhaseVerification
	GraphPhaseCompletion
)

// AllGraphPhases returns all graph phases in execution order.
func AllGraphPhases() []GraphPhase {
	return []GraphPhase{
		GraphPhasePrerequisites,
		GraphPhasePlanning,
		GraphPhaseValidation,
		GraphPhaseImplementation,
		GraphPhaseVerification,
		GraphPhaseCompletion,
	}
}

// GraphPhaseOrder returns the numeric order of a graph phase (0-indexed).
func GraphPhaseOrder(p GraphPhase) int {
	if !ValidGraphPhase(p) {
		return -1
	}
	return int(p)
}

// NextGraphPhase returns the phase following p, or -1 if p is the last.
func NextGraphPhase(p GraphPhase) GraphPhase {
	if !ValidGraphPhase(p) || p == GraphPhaseCompletion {
		return -1
	}
	return p + 1
}

// PrevGraphPhase returns the phase preceding p, or -1 if p is the first.
func PrevGraphPhase(p GraphPhase) GraphPhase {
	if !ValidGraphPhase(p) || p == GraphPhasePrerequisites {
		return -1
	}
	return p - 1
}

// ValidGraphPhase reports whether p is one of the six defined phases.
func ValidGraphPhase(p GraphPhase) bool {
	return p >= GraphPhasePrerequisites && p <= GraphPhaseCompletion
}

// ParseGraphPhase converts a name or ordinal string into a GraphPhase.
func ParseGraphPhase(s string) (GraphPhase, error) {
	for _, p := range AllGraphPhases() {
		if p.String() == s {
			return p, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		p := GraphPhase(n)
		if ValidGraphPhase(p) {
			return p, nil
		}
	}
	return -1, fmt.Errorf("invalid graph phase: %s", s)
}

// String returns the canonical name of the graph phase.
func (p GraphPhase) String() string {
	switch p {
	case GraphPhasePrerequisites:
		return "prerequisites"
	case GraphPhasePlanning:
		return "planning"
	case GraphPhaseValidation:
		return "validation"
	case GraphPhaseImplementation:
		return "implementation"
	case GraphPhaseVerification:
		return "verification"
	case GraphPhaseCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// Description returns a human-readable description of the graph phase.
func (p GraphPhase) Description() string {
	switch p {
	case GraphPhasePrerequisites:
		return "Validate spec presence, workflow directory, and agent availability"
	case GraphPhasePlanning:
		return "Research, discuss, and break the project down into tasks"
	case GraphPhaseValidation:
		return "Two independent reviewers validate the plan before implementation"
	case GraphPhaseImplementation:
		return "Execute tasks in dependency order, each gated by review or verification"
	case GraphPhaseVerification:
		return "Two independent reviewers validate the completed implementation"
	case GraphPhaseCompletion:
		return "Finalise the workflow and emit a summary"
	default:
		return "unknown graph phase"
	}
}

// NodeStatus is the run status of a single graph node or phase.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Decision is the value a terminal node writes to WorkflowState.NextDecision,
// consumed by conditional routers to pick the next graph node.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
	DecisionAbort    Decision = "abort"
)
