package core

import "time"

// ExecutionMode controls how aggressively the Workflow Runner suspends
// for human input.
type ExecutionMode string

const (
	ExecutionModeHITL ExecutionMode = "hitl" // human-in-the-loop
	ExecutionModeAFK  ExecutionMode = "afk"  // away-from-keyboard, autonomous
)

// PhaseStatusEntry tracks a single graph phase's run state.
type PhaseStatusEntry struct {
	Status        NodeStatus `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	IterationCount int       `json:"iteration_count"`
	Error         string     `json:"error,omitempty"`
}

// Merge applies the per-phase status reducer: it refuses to overwrite a
// completed status with anything but failed (spec §4.14 state reducers).
func (e *PhaseStatusEntry) Merge(next *PhaseStatusEntry) *PhaseStatusEntry {
	if e == nil {
		return next
	}
	if e.Status == NodeStatusCompleted && next.Status != NodeStatusFailed {
		return e
	}
	return next
}

// GraphRunConfig configures a single Workflow Runner invocation.
type GraphRunConfig struct {
	StartPhase      GraphPhase    `json:"start_phase"`
	EndPhase        GraphPhase    `json:"end_phase"`
	SkipValidation  bool          `json:"skip_validation"`
	Autonomous      bool          `json:"autonomous"`
	BudgetLimits    BudgetLimits  `json:"budget_limits"`
}

// GraphState is the Workflow Graph's shared, reducer-merged state (spec
// §3's WorkflowState). It is distinct from the persisted core.WorkflowState
// used by the StateManager port, which snapshots a simpler teacher-style
// workflow; GraphState is the richer structure the graph's nodes read and
// write as they advance.
type GraphState struct {
	ProjectName string `json:"project_name"`
	ProjectDir  string `json:"project_dir"`

	// Prompt is the user's original request driving this run, the
	// seed the Planning phase dispatches to its planner agent.
	Prompt string `json:"prompt"`

	CurrentPhase GraphPhase                    `json:"current_phase"`
	PhaseStatus  map[GraphPhase]*PhaseStatusEntry `json:"phase_status"`

	Plan *Plan `json:"plan,omitempty"`

	Tasks             map[TaskID]*Task `json:"tasks"`
	CompletedTaskIDs  []TaskID         `json:"completed_task_ids"`
	BlockedTaskIDs    []TaskID         `json:"blocked_task_ids"`
	CurrentTaskID     TaskID           `json:"current_task_id,omitempty"`

	ValidationFeedback   map[string]ReviewFeedback `json:"validation_feedback,omitempty"`
	VerificationFeedback map[string]ReviewFeedback `json:"verification_feedback,omitempty"`

	NextDecision Decision `json:"next_decision"`

	Errors []ErrorContextRecord `json:"errors"` // append-only, bounded

	ExecutionMode   ExecutionMode `json:"execution_mode"`
	PendingInterrupt *Interrupt   `json:"pending_interrupt,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Config GraphRunConfig `json:"config"`
}

// MaxGraphErrors bounds GraphState.Errors; older entries are dropped
// once the log would exceed this size.
const MaxGraphErrors = 1000

// NewGraphState constructs an empty state for a fresh workflow run.
func NewGraphState(projectName, projectDir, prompt string, cfg GraphRunConfig) *GraphState {
	s := &GraphState{
		ProjectName:  projectName,
		ProjectDir:   projectDir,
		Prompt:       prompt,
		CurrentPhase: cfg.StartPhase,
		PhaseStatus:  make(map[GraphPhase]*PhaseStatusEntry),
		Tasks:        make(map[TaskID]*Task),
		ExecutionMode: ExecutionModeHITL,
		NextDecision: DecisionContinue,
		MaxRetries:   3,
		Config:       cfg,
	}
	if cfg.Autonomous {
		s.ExecutionMode = ExecutionModeAFK
	}
	for _, p := range AllGraphPhases() {
		s.PhaseStatus[p] = &PhaseStatusEntry{Status: NodeStatusPending}
	}
	return s
}

// AppendError appends an error record, trimming the oldest entries once
// MaxGraphErrors is exceeded.
func (s *GraphState) AppendError(e ErrorContextRecord) {
	s.Errors = append(s.Errors, e)
	if len(s.Errors) > MaxGraphErrors {
		s.Errors = s.Errors[len(s.Errors)-MaxGraphErrors:]
	}
}

// MarkTaskCompleted records a task id as completed, append-only and
// de-duplicated per the spec's list-merge reducer.
func (s *GraphState) MarkTaskCompleted(id TaskID) {
	for _, existing := range s.CompletedTaskIDs {
		if existing == id {
			return
		}
	}
	s.CompletedTaskIDs = append(s.CompletedTaskIDs, id)
}

// CompletedSet returns the completed task ids as a lookup set, the
// shape Task.IsReady expects.
func (s *GraphState) CompletedSet() map[TaskID]bool {
	out := make(map[TaskID]bool, len(s.CompletedTaskIDs))
	for _, id := range s.CompletedTaskIDs {
		out[id] = true
	}
	return out
}

// IsSuccess is the external caller's success predicate (spec §4.15):
// the graph reached its configured end phase, that phase completed,
// and the last node did not request a retry/escalate/abort.
func (s *GraphState) IsSuccess() bool {
	if s.CurrentPhase != s.Config.EndPhase {
		return false
	}
	entry := s.PhaseStatus[s.Config.EndPhase]
	if entry == nil || entry.Status != NodeStatusCompleted {
		return false
	}
	return s.NextDecision == DecisionContinue
}
