package core

import "time"

// EscalationSeverity ranks how urgently a human must respond.
type EscalationSeverity string

const (
	SeverityLow      EscalationSeverity = "low"
	SeverityMedium   EscalationSeverity = "medium"
	SeverityHigh     EscalationSeverity = "high"
	SeverityCritical EscalationSeverity = "critical"
)

// EscalationRequest is persisted as one JSON file per event under
// `<project>/.workflow/escalations/<task_id>_<timestamp>.json`.
type EscalationRequest struct {
	TaskID         TaskID             `json:"task_id"`
	Reason         string             `json:"reason"`
	Context        map[string]any     `json:"context,omitempty"`
	AttemptsMade   int                `json:"attempts_made"`
	Options        []string           `json:"options"`
	Recommendation string             `json:"recommendation,omitempty"`
	Severity       EscalationSeverity `json:"severity"`
	Timestamp      time.Time          `json:"timestamp"`
}

// InterruptType distinguishes the two kinds of human-facing suspension.
type InterruptType string

const (
	InterruptEscalation       InterruptType = "escalation"
	InterruptApprovalRequired InterruptType = "approval_required"
)

// Interrupt is written to GraphState.PendingInterrupt when a node
// suspends; the runner returns control to its caller until a matching
// InterruptResponse is supplied via Resume.
type Interrupt struct {
	Type    InterruptType `json:"type"`
	Phase   GraphPhase    `json:"phase"`
	Payload map[string]any `json:"payload,omitempty"`

	// Escalation-shaped fields (Type == InterruptEscalation).
	Issue             string   `json:"issue,omitempty"`
	ErrorType         string   `json:"error_type,omitempty"`
	SuggestedActions  []string `json:"suggested_actions,omitempty"`
	Clarifications    []string `json:"clarifications,omitempty"`
	RetryCount        int      `json:"retry_count,omitempty"`
	MaxRetries        int      `json:"max_retries,omitempty"`

	// Approval-shaped fields (Type == InterruptApprovalRequired).
	ApprovalType string         `json:"approval_type,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Details      string         `json:"details,omitempty"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	FilesChanged []string       `json:"files_changed,omitempty"`
}

// InterruptAction is the action a human response selects.
type InterruptAction string

const (
	ActionRetry               InterruptAction = "retry"
	ActionSkip                InterruptAction = "skip"
	ActionContinue            InterruptAction = "continue"
	ActionAnswerClarification InterruptAction = "answer_clarification"
	ActionAbort               InterruptAction = "abort"
	ActionApprove             InterruptAction = "approve"
	ActionReject              InterruptAction = "reject"
	ActionRequestChanges      InterruptAction = "request_changes"
)

// InterruptResponse resumes a suspended graph from a pending interrupt.
type InterruptResponse struct {
	Action   InterruptAction   `json:"action"`
	Answers  map[string]string `json:"answers,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}
