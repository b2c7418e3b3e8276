// Package recovery implements the Recovery Handler (spec §4.11): routing
// a failed task through a category-specific policy instead of a single
// blanket retry loop.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
	"github.com/quorum-forge/orchestrator/internal/service"
)

// MaxRecoveryErrorLog bounds the in-memory log of recovery attempts
// (spec §9 Open Question #2, resolved at 1000).
const MaxRecoveryErrorLog = 1000

// Outcome is what the Recovery Handler decided to do about a failure.
type Outcome string

const (
	OutcomeRetry           Outcome = "retry"
	OutcomeBackupAgent     Outcome = "backup_agent"
	OutcomeEscalate        Outcome = "escalate"
	OutcomeAbort           Outcome = "abort"
)

// Decision is the Recovery Handler's verdict for one failure.
type Decision struct {
	Outcome    Outcome
	Delay      time.Duration
	Escalation *core.EscalationRequest
}

// EscalationSink persists an escalation request for a human to act on.
type EscalationSink interface {
	Save(ctx context.Context, req core.EscalationRequest) error
}

// FileEscalationSink writes each escalation as its own JSON file under Dir.
type FileEscalationSink struct {
	Dir string
}

// Save writes req as "<dir>/<task_id>-<timestamp>.json".
func (s FileEscalationSink) Save(_ context.Context, req core.EscalationRequest) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating escalation dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d.json", req.TaskID, req.Timestamp.UnixNano())
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling escalation request: %w", err)
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}

// Handler routes DomainErrors to a category-specific policy.
type Handler struct {
	mu       sync.Mutex
	logger   *logging.Logger
	sink     EscalationSink
	attempts map[core.TaskID][]Decision
	policies map[core.ErrorCategory]*service.RetryPolicy
}

// NewHandler builds a Recovery Handler with the default per-category
// backoff policies (transient reuses service.NetworkRetryPolicy, agent
// failure uses a single-attempt backup-agent policy).
func NewHandler(sink EscalationSink, logger *logging.Logger) *Handler {
	return &Handler{
		logger:   logger,
		sink:     sink,
		attempts: make(map[core.TaskID][]Decision),
		policies: map[core.ErrorCategory]*service.RetryPolicy{
			core.ErrCatTransient:    service.NetworkRetryPolicy(),
			core.ErrCatTimeout:      service.TimeoutRetryPolicy(),
			core.ErrCatRateLimit:    service.RateLimitRetryPolicy(),
			core.ErrCatAgentFailure: service.NewRetryPolicy(service.WithMaxAttempts(1)),
		},
	}
}

// Handle classifies err and returns the recovery Decision, recording
// the attempt and (when escalating) persisting an EscalationRequest.
func (h *Handler) Handle(ctx context.Context, taskID core.TaskID, taskErr error, attemptsMade int) (Decision, error) {
	cat := core.GetCategory(taskErr)
	decision := h.decide(cat, taskID, taskErr, attemptsMade)

	h.record(taskID, decision)

	if decision.Outcome == OutcomeEscalate && decision.Escalation != nil && h.sink != nil {
		if err := h.sink.Save(ctx, *decision.Escalation); err != nil {
			return decision, fmt.Errorf("persisting escalation: %w", err)
		}
	}
	if h.logger != nil {
		h.logger.Warn("recovery decision", "task_id", taskID, "category", cat, "outcome", decision.Outcome)
	}
	return decision, nil
}

func (h *Handler) decide(cat core.ErrorCategory, taskID core.TaskID, taskErr error, attemptsMade int) Decision {
	now := time.Now()

	switch cat {
	case core.ErrCatTransient, core.ErrCatTimeout, core.ErrCatRateLimit:
		policy := h.policies[cat]
		if attemptsMade >= policy.MaxAttempts {
			return h.escalate(taskID, taskErr, attemptsMade, core.SeverityMedium, now)
		}
		return Decision{Outcome: OutcomeRetry, Delay: policy.CalculateDelay(attemptsMade + 1)}

	case core.ErrCatAgentFailure:
		if attemptsMade == 0 {
			return Decision{Outcome: OutcomeBackupAgent}
		}
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityMedium, now)

	case core.ErrCatReviewConflict:
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityMedium, now)

	case core.ErrCatSpecMismatch:
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityHigh, now)

	case core.ErrCatBlockingSecurity:
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityCritical, now)

	case core.ErrCatResourceUnavailable:
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityLow, now)

	default:
		return h.escalate(taskID, taskErr, attemptsMade, core.SeverityMedium, now)
	}
}

func (h *Handler) escalate(taskID core.TaskID, taskErr error, attemptsMade int, sev core.EscalationSeverity, now time.Time) Decision {
	req := &core.EscalationRequest{
		TaskID:       taskID,
		Reason:       taskErr.Error(),
		AttemptsMade: attemptsMade,
		Options:      []string{"retry", "skip", "abort"},
		Severity:     sev,
		Timestamp:    now,
	}
	return Decision{Outcome: OutcomeEscalate, Escalation: req}
}

func (h *Handler) record(taskID core.TaskID, d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.attempts[taskID], d)
	if len(list) > MaxRecoveryErrorLog {
		list = list[len(list)-MaxRecoveryErrorLog:]
	}
	h.attempts[taskID] = list
}

// History returns the recorded recovery decisions for taskID, oldest first.
func (h *Handler) History(taskID core.TaskID) []Decision {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Decision, len(h.attempts[taskID]))
	copy(out, h.attempts[taskID])
	return out
}
