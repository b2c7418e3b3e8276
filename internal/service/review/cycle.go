package review

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// DefaultMaxIterations and DefaultApprovalScore are the Review Cycle's
// spec defaults (spec §4.10).
const (
	DefaultMaxIterations = 3
	DefaultApprovalScore = 7.0
	MaxCycleLogEntries   = 100
)

// Status is the Review Cycle's terminal or per-iteration verdict.
type Status string

const (
	StatusApproved     Status = "APPROVED"
	StatusNeedsChanges Status = "NEEDS_CHANGES"
	StatusConflict     Status = "CONFLICT"
	StatusError        Status = "error"
	StatusEscalated    Status = "escalated"
)

// WorkOutput is what the working agent produced for one iteration.
type WorkOutput struct {
	Output        string
	FilesCreated  []string
	FilesModified []string
	Failed        bool
	Error         string
}

// WorkingDispatchFunc invokes the working agent for one iteration. task
// carries accumulated PreviousFeedback from prior iterations.
type WorkingDispatchFunc func(ctx context.Context, task *core.Task, iteration int) (WorkOutput, error)

// ReviewDispatchFunc invokes one reviewer against a completed iteration.
type ReviewDispatchFunc func(ctx context.Context, reviewerID string, task *core.Task, work WorkOutput, iteration int) (core.ReviewFeedback, error)

// CycleLogEntry records one iteration's outcome in a bounded history.
type CycleLogEntry struct {
	Iteration int
	Status    Status
	Reviews   []core.ReviewFeedback
}

// Cycle drives execute→parallel-review→feedback-merge→retry for a
// single working task.
type Cycle struct {
	MaxIterations int
	ApprovalScore float64
	ReviewerIDs   []string
	Dispatch      WorkingDispatchFunc
	Review        ReviewDispatchFunc
	Weights       Weights

	log []CycleLogEntry
}

// NewCycle builds a Cycle with spec defaults; callers override fields
// as needed before calling Run.
func NewCycle(reviewerIDs []string, dispatch WorkingDispatchFunc, reviewFn ReviewDispatchFunc) *Cycle {
	return &Cycle{
		MaxIterations: DefaultMaxIterations,
		ApprovalScore: DefaultApprovalScore,
		ReviewerIDs:   reviewerIDs,
		Dispatch:      dispatch,
		Review:        reviewFn,
		Weights:       DefaultWeights(),
	}
}

// Result is what Run returns once the cycle terminates.
type Result struct {
	Status  Status
	Reason  string
	Output  WorkOutput
	Reviews []core.ReviewFeedback
}

// Run executes the cycle for task until approval, escalation, or
// max-iterations exhaustion.
func (c *Cycle) Run(ctx context.Context, task *core.Task) (Result, error) {
	if len(c.ReviewerIDs) < 2 {
		return Result{Status: StatusError, Reason: "No reviewers configured"}, nil
	}

	for iteration := 1; iteration <= c.MaxIterations; iteration++ {
		work, err := c.Dispatch(ctx, task, iteration)
		if err != nil {
			return Result{Status: StatusError, Reason: fmt.Sprintf("Working agent error: %v", err)}, nil
		}
		if work.Failed && work.Output == "" {
			return Result{Status: StatusError, Reason: fmt.Sprintf("Working agent error: %s", work.Error)}, nil
		}

		reviews := c.fanOutReviews(ctx, task, work, iteration)
		status, reason := c.decide(reviews)
		c.appendLog(CycleLogEntry{Iteration: iteration, Status: status, Reviews: reviews})

		if status == StatusApproved {
			return Result{Status: StatusApproved, Output: work, Reviews: reviews}, nil
		}

		task.PreviousFeedback = rejectedFeedback(reviews)
	}

	return Result{
		Status: StatusEscalated,
		Reason: fmt.Sprintf("Max iterations (%d) exceeded without approval", c.MaxIterations),
	}, nil
}

func (c *Cycle) fanOutReviews(ctx context.Context, task *core.Task, work WorkOutput, iteration int) []core.ReviewFeedback {
	reviews := make([]core.ReviewFeedback, len(c.ReviewerIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, reviewerID := range c.ReviewerIDs {
		i, reviewerID := i, reviewerID
		g.Go(func() error {
			fb, err := c.Review(gctx, reviewerID, task, work, iteration)
			if err != nil {
				fb = core.ReviewFeedback{
					ReviewerID:     reviewerID,
					Approved:       false,
					Score:          0,
					BlockingIssues: []string{err.Error()},
				}
			}
			reviews[i] = fb
			return nil
		})
	}
	_ = g.Wait()
	return reviews
}

func (c *Cycle) decide(reviews []core.ReviewFeedback) (Status, string) {
	allApproved := true
	noneApproved := true
	for _, r := range reviews {
		if r.Approved && r.Score >= c.ApprovalScore {
			noneApproved = false
		} else {
			allApproved = false
		}
	}
	if allApproved {
		return StatusApproved, "all reviewers approved"
	}
	if noneApproved {
		return StatusNeedsChanges, "no reviewer approved"
	}

	if len(reviews) == 2 {
		res := Resolve(reviews[0], reviews[1], c.Weights)
		switch res.Action {
		case core.ResolutionApprove:
			return StatusApproved, res.DecisionReason
		case core.ResolutionReject:
			return StatusNeedsChanges, res.DecisionReason
		default:
			return StatusConflict, res.DecisionReason
		}
	}
	return StatusNeedsChanges, "mixed verdicts from more than two reviewers"
}

func rejectedFeedback(reviews []core.ReviewFeedback) []core.ReviewFeedback {
	var out []core.ReviewFeedback
	for _, r := range reviews {
		if !r.Approved {
			out = append(out, r)
		}
	}
	return out
}

func (c *Cycle) appendLog(entry CycleLogEntry) {
	c.log = append(c.log, entry)
	if len(c.log) > MaxCycleLogEntries {
		c.log = c.log[len(c.log)-MaxCycleLogEntries:]
	}
}

// Log returns the bounded iteration history recorded so far.
func (c *Cycle) Log() []CycleLogEntry {
	out := make([]CycleLogEntry, len(c.log))
	copy(out, c.log)
	return out
}
