package review

import (
	"context"
	"errors"
	"testing"

	"github.com/quorum-forge/orchestrator/internal/core"
)

func TestCycle_RequiresTwoReviewers(t *testing.T) {
	c := NewCycle([]string{"only-one"}, nil, nil)
	res, err := c.Run(context.Background(), &core.Task{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusError || res.Reason != "No reviewers configured" {
		t.Fatalf("expected reviewer-count error, got %+v", res)
	}
}

func TestCycle_ApprovesOnFirstIteration(t *testing.T) {
	dispatch := func(_ context.Context, _ *core.Task, _ int) (WorkOutput, error) {
		return WorkOutput{Output: "done"}, nil
	}
	reviewFn := func(_ context.Context, reviewerID string, _ *core.Task, _ WorkOutput, _ int) (core.ReviewFeedback, error) {
		return core.ReviewFeedback{ReviewerID: reviewerID, Approved: true, Score: 9.0}, nil
	}
	c := NewCycle([]string{"rev-a", "rev-b"}, dispatch, reviewFn)

	res, err := c.Run(context.Background(), &core.Task{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusApproved {
		t.Fatalf("expected approval, got %+v", res)
	}
}

func TestCycle_EscalatesAfterMaxIterations(t *testing.T) {
	dispatch := func(_ context.Context, _ *core.Task, _ int) (WorkOutput, error) {
		return WorkOutput{Output: "partial"}, nil
	}
	reviewFn := func(_ context.Context, reviewerID string, _ *core.Task, _ WorkOutput, _ int) (core.ReviewFeedback, error) {
		return core.ReviewFeedback{ReviewerID: reviewerID, Approved: false, Score: 2.0, BlockingIssues: []string{"still broken"}}, nil
	}
	c := NewCycle([]string{"rev-a", "rev-b"}, dispatch, reviewFn)
	c.MaxIterations = 2

	res, err := c.Run(context.Background(), &core.Task{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusEscalated {
		t.Fatalf("expected escalation after exhausting iterations, got %+v", res)
	}
}

func TestCycle_WorkingAgentErrorReturnsErrorStatus(t *testing.T) {
	dispatch := func(_ context.Context, _ *core.Task, _ int) (WorkOutput, error) {
		return WorkOutput{}, errors.New("agent crashed")
	}
	c := NewCycle([]string{"rev-a", "rev-b"}, dispatch, nil)

	res, err := c.Run(context.Background(), &core.Task{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusError {
		t.Fatalf("expected error status, got %+v", res)
	}
}

func TestCycle_ReviewerExceptionBecomesRejectedFeedback(t *testing.T) {
	dispatch := func(_ context.Context, _ *core.Task, _ int) (WorkOutput, error) {
		return WorkOutput{Output: "done"}, nil
	}
	reviewFn := func(_ context.Context, reviewerID string, _ *core.Task, _ WorkOutput, _ int) (core.ReviewFeedback, error) {
		if reviewerID == "rev-a" {
			return core.ReviewFeedback{}, errors.New("reviewer process died")
		}
		return core.ReviewFeedback{ReviewerID: reviewerID, Approved: true, Score: 9.0}, nil
	}
	c := NewCycle([]string{"rev-a", "rev-b"}, dispatch, reviewFn)
	c.MaxIterations = 1

	res, _ := c.Run(context.Background(), &core.Task{})
	if res.Status == StatusApproved {
		t.Fatalf("expected reviewer exception to prevent blanket approval")
	}
}
