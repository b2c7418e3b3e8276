package review

import (
	"testing"

	"github.com/quorum-forge/orchestrator/internal/core"
)

func TestResolve_AuthorityVeto(t *testing.T) {
	a := core.ReviewFeedback{Score: 9.0, BlockingIssues: []string{"SQL injection possible in handler"}}
	b := core.ReviewFeedback{Score: 8.0}

	res := Resolve(a, b, DefaultWeights())
	if res.Action != core.ResolutionReject || res.FinalScore != 0 {
		t.Fatalf("expected authority veto reject with score 0, got %+v", res)
	}
}

func TestResolve_ProcessGapDoesNotVeto(t *testing.T) {
	a := core.ReviewFeedback{Score: 8.0, BlockingIssues: []string{"injection handling not specified in the plan"}}
	b := core.ReviewFeedback{Score: 8.0}

	res := Resolve(a, b, DefaultWeights())
	if res.Action == core.ResolutionReject && res.FinalScore == 0 {
		t.Fatalf("expected process-gap text to not trigger authority veto, got %+v", res)
	}
}

func TestResolve_RealBlockerRejects(t *testing.T) {
	a := core.ReviewFeedback{Score: 9.0, BlockingIssues: []string{"off-by-one error in loop bound"}}
	b := core.ReviewFeedback{Score: 9.0}

	res := Resolve(a, b, DefaultWeights())
	if res.Action != core.ResolutionReject {
		t.Fatalf("expected real blocker to reject, got %+v", res)
	}
}

func TestResolve_HighDisagreementEscalates(t *testing.T) {
	a := core.ReviewFeedback{Score: 9.0}
	b := core.ReviewFeedback{Score: 5.0}

	res := Resolve(a, b, DefaultWeights())
	if res.Action != core.ResolutionEscalate {
		t.Fatalf("expected escalate on high disagreement, got %+v", res)
	}
}

func TestResolve_BelowThresholdRejects(t *testing.T) {
	a := core.ReviewFeedback{Score: 5.0}
	b := core.ReviewFeedback{Score: 5.5}

	res := Resolve(a, b, DefaultWeights())
	if res.Action != core.ResolutionReject {
		t.Fatalf("expected below-threshold reject, got %+v", res)
	}
}

func TestResolve_Approves(t *testing.T) {
	a := core.ReviewFeedback{Score: 8.0}
	b := core.ReviewFeedback{Score: 7.5}

	res := Resolve(a, b, DefaultWeights())
	if res.Action != core.ResolutionApprove || !res.Approved {
		t.Fatalf("expected approve, got %+v", res)
	}
}

func TestResolve_DefaultWeightsOnEmpty(t *testing.T) {
	a := core.ReviewFeedback{Score: 8.0}
	b := core.ReviewFeedback{Score: 8.0}

	res := Resolve(a, b, Weights{})
	if res.Action != core.ResolutionApprove {
		t.Fatalf("expected empty weights to fall back to defaults and approve, got %+v", res)
	}
}
