// Package review implements the Conflict Resolver and Review Cycle
// (spec §4.9, §4.10): reducing two heterogeneous reviewer verdicts to a
// single decision, and driving execute→review→retry for one task.
package review

import (
	"strings"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// DomainAuthority maps a keyword found in a blocking issue to the
// reviewer id that holds authority over that domain. Reviewer "A" is
// the first ReviewFeedback passed to Resolve, "B" the second.
var DomainAuthority = map[string]string{
	"injection":            "A",
	"xss":                  "A",
	"privilege escalation": "A",
	"sql injection":        "A",
	"csrf":                 "A",
	"secrets":              "A",
}

var processGapMarkers = []string{
	"not specified", "missing", "should include", "no mention", "unclear",
}

func isProcessGap(issue string) bool {
	lower := strings.ToLower(issue)
	for _, m := range processGapMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Weights is the Conflict Resolver's per-side weighting; defaults to
// {A: 0.6, B: 0.4} and is normalised to sum to 1 before use.
type Weights struct {
	A float64
	B float64
}

// DefaultWeights returns the spec default {A: 0.6, B: 0.4}.
func DefaultWeights() Weights {
	return Weights{A: 0.6, B: 0.4}
}

func (w Weights) normalized() Weights {
	sum := w.A + w.B
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{A: w.A / sum, B: w.B / sum}
}

// Resolve reduces reviewer A and B's feedback to a single
// ResolutionResult following the spec's ordered algorithm: authority
// veto, weighted score, real-blocker partition, high-disagreement
// escalation, below-threshold reject, else approve.
func Resolve(a, b core.ReviewFeedback, weights Weights) core.ResolutionResult {
	if res, ok := authorityVeto(a, b); ok {
		return res
	}

	w := weights.normalized()
	weighted := a.Score*w.A + b.Score*w.B

	realBlockers := realBlockersOf(a, b)
	if len(realBlockers) > 0 {
		return core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: "Real blocking issues reported",
			BlockingIssues: realBlockers,
			Action:         core.ResolutionReject,
		}
	}

	if diff := a.Score - b.Score; diff > 3.0 || diff < -3.0 {
		return core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: "High disagreement between reviewers",
			Action:         core.ResolutionEscalate,
		}
	}

	if weighted < 6.0 {
		return core.ResolutionResult{
			Approved:       false,
			FinalScore:     weighted,
			DecisionReason: "Weighted score below threshold",
			Action:         core.ResolutionReject,
		}
	}

	return core.ResolutionResult{
		Approved:       true,
		FinalScore:     weighted,
		DecisionReason: "Weighted score meets threshold",
		Action:         core.ResolutionApprove,
	}
}

func authorityVeto(a, b core.ReviewFeedback) (core.ResolutionResult, bool) {
	if res, ok := vetoFrom("A", a); ok {
		return res, true
	}
	if res, ok := vetoFrom("B", b); ok {
		return res, true
	}
	return core.ResolutionResult{}, false
}

func vetoFrom(side string, fb core.ReviewFeedback) (core.ResolutionResult, bool) {
	for _, issue := range fb.BlockingIssues {
		if isProcessGap(issue) {
			continue
		}
		lower := strings.ToLower(issue)
		for keyword, authority := range DomainAuthority {
			if authority != side {
				continue
			}
			if strings.Contains(lower, keyword) {
				return core.ResolutionResult{
					Approved:       false,
					FinalScore:     0,
					DecisionReason: "Authority Veto: " + side + " flagged " + keyword,
					BlockingIssues: []string{issue},
					Action:         core.ResolutionReject,
				}, true
			}
		}
	}
	return core.ResolutionResult{}, false
}

func realBlockersOf(a, b core.ReviewFeedback) []string {
	var out []string
	for _, issue := range a.BlockingIssues {
		if !isProcessGap(issue) {
			out = append(out, issue)
		}
	}
	for _, issue := range b.BlockingIssues {
		if !isProcessGap(issue) {
			out = append(out, issue)
		}
	}
	return out
}
