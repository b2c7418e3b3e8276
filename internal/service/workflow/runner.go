package workflow

import (
	"context"
	"fmt"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
	"github.com/quorum-forge/orchestrator/internal/service"
	"github.com/quorum-forge/orchestrator/internal/service/budget"
	"github.com/quorum-forge/orchestrator/internal/service/cleanup"
	"github.com/quorum-forge/orchestrator/internal/service/dispatch"
	"github.com/quorum-forge/orchestrator/internal/service/errctx"
	"github.com/quorum-forge/orchestrator/internal/service/recovery"
	"github.com/quorum-forge/orchestrator/internal/service/review"
	"github.com/quorum-forge/orchestrator/internal/service/session"
	"github.com/quorum-forge/orchestrator/internal/service/verify"
	"github.com/quorum-forge/orchestrator/internal/service/worktree"
)

// Deps bundles every collaborator a graph node needs. A Runner is built
// once per process and can drive many GraphState runs sequentially.
type Deps struct {
	Registry   *core.AgentRegistryTable
	Agents     core.AgentRegistry
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	ErrorCtx   *errctx.Manager
	Budget     *budget.Manager // optional
	Worktrees  *worktree.Manager
	Cleanup    *cleanup.Manager
	Recovery   *recovery.Handler
	Verifier   verify.Verifier
	Metrics    *service.MetricsCollector
	Rates      *service.RateLimiterRegistry
	Logger     *logging.Logger

	// ReviewerIDs names the two agent descriptors that staff every
	// four-eyes gate (spec §4.9/§4.10); Validation and Verification
	// both dispatch to exactly these two.
	ReviewerIDs []string
	Weights     review.Weights
}

// node is one graph phase's implementation. It mutates state in place
// and returns the error that aborts the run entirely (distinct from a
// node recording a recoverable failure via state.NextDecision).
type node func(ctx context.Context, d *Deps, state *core.GraphState) error

var nodes = map[core.GraphPhase]node{
	core.GraphPhasePrerequisites:  runPrerequisites,
	core.GraphPhasePlanning:       runPlanning,
	core.GraphPhaseValidation:     runValidation,
	core.GraphPhaseImplementation: runImplementation,
	core.GraphPhaseVerification:   runVerification,
	core.GraphPhaseCompletion:     runCompletion,
}

// Runner drives a GraphState through the Workflow Graph's six phases,
// checkpointing after every node and suspending whenever a node sets
// PendingInterrupt.
type Runner struct {
	Deps
	checkpoint *GraphCheckpointer
}

// NewRunner builds a Runner rooted at projectDir for checkpointing.
func NewRunner(deps Deps, projectDir string) *Runner {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Runner{Deps: deps, checkpoint: NewGraphCheckpointer(projectDir)}
}

// Run drives state from its CurrentPhase to Config.EndPhase (or until a
// node suspends it with a PendingInterrupt). Returns the final state
// whether or not the run reached EndPhase; callers check IsSuccess or
// PendingInterrupt to distinguish completion from suspension.
func (r *Runner) Run(ctx context.Context, state *core.GraphState) (*core.GraphState, error) {
	for {
		if state.PendingInterrupt != nil {
			return state, nil
		}
		if err := r.runOnePhase(ctx, state); err != nil {
			return state, err
		}
		if state.PendingInterrupt != nil {
			return state, nil
		}
		if state.CurrentPhase == state.Config.EndPhase {
			return state, nil
		}
		next := nextPhase(state)
		if next < 0 {
			return state, nil
		}
		state.CurrentPhase = next
	}
}

func (r *Runner) runOnePhase(ctx context.Context, state *core.GraphState) error {
	phase := state.CurrentPhase
	n, ok := nodes[phase]
	if !ok {
		return fmt.Errorf("no node registered for graph phase %s", phase)
	}

	entry := state.PhaseStatus[phase]
	started := entry
	state.PhaseStatus[phase] = started.Merge(&core.PhaseStatusEntry{Status: core.NodeStatusRunning})

	err := n(ctx, &r.Deps, state)

	result := &core.PhaseStatusEntry{Status: core.NodeStatusCompleted}
	if err != nil {
		result = &core.PhaseStatusEntry{Status: core.NodeStatusFailed, Error: err.Error()}
	}
	state.PhaseStatus[phase] = state.PhaseStatus[phase].Merge(result)

	if cpErr := r.checkpoint.Save(ctx, state); cpErr != nil {
		r.Logger.Warn("failed to checkpoint graph state", "phase", phase, "error", cpErr)
	}
	return err
}

// nextPhase applies the router (spec §4.14): NextDecision picks between
// advancing, retrying the current phase, or rewinding to Planning on an
// escalated rejection.
func nextPhase(state *core.GraphState) core.GraphPhase {
	switch state.NextDecision {
	case core.DecisionRetry:
		return state.CurrentPhase
	case core.DecisionAbort:
		return -1
	case core.DecisionEscalate:
		return -1
	default:
		return core.NextGraphPhase(state.CurrentPhase)
	}
}

// Resume consumes a pending interrupt with a human response and
// continues the run from where it suspended.
func (r *Runner) Resume(ctx context.Context, state *core.GraphState, response core.InterruptResponse) (*core.GraphState, error) {
	if state.PendingInterrupt == nil {
		return state, fmt.Errorf("no pending interrupt to resume")
	}
	interrupt := state.PendingInterrupt
	state.PendingInterrupt = nil

	switch response.Action {
	case core.ActionAbort, core.ActionReject:
		state.NextDecision = core.DecisionAbort
		return state, nil
	case core.ActionRetry, core.ActionRequestChanges:
		state.NextDecision = core.DecisionRetry
		state.RetryCount++
	default:
		state.NextDecision = core.DecisionContinue
	}
	_ = interrupt

	if state.NextDecision == core.DecisionAbort {
		return state, nil
	}

	next := nextPhase(state)
	if next >= 0 {
		state.CurrentPhase = next
	}
	return r.Run(ctx, state)
}

// GetState loads the checkpointed state for a resumed run, or nil if none exists.
func (r *Runner) GetState(ctx context.Context) (*core.GraphState, error) {
	return r.checkpoint.Load(ctx)
}

// GetPendingInterrupt is a convenience accessor used by callers that
// only care whether a run is currently suspended.
func (r *Runner) GetPendingInterrupt(state *core.GraphState) *core.Interrupt {
	if state == nil {
		return nil
	}
	return state.PendingInterrupt
}
