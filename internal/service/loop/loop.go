// Package loop implements the Unified Loop Runner (spec §4.7): the
// heart of per-task execution, orchestrating one agent, one verifier,
// and the session/error-context/budget/HITL managers into a bounded
// retry loop.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
	"github.com/quorum-forge/orchestrator/internal/service/budget"
	"github.com/quorum-forge/orchestrator/internal/service/errctx"
	"github.com/quorum-forge/orchestrator/internal/service/session"
	"github.com/quorum-forge/orchestrator/internal/service/verify"
)

// DefaultMaxIterations bounds a single task's agent+verify cycles.
const DefaultMaxIterations = 10

// DefaultVerifyTimeout is the per-iteration verification budget (spec step 9).
const DefaultVerifyTimeout = 60 * time.Second

// DefaultCompletionPatterns are the sentinel phrases the loop looks for
// across adapter families when no per-agent override is supplied.
var DefaultCompletionPatterns = []string{
	"TASK_COMPLETE", "DONE", "### Task Complete", "<task_complete/>",
}

// Reason enumerates the terminal states a run can end in.
type Reason string

const (
	ReasonCompletionSignal   Reason = "completion_signal_detected"
	ReasonVerificationPassed Reason = "verification_passed"
	ReasonBudgetExceeded     Reason = "budget_exceeded"
	ReasonMaxBudgetReached   Reason = "max_budget_reached"
	ReasonHumanPaused        Reason = "human_paused"
	ReasonMaxIterations      Reason = "max_iterations_reached"
)

// Result is the Unified Loop Runner's final report.
type Result struct {
	Success           bool
	Reason            Reason
	Output            string
	Iterations        int
	SessionID         string
	CumulativeCostUSD float64
}

// HITLCallback is invoked after each failed iteration; returning
// "stop" pauses the loop for human attention.
type HITLCallback func(iteration int, payload map[string]interface{}) string

// Config tunes a Runner away from the spec defaults.
type Config struct {
	MaxIterations      int
	PerIterationBudget float64
	MaxBudgetUSD       float64
	VerifyTimeout      time.Duration
	CompletionPatterns []string
}

// DefaultConfig returns the spec's default bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      DefaultMaxIterations,
		VerifyTimeout:      DefaultVerifyTimeout,
		CompletionPatterns: DefaultCompletionPatterns,
	}
}

// Runner drives one task through the unified loop.
type Runner struct {
	Agent      core.Agent
	Verifier   verify.Verifier
	Sessions   *session.Manager
	ErrorCtx   *errctx.Manager
	Budget     *budget.Manager // optional; nil disables budget gating
	Logger     *logging.Logger
	ProjectDir string
	Config     Config
}

// NewRunner builds a Runner with spec defaults; override Config fields
// as needed before calling Run.
func NewRunner(agent core.Agent, verifier verify.Verifier, sessions *session.Manager, errCtx *errctx.Manager, projectDir string, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		Agent:      agent,
		Verifier:   verifier,
		Sessions:   sessions,
		ErrorCtx:   errCtx,
		ProjectDir: projectDir,
		Logger:     logger,
		Config:     DefaultConfig(),
	}
}

// Run executes the bounded retry loop for task.
func (r *Runner) Run(ctx context.Context, task *core.Task, promptOverride string, hitl HITLCallback) (Result, error) {
	maxIter := r.Config.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	var cumulativeCost float64
	sess := r.Sessions.GetOrCreate(string(task.ID), time.Now())

	for iteration := 1; iteration <= maxIter; iteration++ {
		if r.Budget != nil {
			ok, reason, err := r.Budget.CanSpend(ctx, task.ID, r.Config.PerIterationBudget)
			if err != nil {
				return Result{Iterations: iteration - 1}, fmt.Errorf("checking budget: %w", err)
			}
			if !ok {
				r.Logger.Warn("budget exceeded", "task_id", task.ID, "reason", reason)
				return Result{Reason: ReasonBudgetExceeded, Iterations: iteration - 1, CumulativeCostUSD: cumulativeCost}, nil
			}
			if r.Config.MaxBudgetUSD > 0 && cumulativeCost >= r.Config.MaxBudgetUSD {
				return Result{Reason: ReasonMaxBudgetReached, Iterations: iteration - 1, CumulativeCostUSD: cumulativeCost}, nil
			}
		}

		prompt := r.buildPrompt(promptOverride, task, iteration, maxIter)

		opts := core.DefaultExecuteOptions()
		opts.Prompt = prompt
		opts.WorkDir = r.ProjectDir
		opts.SessionID = sess.SessionID

		execResult, execErr := r.Agent.Execute(ctx, opts)
		r.Sessions.Touch(sess.SessionID, time.Now())

		if execErr != nil {
			rec := r.ErrorCtx.Record(task.ID, iteration, execErr.Error(), "", "", "", time.Now())
			r.Logger.Warn("iteration failed", "task_id", task.ID, "iteration", iteration, "classification", rec.Classification)
			if hitl != nil && hitl(iteration, map[string]interface{}{"error": execErr.Error()}) == "stop" {
				return Result{Reason: ReasonHumanPaused, Iterations: iteration, CumulativeCostUSD: cumulativeCost}, nil
			}
			continue
		}

		if execResult.CostUSD > 0 {
			cumulativeCost += execResult.CostUSD
			if r.Budget != nil {
				_ = r.Budget.RecordSpend(ctx, core.SpendRecord{
					TaskID: task.ID, Agent: r.Agent.Name(), CostUSD: execResult.CostUSD, Model: execResult.Model,
					TokensIn: execResult.TokensIn, TokensOut: execResult.TokensOut, Timestamp: time.Now(),
				})
			}
		}

		if capturedID, ok := session.CaptureSessionIDFromOutput(execResult.Output); ok && capturedID != sess.SessionID {
			sess = r.Sessions.Create(string(task.ID), time.Now())
		}

		r.persistIterationLog(task.ID, iteration, execResult)

		if detectCompletion(execResult.Output, r.completionPatterns()) {
			r.ErrorCtx.ClearTaskErrors(task.ID)
			r.Sessions.Close(sess.SessionID)
			return Result{Success: true, Reason: ReasonCompletionSignal, Output: execResult.Output, Iterations: iteration, SessionID: sess.SessionID, CumulativeCostUSD: cumulativeCost}, nil
		}

		vctx := verify.Context{ProjectDir: r.ProjectDir, TestFiles: task.TestFiles, TaskID: string(task.ID), Iteration: iteration, Timeout: r.verifyTimeout()}
		vres, verr := r.Verifier.Verify(ctx, vctx)
		if verr != nil {
			rec := r.ErrorCtx.Record(task.ID, iteration, verr.Error(), "", "", "", time.Now())
			r.Logger.Warn("verifier error", "task_id", task.ID, "classification", rec.Classification)
			continue
		}

		if vres.Passed {
			r.ErrorCtx.ClearTaskErrors(task.ID)
			r.Sessions.Close(sess.SessionID)
			return Result{Success: true, Reason: ReasonVerificationPassed, Output: execResult.Output, Iterations: iteration, SessionID: sess.SessionID, CumulativeCostUSD: cumulativeCost}, nil
		}

		r.ErrorCtx.Record(task.ID, iteration, vres.Summary, topFailures(vres.Failures, 3), "", "", time.Now())

		if hitl != nil {
			if hitl(iteration, map[string]interface{}{"verification_result": vres, "files_changed": task.FilesToModify}) == "stop" {
				return Result{Reason: ReasonHumanPaused, Iterations: iteration, CumulativeCostUSD: cumulativeCost}, nil
			}
		}
	}

	return Result{Reason: ReasonMaxIterations, Iterations: maxIter, SessionID: sess.SessionID, CumulativeCostUSD: cumulativeCost}, nil
}

func (r *Runner) completionPatterns() []string {
	if len(r.Config.CompletionPatterns) > 0 {
		return r.Config.CompletionPatterns
	}
	return DefaultCompletionPatterns
}

func (r *Runner) verifyTimeout() time.Duration {
	if r.Config.VerifyTimeout > 0 {
		return r.Config.VerifyTimeout
	}
	return DefaultVerifyTimeout
}

func detectCompletion(output string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(output, p) {
			return true
		}
	}
	return false
}

func topFailures(failures []verify.Failure, n int) string {
	var b strings.Builder
	for i, f := range failures {
		if i >= n {
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Message)
	}
	return b.String()
}

// buildPrompt renders the fixed-structure template (spec §4.7) or uses
// the caller-supplied override, then layers in error-context history.
func (r *Runner) buildPrompt(override string, task *core.Task, iteration, maxIterations int) string {
	base := override
	if base == "" {
		base = renderTemplate(task, iteration, maxIterations)
	}
	history := r.ErrorCtx.ForTask(task.ID)
	return errctx.BuildRetryPrompt(base, history)
}

func renderTemplate(task *core.Task, iteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "%s\n\n", task.Description)

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	writeList(&b, "Files to Create", task.FilesToCreate)
	writeList(&b, "Files to Modify", task.FilesToModify)
	writeList(&b, "Test Files", task.TestFiles)

	fmt.Fprintf(&b, "Follow test-driven development: see a failing test, implement the minimal change to pass it, iterate.\n")
	fmt.Fprintf(&b, "This is iteration %d of %d. Emit your completion sentinel once the task is fully done.\n", iteration, maxIterations)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", title)
	for _, i := range items {
		fmt.Fprintf(b, "- %s\n", i)
	}
	b.WriteString("\n")
}

func (r *Runner) persistIterationLog(taskID core.TaskID, iteration int, result *core.ExecuteResult) {
	dir := filepath.Join(r.ProjectDir, ".workflow", "unified_logs", string(taskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Logger.Warn("failed to create iteration log dir", "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("iteration_%03d.json", iteration))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		r.Logger.Warn("failed to marshal iteration log", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.Logger.Warn("failed to write iteration log", "error", err)
	}
}
