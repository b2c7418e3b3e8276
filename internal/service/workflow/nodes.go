package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/service"
	"github.com/quorum-forge/orchestrator/internal/service/dispatch"
	"github.com/quorum-forge/orchestrator/internal/service/loop"
	"github.com/quorum-forge/orchestrator/internal/service/recovery"
	"github.com/quorum-forge/orchestrator/internal/service/review"
)

// runPrerequisites implements GraphPhasePrerequisites: the project
// directory must exist, and every reviewer plus at least one non-
// reviewer agent must resolve to a pingable runtime adapter.
func runPrerequisites(ctx context.Context, d *Deps, state *core.GraphState) error {
	if state.ProjectDir == "" {
		return escalate(state, "no project directory configured", "MISSING_PROJECT_DIR", core.SeverityCritical)
	}
	if state.Prompt == "" {
		return escalate(state, "no prompt supplied for planning", "MISSING_PROMPT", core.SeverityHigh)
	}

	planner, ok := pickPlanner(d)
	if !ok {
		return escalate(state, "no planner agent registered", "NO_PLANNER", core.SeverityCritical)
	}
	if _, err := d.Agents.Get(planner.PrimaryCLI); err != nil {
		return escalate(state, fmt.Sprintf("planner CLI %q unavailable: %v", planner.PrimaryCLI, err), "AGENT_UNAVAILABLE", core.SeverityCritical)
	}

	for _, id := range d.ReviewerIDs {
		rd, ok := d.Registry.Get(id)
		if !ok {
			return escalate(state, fmt.Sprintf("reviewer %q not in agent registry", id), "NO_REVIEWER", core.SeverityCritical)
		}
		if _, err := d.Agents.Get(rd.PrimaryCLI); err != nil {
			return escalate(state, fmt.Sprintf("reviewer %q CLI unavailable: %v", id, err), "AGENT_UNAVAILABLE", core.SeverityCritical)
		}
	}

	state.NextDecision = core.DecisionContinue
	return nil
}

func pickPlanner(d *Deps) (core.AgentDescriptor, bool) {
	if p, ok := d.Registry.Get("planner"); ok {
		return p, true
	}
	for _, desc := range d.Registry.All() {
		if !desc.IsReviewer {
			return desc, true
		}
	}
	return core.AgentDescriptor{}, false
}

// escalate records an escalation interrupt and aborts the current
// node's phase, mirroring the Recovery Handler's escalation shape
// (spec §4.11) for failures nodes detect directly rather than via a
// dispatched agent's error.
func escalate(state *core.GraphState, issue, errType string, sev core.EscalationSeverity) error {
	state.NextDecision = core.DecisionEscalate
	state.PendingInterrupt = &core.Interrupt{
		Type:      core.InterruptEscalation,
		Phase:     state.CurrentPhase,
		Issue:     issue,
		ErrorType: errType,
	}
	_ = sev
	return nil
}

// runPlanning implements GraphPhasePlanning: dispatch the configured
// planner agent against state.Prompt and parse its JSON task breakdown
// into a Plan, validated acyclic via the DAG builder.
func runPlanning(ctx context.Context, d *Deps, state *core.GraphState) error {
	planner, ok := pickPlanner(d)
	if !ok {
		return escalate(state, "no planner agent registered", "NO_PLANNER", core.SeverityCritical)
	}

	task := core.NewTask("planning", "planning", core.PhasePlan).WithDescription(state.Prompt)
	task.Title = "Project Plan"

	result := d.Dispatcher.Dispatch(ctx, task, planner.ID, false)
	if result.Status != dispatch.StatusCompleted {
		return escalate(state, fmt.Sprintf("planner dispatch failed: %s", result.Error), "PLANNER_FAILED", core.SeverityHigh)
	}

	plan, err := parsePlan(result.Output)
	if err != nil {
		return escalate(state, fmt.Sprintf("planner output unusable: %v", err), "PLAN_UNPARSEABLE", core.SeverityHigh)
	}

	dag := service.NewDAGBuilder()
	for _, t := range plan.Ordered() {
		if err := dag.AddTask(t); err != nil {
			return escalate(state, fmt.Sprintf("invalid task in plan: %v", err), "PLAN_INVALID", core.SeverityHigh)
		}
	}
	for _, t := range plan.Ordered() {
		for _, dep := range t.Dependencies {
			if err := dag.AddDependency(t.ID, dep); err != nil {
				return escalate(state, fmt.Sprintf("invalid dependency in plan: %v", err), "PLAN_INVALID", core.SeverityHigh)
			}
		}
	}
	if _, err := dag.Build(); err != nil {
		return escalate(state, fmt.Sprintf("plan contains a dependency cycle: %v", err), "PLAN_CYCLE", core.SeverityHigh)
	}

	state.Plan = plan
	state.Tasks = plan.Tasks
	state.NextDecision = core.DecisionContinue
	return nil
}

// parsePlan converts a dispatcher's parsed JSON output into a Plan. The
// expected shape is {"tasks": [{"id","title","description",
// "acceptance_criteria","files_to_create","files_to_modify",
// "test_files","assigned_agent_id","dependencies"}, ...]}.
func parsePlan(output map[string]interface{}) (*core.Plan, error) {
	raw, ok := output["tasks"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or malformed \"tasks\" array")
	}
	plan := core.NewPlan()
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id := core.TaskID(stringField(m, "id"))
		if id == "" {
			continue
		}
		t := core.NewTask(id, stringField(m, "id"), core.PhasePlan)
		t.Title = stringField(m, "title")
		t.Description = stringField(m, "description")
		t.AcceptanceCriteria = stringSliceField(m, "acceptance_criteria")
		t.FilesToCreate = stringSliceField(m, "files_to_create")
		t.FilesToModify = stringSliceField(m, "files_to_modify")
		t.TestFiles = stringSliceField(m, "test_files")
		t.AssignedAgentID = stringField(m, "assigned_agent_id")
		for _, dep := range stringSliceField(m, "dependencies") {
			t.Dependencies = append(t.Dependencies, core.TaskID(dep))
		}
		plan.Add(t)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}
	return plan, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// runValidation implements GraphPhaseValidation: the plan's two
// reviewers vote independently, and the Conflict Resolver reduces
// their verdicts to a single decision before implementation begins.
func runValidation(ctx context.Context, d *Deps, state *core.GraphState) error {
	return runFourEyesGate(ctx, d, state, reviewFeedbackMap(state, true), "Validate Plan", planSummary(state.Plan))
}

// runVerification implements GraphPhaseVerification: the same gate,
// now reviewing the completed implementation instead of the plan.
func runVerification(ctx context.Context, d *Deps, state *core.GraphState) error {
	return runFourEyesGate(ctx, d, state, reviewFeedbackMap(state, false), "Verify Implementation", implementationSummary(state))
}

func reviewFeedbackMap(state *core.GraphState, validation bool) map[string]core.ReviewFeedback {
	if validation {
		if state.ValidationFeedback == nil {
			state.ValidationFeedback = make(map[string]core.ReviewFeedback)
		}
		return state.ValidationFeedback
	}
	if state.VerificationFeedback == nil {
		state.VerificationFeedback = make(map[string]core.ReviewFeedback)
	}
	return state.VerificationFeedback
}

func planSummary(plan *core.Plan) string {
	if plan == nil {
		return "no plan produced"
	}
	out := "## Tasks\n"
	for _, t := range plan.Ordered() {
		out += fmt.Sprintf("- %s: %s\n", t.ID, t.Title)
	}
	return out
}

func implementationSummary(state *core.GraphState) string {
	out := fmt.Sprintf("## Completed Tasks (%d)\n", len(state.CompletedTaskIDs))
	for _, id := range state.CompletedTaskIDs {
		if t, ok := state.Tasks[id]; ok {
			out += fmt.Sprintf("- %s: %s\n", t.ID, t.Title)
		}
	}
	if len(state.BlockedTaskIDs) > 0 {
		out += fmt.Sprintf("## Blocked Tasks (%d)\n", len(state.BlockedTaskIDs))
		for _, id := range state.BlockedTaskIDs {
			out += fmt.Sprintf("- %s\n", id)
		}
	}
	return out
}

func runFourEyesGate(ctx context.Context, d *Deps, state *core.GraphState, feedback map[string]core.ReviewFeedback, title, description string) error {
	if len(d.ReviewerIDs) != 2 {
		return escalate(state, "four-eyes gate requires exactly two configured reviewers", "REVIEWERS_MISCONFIGURED", core.SeverityCritical)
	}

	task := core.NewTask(core.TaskID(title), title, core.PhaseAnalyze).WithDescription(description)
	task.Title = title

	verdicts := make([]core.ReviewFeedback, 2)
	for i, reviewerID := range d.ReviewerIDs {
		rd, ok := d.Registry.Get(reviewerID)
		if !ok {
			return escalate(state, fmt.Sprintf("reviewer %q not registered", reviewerID), "NO_REVIEWER", core.SeverityCritical)
		}
		result := d.Dispatcher.Dispatch(ctx, task, reviewerID, false)
		if result.Status != dispatch.StatusCompleted {
			return escalate(state, fmt.Sprintf("reviewer %q dispatch failed: %s", reviewerID, result.Error), "REVIEWER_FAILED", core.SeverityHigh)
		}
		verdicts[i] = parseReviewFeedback(reviewerID, rd.PrimaryCLI, result.Output)
		feedback[reviewerID] = verdicts[i]
	}

	res := review.Resolve(verdicts[0], verdicts[1], d.Weights)
	switch res.Action {
	case core.ResolutionApprove:
		state.NextDecision = core.DecisionContinue
		return nil
	case core.ResolutionReject:
		if state.RetryCount >= state.MaxRetries {
			return escalate(state, fmt.Sprintf("%s: %s", res.DecisionReason, joinIssues(res.BlockingIssues)), "GATE_REJECTED", core.SeverityHigh)
		}
		state.RetryCount++
		state.NextDecision = core.DecisionRetry
		return nil
	default:
		return escalate(state, res.DecisionReason, "GATE_ESCALATED", core.SeverityMedium)
	}
}

func joinIssues(issues []string) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "; "
		}
		out += issue
	}
	return out
}

func parseReviewFeedback(reviewerID, cli string, output map[string]interface{}) core.ReviewFeedback {
	fb := core.ReviewFeedback{ReviewerID: reviewerID, CLI: cli}
	if approved, ok := output["approved"].(bool); ok {
		fb.Approved = approved
	}
	if score, ok := output["score"].(float64); ok {
		fb.Score = score
	}
	fb.BlockingIssues = stringSliceField(output, "blocking_issues")
	fb.Suggestions = stringSliceField(output, "suggestions")
	fb.SecurityFindings = stringSliceField(output, "security_findings")
	return fb
}

// runImplementation implements GraphPhaseImplementation: tasks execute
// in dependency order, each isolated in its own worktree and driven
// through the Unified Loop Runner, with failures routed through the
// Recovery Handler instead of a single blanket retry.
func runImplementation(ctx context.Context, d *Deps, state *core.GraphState) error {
	if state.Plan == nil {
		return escalate(state, "no plan to implement", "NO_PLAN", core.SeverityCritical)
	}

	dag := service.NewDAGBuilder()
	for _, t := range state.Plan.Ordered() {
		if err := dag.AddTask(t); err != nil {
			return fmt.Errorf("rebuilding DAG: %w", err)
		}
	}
	for _, t := range state.Plan.Ordered() {
		for _, dep := range t.Dependencies {
			if err := dag.AddDependency(t.ID, dep); err != nil {
				return fmt.Errorf("rebuilding DAG: %w", err)
			}
		}
	}

	completed := state.CompletedSet()
	for {
		ready := dag.GetReadyTasks(completed)
		if len(ready) == 0 {
			break
		}
		for _, task := range ready {
			state.CurrentTaskID = task.ID
			outcome := runOneTask(ctx, d, state, task)
			switch outcome {
			case taskOutcomeCompleted:
				completed[task.ID] = true
				state.MarkTaskCompleted(task.ID)
				task.Status = core.TaskStatusCompleted
			case taskOutcomeBlocked:
				state.BlockedTaskIDs = append(state.BlockedTaskIDs, task.ID)
				task.Status = core.TaskStatusFailed
			case taskOutcomeInterrupt:
				return nil
			case taskOutcomeAbort:
				state.NextDecision = core.DecisionAbort
				return nil
			}
		}
	}

	if len(state.BlockedTaskIDs) > 0 {
		return escalate(state, fmt.Sprintf("%d task(s) could not complete", len(state.BlockedTaskIDs)), "TASKS_BLOCKED", core.SeverityHigh)
	}
	state.NextDecision = core.DecisionContinue
	return nil
}

type taskOutcome int

const (
	taskOutcomeCompleted taskOutcome = iota
	taskOutcomeBlocked
	taskOutcomeInterrupt
	taskOutcomeAbort
)

func runOneTask(ctx context.Context, d *Deps, state *core.GraphState, task *core.Task) taskOutcome {
	wt, err := d.Worktrees.Create(ctx, task)
	if err != nil {
		d.Logger.Warn("worktree creation failed, running in project dir", "task_id", task.ID, "error", err)
	} else {
		task.WorktreePath = wt.Path
		task.Branch = wt.Branch
		defer func() { _ = d.Worktrees.Remove(ctx, task) }()
	}

	workDir := state.ProjectDir
	if task.WorktreePath != "" {
		workDir = task.WorktreePath
	}

	agentID := task.AssignedAgentID
	if agentID == "" {
		if planner, ok := pickPlanner(d); ok {
			agentID = planner.ID
		}
	}
	descriptor, ok := d.Registry.Get(agentID)
	if !ok {
		d.AppendFailure(state, task.ID, fmt.Sprintf("assigned agent %q not registered", agentID))
		return taskOutcomeBlocked
	}
	agent, err := d.Agents.Get(descriptor.PrimaryCLI)
	if err != nil {
		d.AppendFailure(state, task.ID, fmt.Sprintf("agent CLI %q unavailable: %v", descriptor.PrimaryCLI, err))
		return taskOutcomeBlocked
	}

	runner := loop.NewRunner(agent, d.Verifier, d.Sessions, d.ErrorCtx, workDir, d.Logger)
	runner.Budget = d.Budget

	attempts := 0
	for {
		result, runErr := runner.Run(ctx, task, "", nil)
		if runErr == nil && result.Success {
			if task.WorktreePath != "" {
				merge := d.Worktrees.Merge(ctx, task, fmt.Sprintf("task %s: %s", task.ID, task.Title))
				if merge.Conflict {
					d.AppendFailure(state, task.ID, fmt.Sprintf("merge conflict: %s", merge.Error))
					return taskOutcomeBlocked
				}
			}
			return taskOutcomeCompleted
		}

		taskErr := runErr
		if taskErr == nil {
			taskErr = core.ErrAgentFailure(fmt.Sprintf("loop ended without success: %s", result.Reason))
		}
		decision, decErr := d.Recovery.Handle(ctx, task.ID, taskErr, attempts)
		if decErr != nil {
			d.Logger.Warn("recovery handler error", "task_id", task.ID, "error", decErr)
		}
		attempts++

		switch decision.Outcome {
		case recovery.OutcomeRetry:
			time.Sleep(decision.Delay)
			continue
		case recovery.OutcomeBackupAgent:
			if descriptor.BackupCLI == "" {
				d.AppendFailure(state, task.ID, "no backup agent configured")
				return taskOutcomeBlocked
			}
			backup, err := d.Agents.Get(descriptor.BackupCLI)
			if err != nil {
				d.AppendFailure(state, task.ID, fmt.Sprintf("backup CLI unavailable: %v", err))
				return taskOutcomeBlocked
			}
			runner.Agent = backup
			continue
		case recovery.OutcomeEscalate:
			state.PendingInterrupt = &core.Interrupt{
				Type:      core.InterruptEscalation,
				Phase:     state.CurrentPhase,
				Issue:     taskErr.Error(),
				ErrorType: string(core.GetCategory(taskErr)),
			}
			return taskOutcomeInterrupt
		default:
			return taskOutcomeAbort
		}
	}
}

// AppendFailure records a task-level failure both in the Error-Context
// Manager's history and in GraphState's bounded error log.
func (d *Deps) AppendFailure(state *core.GraphState, taskID core.TaskID, message string) {
	rec := d.ErrorCtx.Record(taskID, 0, message, "", "", "", time.Now())
	state.AppendError(rec)
}

// runCompletion implements GraphPhaseCompletion: archive per-task
// artifacts per their lifetime rule and finalise the run.
func runCompletion(ctx context.Context, d *Deps, state *core.GraphState) error {
	for _, id := range state.CompletedTaskIDs {
		d.Cleanup.OnTaskDone(id, true)
	}
	d.Cleanup.ScheduledCleanup(time.Now())

	if d.Metrics != nil {
		wm := d.Metrics.GetWorkflowMetrics()
		d.Logger.Info("workflow completed", "project", state.ProjectName, "total_cost_usd", wm.TotalCostUSD)
	}

	state.NextDecision = core.DecisionContinue
	return nil
}
