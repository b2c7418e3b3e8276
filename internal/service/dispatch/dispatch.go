// Package dispatch implements the Agent Dispatcher (spec §4.8): a
// one-shot, non-loop agent invocation used by single-pass roles
// (planners, reviewers).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
)

// Status is the outcome bucket for one DispatchResult.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusPartial             Status = "partial"
	StatusFailed              Status = "failed"
	StatusBlocked             Status = "blocked"
	StatusNeedsClarification  Status = "needs_clarification"
)

// Result is the dispatcher's report for a single invocation.
type Result struct {
	TaskID        core.TaskID
	AgentID       string
	Status        Status
	Output        map[string]interface{}
	FilesCreated  []string
	FilesModified []string
	ExecutionTime time.Duration
	CLIUsed       string
	Iteration     int
	Error         string
	NeedsReview   bool
}

// InvalidTaskAssignment is raised when a task's expected outputs
// violate the assigned agent's write-permission policy.
type InvalidTaskAssignment struct {
	TaskID  core.TaskID
	AgentID string
	Reason  string
}

func (e *InvalidTaskAssignment) Error() string {
	return fmt.Sprintf("invalid task assignment: task=%s agent=%s reason=%s", e.TaskID, e.AgentID, e.Reason)
}

// InvalidAgentOutput is raised when output_schema validation fails.
type InvalidAgentOutput struct {
	AgentID string
	Errors  []string
}

func (e *InvalidAgentOutput) Error() string {
	return fmt.Sprintf("invalid agent output from %s: %s", e.AgentID, strings.Join(e.Errors, "; "))
}

// Dispatcher invokes agents for single-pass tasks.
type Dispatcher struct {
	Registry *core.AgentRegistryTable
	Agents   core.AgentRegistry // runtime adapters, keyed by CLI name
	Logger   *logging.Logger
}

// NewDispatcher builds a Dispatcher over a descriptor table and a
// runtime agent registry.
func NewDispatcher(registry *core.AgentRegistryTable, agents core.AgentRegistry, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{Registry: registry, Agents: agents, Logger: logger}
}

// Dispatch runs one task through one agent, following the spec's
// 8-step dispatch pipeline. useBackup selects the descriptor's
// BackupCLI instead of PrimaryCLI.
func (d *Dispatcher) Dispatch(ctx context.Context, task *core.Task, agentID string, useBackup bool) Result {
	descriptor, ok := d.Registry.Get(agentID)
	if !ok {
		return Result{TaskID: task.ID, AgentID: agentID, Status: StatusFailed, Error: "unknown agent id"}
	}

	if reason := d.validateAssignment(task, descriptor); reason != "" {
		err := &InvalidTaskAssignment{TaskID: task.ID, AgentID: agentID, Reason: reason}
		if d.Logger != nil {
			d.Logger.Error("invalid task assignment", "error", err)
		}
		return Result{TaskID: task.ID, AgentID: agentID, Status: StatusFailed, Error: err.Error()}
	}

	cli := descriptor.PrimaryCLI
	if useBackup {
		cli = descriptor.BackupCLI
	}
	if cli == "" {
		return Result{TaskID: task.ID, AgentID: agentID, Status: StatusFailed, Error: "no CLI configured for requested slot"}
	}

	prompt := buildPrompt(descriptor, task)

	agent, err := d.Agents.Get(cli)
	if err != nil {
		return Result{TaskID: task.ID, AgentID: agentID, Status: StatusFailed, CLIUsed: cli, Error: err.Error()}
	}

	start := time.Now()
	opts := core.DefaultExecuteOptions()
	opts.Prompt = prompt
	opts.Timeout = descriptor.Timeout
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}

	execResult, execErr := agent.Execute(ctx, opts)
	elapsed := time.Since(start)

	if execErr != nil {
		if !useBackup && descriptor.BackupCLI != "" {
			return d.Dispatch(ctx, task, agentID, true)
		}
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusFailed
		}
		return Result{
			TaskID: task.ID, AgentID: agentID, Status: status, CLIUsed: cli,
			ExecutionTime: elapsed, Error: execErr.Error(), NeedsReview: !descriptor.IsReviewer,
		}
	}

	parsed := parseOutput(execResult.Output)

	return Result{
		TaskID:        task.ID,
		AgentID:       agentID,
		Status:        StatusCompleted,
		Output:        parsed,
		ExecutionTime: elapsed,
		CLIUsed:       cli,
		NeedsReview:   !descriptor.IsReviewer,
	}
}

// DispatchParallel runs every (agentID, task) pair concurrently;
// a panic or error in one never prevents the others from completing.
func DispatchParallel(ctx context.Context, d *Dispatcher, agentIDs []string, tasks []*core.Task) []Result {
	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i := range tasks {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{TaskID: tasks[i].ID, AgentID: agentIDs[i], Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			results[i] = d.Dispatch(gctx, tasks[i], agentIDs[i], false)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) validateAssignment(task *core.Task, descriptor core.AgentDescriptor) string {
	for _, f := range task.FilesToCreate {
		if !d.Registry.IsWritablePath(descriptor.ID, f) {
			return fmt.Sprintf("agent %s is not permitted to write %s", descriptor.ID, f)
		}
	}
	for _, f := range task.FilesToModify {
		if !d.Registry.IsWritablePath(descriptor.ID, f) {
			return fmt.Sprintf("agent %s is not permitted to write %s", descriptor.ID, f)
		}
	}
	return ""
}

func buildPrompt(descriptor core.AgentDescriptor, task *core.Task) string {
	var b strings.Builder

	if descriptor.ContextFilePath != "" {
		if data, err := os.ReadFile(descriptor.ContextFilePath); err == nil {
			b.Write(data)
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "# Task: %s\n\n%s\n\n", task.Title, task.Description)

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	writeFileList(&b, "Files to Create", task.FilesToCreate)
	writeFileList(&b, "Files to Modify", task.FilesToModify)
	writeFileList(&b, "Test Files", task.TestFiles)

	if len(task.PreviousFeedback) > 0 {
		b.WriteString("## Previous Feedback\n")
		for _, fb := range task.PreviousFeedback {
			fmt.Fprintf(&b, "- %s (score %.1f): %s\n", fb.ReviewerID, fb.Score, strings.Join(fb.BlockingIssues, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Output\nRespond with a single JSON object.")
	if descriptor.IsReviewer {
		b.WriteString(" Include \"score\" (0-10) and \"approved\" (boolean).\n")
	} else {
		b.WriteString(" Emit your completion sentinel when the task is fully done.\n")
	}

	return b.String()
}

func writeFileList(b *strings.Builder, title string, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", title)
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
	b.WriteString("\n")
}

// parseOutput tries direct JSON, then the first-`{`...last-`}`
// substring, falling back to {"raw_output": text}.
func parseOutput(text string) map[string]interface{} {
	var direct map[string]interface{}
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		return direct
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var extracted map[string]interface{}
		if err := json.Unmarshal([]byte(text[start:end+1]), &extracted); err == nil {
			return extracted
		}
	}

	return map[string]interface{}{"raw_output": text}
}
