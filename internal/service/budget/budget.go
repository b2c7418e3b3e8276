// Package budget implements the Budget Manager (spec §4.5): a three-tier
// (invocation/task/project) spend authorisation gate backed by pluggable
// storage only, per the spec's Open Question resolution recorded in
// DESIGN.md.
package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
)

// Store is the pluggable persistence contract spend records are
// written through to; there is no in-memory-only mode (spec's Open
// Question #1 resolved in favor of storage-backed budgets only).
type Store interface {
	AppendSpend(ctx context.Context, rec core.SpendRecord) error
	SpendForTask(ctx context.Context, taskID core.TaskID) ([]core.SpendRecord, error)
	SpendForProject(ctx context.Context) ([]core.SpendRecord, error)
}

// Manager authorises and records spend against BudgetLimits.
type Manager struct {
	mu     sync.Mutex
	store  Store
	limits core.BudgetLimits
	logger *logging.Logger
}

// NewManager builds a budget Manager over a required Store.
func NewManager(store Store, limits core.BudgetLimits, logger *logging.Logger) *Manager {
	return &Manager{store: store, limits: limits, logger: logger}
}

// Summary reports totals against each of the three scopes.
type Summary struct {
	ProjectSpentUSD float64
	TaskSpentUSD    float64
	ProjectLimitUSD float64
	TaskLimitUSD    float64
}

// CanSpend implements the three-tier predicate: an invocation's cost
// must fit under the invocation ceiling, and adding it must not push
// the task or project totals over their respective limits.
func (m *Manager) CanSpend(ctx context.Context, taskID core.TaskID, estimatedCostUSD float64) (bool, string, error) {
	if m.limits.InvocationBudgetUSD > 0 && estimatedCostUSD > m.limits.InvocationBudgetUSD {
		return false, fmt.Sprintf("invocation cost $%.4f exceeds invocation budget $%.2f", estimatedCostUSD, m.limits.InvocationBudgetUSD), nil
	}

	summary, err := m.GetSummary(ctx, taskID)
	if err != nil {
		return false, "", err
	}

	taskLimit := m.taskLimit(taskID)
	if taskLimit > 0 && summary.TaskSpentUSD+estimatedCostUSD > taskLimit {
		return false, fmt.Sprintf("task %s spend $%.4f + $%.4f would exceed task budget $%.2f", taskID, summary.TaskSpentUSD, estimatedCostUSD, taskLimit), nil
	}
	if m.limits.ProjectBudgetUSD > 0 && summary.ProjectSpentUSD+estimatedCostUSD > m.limits.ProjectBudgetUSD {
		return false, fmt.Sprintf("project spend $%.4f + $%.4f would exceed project budget $%.2f", summary.ProjectSpentUSD, estimatedCostUSD, m.limits.ProjectBudgetUSD), nil
	}
	return true, "", nil
}

func (m *Manager) taskLimit(taskID core.TaskID) float64 {
	if m.limits.TaskBudgetOverrides != nil {
		if v, ok := m.limits.TaskBudgetOverrides[taskID]; ok {
			return v
		}
	}
	return m.limits.TaskBudgetUSD
}

// RecordSpend persists a completed invocation's actual cost. Allowed
// to be called even when it pushes a total over budget (the gate is
// CanSpend, not RecordSpend); the caller is expected to have checked
// CanSpend first.
func (m *Manager) RecordSpend(ctx context.Context, rec core.SpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.AppendSpend(ctx, rec); err != nil {
		return fmt.Errorf("recording spend: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("spend recorded", "task_id", rec.TaskID, "agent", rec.Agent, "cost_usd", rec.CostUSD)
	}
	return nil
}

// GetSummary totals recorded spend for taskID and the whole project.
func (m *Manager) GetSummary(ctx context.Context, taskID core.TaskID) (Summary, error) {
	taskRecords, err := m.store.SpendForTask(ctx, taskID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading task spend: %w", err)
	}
	projectRecords, err := m.store.SpendForProject(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("loading project spend: %w", err)
	}

	var taskTotal, projectTotal float64
	for _, r := range taskRecords {
		taskTotal += r.CostUSD
	}
	for _, r := range projectRecords {
		projectTotal += r.CostUSD
	}

	return Summary{
		ProjectSpentUSD: projectTotal,
		TaskSpentUSD:    taskTotal,
		ProjectLimitUSD: m.limits.ProjectBudgetUSD,
		TaskLimitUSD:    m.taskLimit(taskID),
	}, nil
}

// ResetTaskSpending is a test/administrative escape hatch; real stores
// should implement it as a soft delete or tombstone rather than a
// destructive purge, since spend history is an audit trail.
type Resetter interface {
	ResetTaskSpending(ctx context.Context, taskID core.TaskID) error
}

// ResetTaskSpending resets taskID's recorded spend if the configured
// store supports it.
func (m *Manager) ResetTaskSpending(ctx context.Context, taskID core.TaskID) error {
	r, ok := m.store.(Resetter)
	if !ok {
		return fmt.Errorf("budget store does not support resetting task spend")
	}
	return r.ResetTaskSpending(ctx, taskID)
}
