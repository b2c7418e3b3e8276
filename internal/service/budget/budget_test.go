package budget

import (
	"context"
	"testing"

	"github.com/quorum-forge/orchestrator/internal/core"
)

type fakeStore struct {
	records []core.SpendRecord
}

func (f *fakeStore) AppendSpend(_ context.Context, rec core.SpendRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) SpendForTask(_ context.Context, taskID core.TaskID) ([]core.SpendRecord, error) {
	var out []core.SpendRecord
	for _, r := range f.records {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SpendForProject(_ context.Context) ([]core.SpendRecord, error) {
	return f.records, nil
}

func (f *fakeStore) ResetTaskSpending(_ context.Context, taskID core.TaskID) error {
	var kept []core.SpendRecord
	for _, r := range f.records {
		if r.TaskID != taskID {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

func TestManager_CanSpend_InvocationCeiling(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, core.BudgetLimits{InvocationBudgetUSD: 1.0}, nil)

	ok, reason, err := m.CanSpend(context.Background(), "task-1", 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected invocation ceiling to deny spend, reason=%q", reason)
	}
}

func TestManager_CanSpend_TaskAndProjectLimits(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, core.BudgetLimits{TaskBudgetUSD: 5.0, ProjectBudgetUSD: 8.0}, nil)
	ctx := context.Background()

	if err := m.RecordSpend(ctx, core.SpendRecord{TaskID: "task-1", CostUSD: 4.0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, _, err := m.CanSpend(ctx, "task-1", 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected task budget to deny further spend")
	}

	if err := m.RecordSpend(ctx, core.SpendRecord{TaskID: "task-2", CostUSD: 3.5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, reason, err := m.CanSpend(ctx, "task-2", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected project budget to deny spend, reason=%q", reason)
	}
}

func TestManager_TaskBudgetOverride(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, core.BudgetLimits{
		TaskBudgetUSD:       1.0,
		TaskBudgetOverrides: map[core.TaskID]float64{"task-vip": 100.0},
	}, nil)

	ok, _, err := m.CanSpend(context.Background(), "task-vip", 50.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected task override to permit larger spend")
	}
}

func TestManager_GetSummary(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, core.BudgetLimits{}, nil)
	ctx := context.Background()
	_ = m.RecordSpend(ctx, core.SpendRecord{TaskID: "task-1", CostUSD: 1.5})
	_ = m.RecordSpend(ctx, core.SpendRecord{TaskID: "task-1", CostUSD: 0.5})

	summary, err := m.GetSummary(ctx, "task-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TaskSpentUSD != 2.0 {
		t.Fatalf("expected task total 2.0, got %v", summary.TaskSpentUSD)
	}
}

func TestManager_ResetTaskSpending(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, core.BudgetLimits{}, nil)
	ctx := context.Background()
	_ = m.RecordSpend(ctx, core.SpendRecord{TaskID: "task-1", CostUSD: 1.0})

	if err := m.ResetTaskSpending(ctx, "task-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, _ := m.GetSummary(ctx, "task-1")
	if summary.TaskSpentUSD != 0 {
		t.Fatalf("expected spend reset to 0, got %v", summary.TaskSpentUSD)
	}
}
