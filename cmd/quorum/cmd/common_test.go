package cmd

import (
	"testing"

	"github.com/quorum-forge/orchestrator/internal/config"
	"github.com/quorum-forge/orchestrator/internal/core"
)

// --- buildAgentRegistryTable ---

func TestBuildAgentRegistryTable_TwoEnabled(t *testing.T) {
	cfg := &config.Config{
		Agents: config.AgentsConfig{
			Claude: config.AgentConfig{Enabled: true, Model: "claude-x"},
			Gemini: config.AgentConfig{Enabled: true, Model: "gemini-x"},
		},
	}

	registry := buildAgentRegistryTable(cfg)
	all := registry.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(all))
	}

	for _, d := range all {
		if !d.IsReviewer {
			t.Errorf("descriptor %s: expected IsReviewer true with only two agents enabled", d.ID)
		}
	}

	claude, ok := registry.Get("claude")
	if !ok {
		t.Fatal("expected claude descriptor to be registered")
	}
	if claude.DefaultModel != "claude-x" {
		t.Errorf("expected DefaultModel claude-x, got %s", claude.DefaultModel)
	}
	if claude.BackupCLI != "gemini" {
		t.Errorf("expected BackupCLI gemini, got %s", claude.BackupCLI)
	}
}

func TestBuildAgentRegistryTable_ThirdAgentIsNotReviewer(t *testing.T) {
	cfg := &config.Config{
		Agents: config.AgentsConfig{
			Claude:  config.AgentConfig{Enabled: true},
			Gemini:  config.AgentConfig{Enabled: true},
			Codex:   config.AgentConfig{Enabled: true},
			Copilot: config.AgentConfig{Enabled: false},
		},
	}

	registry := buildAgentRegistryTable(cfg)
	codex, ok := registry.Get("codex")
	if !ok {
		t.Fatal("expected codex descriptor to be registered")
	}
	if codex.IsReviewer {
		t.Error("expected codex to not be a reviewer when two reviewers are already staffed")
	}

	if _, ok := registry.Get("copilot"); ok {
		t.Error("expected copilot to be absent when disabled")
	}
}

func TestBuildAgentRegistryTable_NoneEnabled(t *testing.T) {
	registry := buildAgentRegistryTable(&config.Config{})
	if len(registry.All()) != 0 {
		t.Errorf("expected empty registry, got %d descriptors", len(registry.All()))
	}
}

// --- reviewerIDs ---

func TestReviewerIDs(t *testing.T) {
	cfg := &config.Config{
		Agents: config.AgentsConfig{
			Claude: config.AgentConfig{Enabled: true},
			Gemini: config.AgentConfig{Enabled: true},
			Codex:  config.AgentConfig{Enabled: true},
		},
	}
	registry := buildAgentRegistryTable(cfg)
	ids := reviewerIDs(registry)
	if len(ids) != 2 {
		t.Fatalf("expected exactly 2 reviewer ids, got %v", ids)
	}
}

func TestReviewerIDs_Empty(t *testing.T) {
	registry := buildAgentRegistryTable(&config.Config{})
	if ids := reviewerIDs(registry); len(ids) != 0 {
		t.Errorf("expected no reviewer ids, got %v", ids)
	}
}

// --- buildGraphDeps ---

func TestBuildGraphDeps_RequiresTwoAgents(t *testing.T) {
	cfg := &config.Config{
		Agents: config.AgentsConfig{
			Claude: config.AgentConfig{Enabled: true},
		},
	}
	if _, err := buildGraphDeps(cfg, nil, t.TempDir()); err == nil {
		t.Error("expected an error when fewer than two agents are enabled")
	}
}

// --- noopBudgetStore ---

func TestNoopBudgetStore(t *testing.T) {
	var s noopBudgetStore
	ctx := t.Context()

	if err := s.AppendSpend(ctx, core.SpendRecord{ID: "s1", TaskID: "task-1", CostUSD: 0.5}); err != nil {
		t.Errorf("AppendSpend: unexpected error %v", err)
	}
	if recs, err := s.SpendForTask(ctx, "task-1"); err != nil || recs != nil {
		t.Errorf("SpendForTask: expected (nil, nil), got (%v, %v)", recs, err)
	}
	if recs, err := s.SpendForProject(ctx); err != nil || recs != nil {
		t.Errorf("SpendForProject: expected (nil, nil), got (%v, %v)", recs, err)
	}
}
