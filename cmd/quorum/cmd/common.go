package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/quorum-forge/orchestrator/internal/adapters/cli"
	"github.com/quorum-forge/orchestrator/internal/adapters/git"
	"github.com/quorum-forge/orchestrator/internal/config"
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
	"github.com/quorum-forge/orchestrator/internal/service/workflow"
)

// loadConfig loads and validates the unified configuration, honoring
// the global --config flag bound to viper in root.go.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// buildAgentRegistryTable constructs the static agent descriptor
// catalogue from the unified config: every CLI with agents.<name>.enabled
// gets a descriptor, the first two enabled agents staff the four-eyes
// gate as reviewers, and the first non-reviewer is the planner.
func buildAgentRegistryTable(cfg *config.Config) *core.AgentRegistryTable {
	type candidate struct {
		id   string
		ac   config.AgentConfig
		name string
	}
	candidates := []candidate{
		{"claude", cfg.Agents.Claude, "Claude"},
		{"gemini", cfg.Agents.Gemini, "Gemini"},
		{"codex", cfg.Agents.Codex, "Codex"},
		{"copilot", cfg.Agents.Copilot, "Copilot"},
	}

	var descriptors []core.AgentDescriptor
	reviewerCount := 0
	for _, c := range candidates {
		if !c.ac.Enabled {
			continue
		}
		isReviewer := reviewerCount < 2
		if isReviewer {
			reviewerCount++
		}
		descriptors = append(descriptors, core.AgentDescriptor{
			ID:               c.id,
			Name:             c.name,
			PrimaryCLI:       c.id,
			CanWriteFiles:    true,
			AllowedPathGlobs: []string{"**"},
			MaxIterations:    10,
			Timeout:          5 * time.Minute,
			IsReviewer:       isReviewer,
			DefaultModel:     c.ac.Model,
		})
	}

	for i := range descriptors {
		next := descriptors[(i+1)%len(descriptors)]
		if next.ID != descriptors[i].ID {
			descriptors[i].BackupCLI = next.PrimaryCLI
		}
	}

	return core.NewAgentRegistryTable(descriptors...)
}

// reviewerIDs returns the two descriptors flagged IsReviewer, in
// registry order, for the Validation/Verification four-eyes gates.
func reviewerIDs(registry *core.AgentRegistryTable) []string {
	var ids []string
	for _, d := range registry.All() {
		if d.IsReviewer {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// buildGraphDeps assembles every collaborator the Workflow Graph needs,
// rooted at projectDir, following the teacher's single init-function-per-
// command-family convention.
func buildGraphDeps(cfg *config.Config, logger *logging.Logger, projectDir string) (workflow.Deps, error) {
	registryTable := buildAgentRegistryTable(cfg)
	ids := reviewerIDs(registryTable)
	if len(ids) < 2 {
		return workflow.Deps{}, fmt.Errorf("at least two enabled agents are required to staff the four-eyes gate")
	}

	agents := cli.NewRegistry()
	if err := cli.ConfigureRegistryFromConfig(agents, cfg); err != nil {
		return workflow.Deps{}, fmt.Errorf("configuring agents: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(registryTable, agents, logger)

	gitClient, err := git.NewClient(projectDir)
	if err != nil {
		logger.Warn("failed to create git client, worktree isolation disabled", "error", err)
	}
	worktreeManager := worktree.NewManager(gitClient, projectDir, logger)

	escalationDir := filepath.Join(projectDir, ".workflow", "escalations")
	recoveryHandler := recovery.NewHandler(recovery.FileEscalationSink{Dir: escalationDir}, logger)

	verifier, err := verify.Create(verify.KindTests, projectDir)
	if err != nil {
		return workflow.Deps{}, fmt.Errorf("creating verifier: %w", err)
	}

	limits := core.BudgetLimits{
		ProjectBudgetUSD:    cfg.Costs.MaxPerWorkflow,
		TaskBudgetUSD:       cfg.Costs.MaxPerTask,
		InvocationBudgetUSD: cfg.Costs.MaxPerTask,
	}

	return workflow.Deps{
		Registry:    registryTable,
		Agents:      agents,
		Dispatcher:  dispatcher,
		Sessions:    session.NewManager(nil),
		ErrorCtx:    errctx.NewManager(),
		Budget:      budget.NewManager(noopBudgetStore{}, limits, logger),
		Worktrees:   worktreeManager,
		Cleanup:     cleanup.NewManager(projectDir, false),
		Recovery:    recoveryHandler,
		Verifier:    verifier,
		Metrics:     service.NewMetricsCollector(),
		Rates:       service.NewRateLimiterRegistry(),
		Logger:      logger,
		ReviewerIDs: ids[:2],
		Weights:     review.DefaultWeights(),
	}, nil
}

// noopBudgetStore discards spend history across invocations; the
// Budget Manager still enforces limits within a single run from its
// in-memory totals.
type noopBudgetStore struct{}

func (noopBudgetStore) AppendSpend(_ context.Context, _ core.SpendRecord) error { return nil }
func (noopBudgetStore) SpendForTask(_ context.Context, _ core.TaskID) ([]core.SpendRecord, error) {
	return nil, nil
}
func (noopBudgetStore) SpendForProject(_ context.Context) ([]core.SpendRecord, error) {
	return nil, nil
}
