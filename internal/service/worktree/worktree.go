// Package worktree implements the Worktree Manager (spec §4.12): one
// isolated git worktree per in-flight task, created as a sibling of
// the main project directory, merged back via cherry-pick.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quorum-forge/orchestrator/internal/adapters/git"
	"github.com/quorum-forge/orchestrator/internal/core"
	"github.com/quorum-forge/orchestrator/internal/logging"
)

// Manager creates, merges, and tears down per-task worktrees, built on
// top of the adapters/git package's TaskWorktreeManager and Client.
type Manager struct {
	tasks  *git.TaskWorktreeManager
	client *git.Client
	logger *logging.Logger
}

// SiblingBaseDir computes "<project>-workers" next to projectDir,
// implementing the spec's sibling-path convention rather than a
// hidden subdirectory inside the project (which would confuse the
// working agent's own file listing).
func SiblingBaseDir(projectDir string) string {
	parent := filepath.Dir(projectDir)
	name := filepath.Base(projectDir)
	return filepath.Join(parent, name+"-workers")
}

// NewManager builds a worktree Manager rooted at a sibling directory
// of projectDir.
func NewManager(client *git.Client, projectDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		tasks:  git.NewTaskWorktreeManager(client, SiblingBaseDir(projectDir)).WithLogger(logger),
		client: client,
		logger: logger,
	}
}

// Create provisions an isolated worktree and branch for task.
func (m *Manager) Create(ctx context.Context, task *core.Task) (*core.WorktreeInfo, error) {
	branch := fmt.Sprintf("worker/%s", task.ID)
	return m.tasks.Create(ctx, task, branch)
}

// Remove tears down task's worktree.
func (m *Manager) Remove(ctx context.Context, task *core.Task) error {
	return m.tasks.Remove(ctx, task)
}

// CleanupAll removes every stale worktree this Manager tracks.
func (m *Manager) CleanupAll(ctx context.Context) error {
	return m.tasks.CleanupStale(ctx)
}

// Status reports every worktree this Manager currently tracks.
func (m *Manager) Status(ctx context.Context) ([]*core.WorktreeInfo, error) {
	return m.tasks.List(ctx)
}

// MergeResult reports the outcome of merging one task's worktree back
// into the main branch.
type MergeResult struct {
	TaskID     core.TaskID
	Merged     bool
	EmptyDiff  bool
	CommitSHA  string
	Conflict   bool
	Error      string
}

// Merge stages and commits everything in task's worktree (empty-
// tolerant), then cherry-picks the resulting commit onto the current
// branch of the main repository. An empty cherry-pick (the worktree
// produced no net change) is treated as a successful, no-op merge
// rather than a conflict, per the adapters/git CherryPick fix.
func (m *Manager) Merge(ctx context.Context, task *core.Task, message string) MergeResult {
	info, err := m.tasks.Get(ctx, task)
	if err != nil {
		return MergeResult{TaskID: task.ID, Error: err.Error()}
	}

	workerClient, err := git.NewClient(info.Path)
	if err != nil {
		return MergeResult{TaskID: task.ID, Error: err.Error()}
	}

	if message == "" {
		message = fmt.Sprintf("worker: %s", task.ID)
	}
	sha, err := workerClient.CommitAll(ctx, message)
	if err != nil {
		if isNothingToCommit(err) {
			sha, err = workerClient.RevParse(ctx, "HEAD")
		}
		if err != nil {
			return MergeResult{TaskID: task.ID, Error: err.Error()}
		}
	}

	if err := m.client.CherryPick(ctx, sha); err != nil {
		if errors.Is(err, git.ErrMergeConflict) {
			_ = m.client.AbortCherryPick(ctx)
			return MergeResult{TaskID: task.ID, Conflict: true, Error: err.Error()}
		}
		return MergeResult{TaskID: task.ID, Error: err.Error()}
	}

	head, err := m.client.RevParse(ctx, "HEAD")
	if err != nil {
		return MergeResult{TaskID: task.ID, Merged: true, CommitSHA: sha}
	}
	return MergeResult{TaskID: task.ID, Merged: true, EmptyDiff: head == sha, CommitSHA: head}
}

func isNothingToCommit(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "nothing to commit") || strings.Contains(err.Error(), "nothing added to commit"))
}

