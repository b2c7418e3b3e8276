// Package cleanup implements the Cleanup Manager (spec §4.13):
// artifact-lifetime-driven deletion of transient, session, persistent,
// and permanent project state.
package cleanup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// Rule describes one artifact-deletion policy.
type Rule struct {
	GlobPattern string
	Lifetime    core.ArtifactLifetime
	MaxAgeHours float64 // required for PERSISTENT
	Description string
}

// DefaultRules returns the spec's authoritative default rule table,
// rooted at a project's .workflow directory.
func DefaultRules(projectDir string) []Rule {
	base := filepath.Join(projectDir, ".workflow")
	return []Rule{
		{GlobPattern: filepath.Join(base, "temp", "**"), Lifetime: core.LifetimeTransient, Description: "per-agent scratch directories"},
		{GlobPattern: filepath.Join(base, "sessions", "**"), Lifetime: core.LifetimeSession, Description: "active CLI session state"},
		{GlobPattern: filepath.Join(base, "messages", "**"), Lifetime: core.LifetimePersistent, MaxAgeHours: 168, Description: "message archives"},
		{GlobPattern: filepath.Join(base, "history", "**"), Lifetime: core.LifetimePersistent, MaxAgeHours: 168, Description: "iteration history"},
		{GlobPattern: filepath.Join(base, "board_archive", "**"), Lifetime: core.LifetimePersistent, MaxAgeHours: 720, Description: "board archives"},
		{GlobPattern: filepath.Join(base, "audit", "**"), Lifetime: core.LifetimePermanent, Description: "audit trail"},
		{GlobPattern: filepath.Join(base, "phases", "**"), Lifetime: core.LifetimePermanent, Description: "phase records"},
	}
}

// Result is every cleanup operation's return shape.
type Result struct {
	FilesDeleted      []string
	DirectoriesDeleted []string
	BytesFreed        int64
	Errors            []string
	Timestamp         time.Time
}

// Manager runs cleanup events against a project directory's rule set.
type Manager struct {
	ProjectDir string
	Rules      []Rule
	DryRun     bool
}

// NewManager builds a Manager with the spec's default rule table.
func NewManager(projectDir string, dryRun bool) *Manager {
	return &Manager{ProjectDir: projectDir, Rules: DefaultRules(projectDir), DryRun: dryRun}
}

func (m *Manager) workflowDir() string {
	return filepath.Join(m.ProjectDir, ".workflow")
}

// OnAgentComplete deletes one agent's transient directory for a task.
func (m *Manager) OnAgentComplete(agentID string, taskID core.TaskID) Result {
	dir := filepath.Join(m.workflowDir(), "temp", string(taskID), agentID)
	return m.removeDir(dir)
}

// OnTaskDone archives a JSON summary of the task's session artifacts,
// then deletes its temp and session directories.
func (m *Manager) OnTaskDone(taskID core.TaskID, archive bool) Result {
	result := Result{Timestamp: time.Now()}

	if archive {
		archiveResult := m.archiveTask(taskID)
		result.FilesDeleted = append(result.FilesDeleted, archiveResult.FilesDeleted...)
		result.Errors = append(result.Errors, archiveResult.Errors...)
	}

	tempResult := m.removeDir(filepath.Join(m.workflowDir(), "temp", string(taskID)))
	sessionResult := m.removeDir(filepath.Join(m.workflowDir(), "sessions", string(taskID)))

	result.DirectoriesDeleted = append(result.DirectoriesDeleted, tempResult.DirectoriesDeleted...)
	result.DirectoriesDeleted = append(result.DirectoriesDeleted, sessionResult.DirectoriesDeleted...)
	result.BytesFreed += tempResult.BytesFreed + sessionResult.BytesFreed
	result.Errors = append(result.Errors, tempResult.Errors...)
	result.Errors = append(result.Errors, sessionResult.Errors...)
	result.Timestamp = time.Now()
	return result
}

func (m *Manager) archiveTask(taskID core.TaskID) Result {
	result := Result{Timestamp: time.Now()}
	sessionDir := filepath.Join(m.workflowDir(), "sessions", string(taskID))
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return result
	}

	summary := map[string]interface{}{"task_id": taskID, "archived_at": time.Now(), "files": []string{}}
	var files []string
	for _, e := range entries {
		files = append(files, e.Name())
	}
	summary["files"] = files

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	historyDir := filepath.Join(m.workflowDir(), "history")
	if m.DryRun {
		return result
	}
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	archivePath := filepath.Join(historyDir, fmt.Sprintf("%s.json", taskID))
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.FilesDeleted = nil // archive writes, it doesn't delete
	return result
}

// ScheduledCleanup iterates PERSISTENT rules and deletes files whose
// mtime exceeds the rule's MaxAgeHours.
func (m *Manager) ScheduledCleanup(now time.Time) Result {
	result := Result{Timestamp: now}
	for _, rule := range m.Rules {
		if rule.Lifetime != core.LifetimePersistent {
			continue
		}
		dir := trimGlobSuffix(rule.GlobPattern)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		maxAge := time.Duration(rule.MaxAgeHours) * time.Hour
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) <= maxAge {
				continue
			}
			if m.DryRun {
				result.FilesDeleted = append(result.FilesDeleted, path)
				continue
			}
			if info.IsDir() {
				size := dirSize(path)
				if err := os.RemoveAll(path); err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.DirectoriesDeleted = append(result.DirectoriesDeleted, path)
				result.BytesFreed += size
			} else {
				result.BytesFreed += info.Size()
				if err := os.Remove(path); err != nil {
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.FilesDeleted = append(result.FilesDeleted, path)
			}
		}
	}
	return result
}

func trimGlobSuffix(pattern string) string {
	return filepath.Dir(pattern)
}

func (m *Manager) removeDir(dir string) Result {
	result := Result{Timestamp: time.Now()}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return result
	}
	size := dirSize(dir)
	if m.DryRun {
		result.DirectoriesDeleted = append(result.DirectoriesDeleted, dir)
		result.BytesFreed = size
		return result
	}
	if err := os.RemoveAll(dir); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.DirectoriesDeleted = append(result.DirectoriesDeleted, dir)
	result.BytesFreed = size
	return result
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
