package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
)

func TestOnAgentComplete_RemovesTransientDir(t *testing.T) {
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, ".workflow", "temp", "task-1", "claude-worker")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	m := NewManager(projectDir, false)
	res := m.OnAgentComplete("claude-worker", core.TaskID("task-1"))

	if len(res.DirectoriesDeleted) != 1 {
		t.Fatalf("expected directory deleted, got %+v", res)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed")
	}
}

func TestOnAgentComplete_DryRunDoesNotDelete(t *testing.T) {
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, ".workflow", "temp", "task-1", "claude-worker")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	m := NewManager(projectDir, true)
	res := m.OnAgentComplete("claude-worker", core.TaskID("task-1"))

	if len(res.DirectoriesDeleted) != 1 {
		t.Fatalf("expected dry-run to report intended deletion, got %+v", res)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to still exist in dry-run mode: %v", err)
	}
}

func TestScheduledCleanup_DeletesAgedPersistentFiles(t *testing.T) {
	projectDir := t.TempDir()
	historyDir := filepath.Join(projectDir, ".workflow", "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	oldFile := filepath.Join(historyDir, "old.json")
	if err := os.WriteFile(oldFile, []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	old := time.Now().Add(-200 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	m := NewManager(projectDir, false)
	res := m.ScheduledCleanup(time.Now())

	if len(res.FilesDeleted) != 1 {
		t.Fatalf("expected one aged file deleted, got %+v", res)
	}
}

func TestScheduledCleanup_KeepsRecentPersistentFiles(t *testing.T) {
	projectDir := t.TempDir()
	historyDir := filepath.Join(projectDir, ".workflow", "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(historyDir, "fresh.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	m := NewManager(projectDir, false)
	res := m.ScheduledCleanup(time.Now())

	if len(res.FilesDeleted) != 0 {
		t.Fatalf("expected fresh file to survive cleanup, got %+v", res)
	}
}

func TestOnTaskDone_ArchivesAndRemoves(t *testing.T) {
	projectDir := t.TempDir()
	sessionDir := filepath.Join(projectDir, ".workflow", "sessions", "task-2")
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "state.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	m := NewManager(projectDir, false)
	_ = m.OnTaskDone(core.TaskID("task-2"), true)

	archivePath := filepath.Join(projectDir, ".workflow", "history", "task-2.json")
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("expected archive file to be written: %v", err)
	}
	if _, err := os.Stat(sessionDir); !os.IsNotExist(err) {
		t.Fatalf("expected session directory to be removed")
	}
}
