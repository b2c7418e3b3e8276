// Package workflow implements the Workflow Graph and its Runner (spec
// §4.14, §4.15): a six-phase, checkpointed graph driven by GraphState,
// delegating per-task work to the loop, review, dispatch, recovery,
// worktree, and cleanup packages instead of re-implementing them.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// graphStateFile is where a run's GraphState is checkpointed, rooted at
// the project's .workflow directory alongside the teacher's other
// per-project state (sessions, temp, history).
const graphStateFile = "graph_state.json"

// GraphCheckpointer persists GraphState to a JSON file after every node,
// following the adapters/state JSON backend's atomic-write idiom
// (write to a temp file, then rename) rather than routing through
// core.StateManager, whose WorkflowState shape predates GraphState.
type GraphCheckpointer struct {
	path string
}

// NewGraphCheckpointer roots a checkpointer at projectDir's .workflow directory.
func NewGraphCheckpointer(projectDir string) *GraphCheckpointer {
	return &GraphCheckpointer{path: filepath.Join(projectDir, ".workflow", graphStateFile)}
}

// Save atomically writes state to disk.
func (c *GraphCheckpointer) Save(_ context.Context, state *core.GraphState) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling graph state: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Load reads the checkpointed state, returning (nil, nil) if none exists.
func (c *GraphCheckpointer) Load(_ context.Context) (*core.GraphState, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var state core.GraphState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling graph state: %w", err)
	}
	return &state, nil
}

// Exists reports whether a checkpoint is present.
func (c *GraphCheckpointer) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}
