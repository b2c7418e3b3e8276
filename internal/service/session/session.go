// Package session implements the Session Manager (spec §4.4): tracking
// per-task CLI session ids so an agent invocation can resume instead of
// restarting its context from scratch.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// Store is the pluggable persistence contract a Manager writes through to.
// A nil Store is valid and leaves the Manager purely in-memory.
type Store interface {
	Save(info core.SessionInfo) error
	Load(sessionID string) (core.SessionInfo, bool, error)
	Delete(sessionID string) error
}

// Manager is a mutex-guarded in-memory session table with an optional
// write-through store, grounded on the teacher's checkpoint.go pattern
// of guarding shared workflow state behind a single sync.Mutex.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*core.SessionInfo
	store    Store
	ttlHours float64
}

// DefaultTTLHours is how long an idle session is kept resumable.
const DefaultTTLHours = 24.0

// NewManager builds a Manager. store may be nil.
func NewManager(store Store) *Manager {
	return &Manager{
		sessions: make(map[string]*core.SessionInfo),
		store:    store,
		ttlHours: DefaultTTLHours,
	}
}

// WithTTLHours overrides the default session expiry window.
func (m *Manager) WithTTLHours(hours float64) *Manager {
	m.ttlHours = hours
	return m
}

// deriveID computes the session id: <task_id>-<12 hex of sha256(task_id|salt)>.
func deriveID(taskID string, salt string) string {
	sum := sha256.Sum256([]byte(taskID + "|" + salt))
	return fmt.Sprintf("%s-%s", taskID, hex.EncodeToString(sum[:])[:12])
}

// GetOrCreate returns the active session for taskID, creating one if
// none exists or the existing one has expired.
func (m *Manager) GetOrCreate(taskID string, now time.Time) *core.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.TaskID == taskID && s.IsActive && !s.Expired(now) {
			return s
		}
	}
	return m.createLocked(taskID, now)
}

// Create forces a brand new session for taskID, even if one is active.
func (m *Manager) Create(taskID string, now time.Time) *core.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(taskID, now)
}

func (m *Manager) createLocked(taskID string, now time.Time) *core.SessionInfo {
	id := deriveID(taskID, now.String())
	info := &core.SessionInfo{
		SessionID:  id,
		TaskID:     taskID,
		CreatedAt:  now,
		LastUsedAt: now,
		Iteration:  0,
		IsActive:   true,
		TTLHours:   m.ttlHours,
	}
	m.sessions[id] = info
	if m.store != nil {
		_ = m.store.Save(*info)
	}
	return info
}

// Get returns the session by id.
func (m *Manager) Get(sessionID string) (*core.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if ok {
		return s, true
	}
	if m.store == nil {
		return nil, false
	}
	loaded, found, err := m.store.Load(sessionID)
	if err != nil || !found {
		return nil, false
	}
	m.sessions[sessionID] = &loaded
	return &loaded, true
}

// Touch bumps LastUsedAt and Iteration for an active session.
func (m *Manager) Touch(sessionID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.LastUsedAt = now
	s.Iteration++
	if m.store != nil {
		_ = m.store.Save(*s)
	}
}

// Close marks a session inactive without deleting it.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.IsActive = false
	if m.store != nil {
		_ = m.store.Save(*s)
	}
}

// Delete removes a session entirely.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	if m.store != nil {
		return m.store.Delete(sessionID)
	}
	return nil
}

// capturePattern matches the common "session_id" / "Session ID:" shapes
// CLI adapters print to stdout on their first turn.
var capturePatterns = []string{
	`"session_id"\s*:\s*"([^"]+)"`,
	`(?i)session[_ ]id:\s*(\S+)`,
}

// CaptureSessionIDFromOutput scans agent stdout for an emitted session id.
func CaptureSessionIDFromOutput(output string) (string, bool) {
	for _, pat := range capturePatterns {
		re := regexp.MustCompile(pat)
		if m := re.FindStringSubmatch(output); len(m) == 2 {
			return m[1], true
		}
	}
	return "", false
}

// ResumeArgs returns the CLI flags that resume an existing session,
// following each adapter's own flag dialect.
func ResumeArgs(cli, sessionID string) []string {
	switch cli {
	case "claude":
		return []string{"--resume", sessionID}
	case "codex":
		return []string{"--session", sessionID}
	case "gemini", "aider":
		return []string{"--continue", sessionID}
	default:
		return []string{"--session-id", sessionID}
	}
}

// SessionIDArgs returns the CLI flags that name a brand new session id
// up front (when the adapter supports pre-assigning one).
func SessionIDArgs(cli, sessionID string) []string {
	switch cli {
	case "claude":
		return []string{"--session-id", sessionID}
	default:
		return nil
	}
}
