package core

import (
	"strings"
)

// AgentRegistryTable is the static, compile-time-known catalogue of
// agent descriptors keyed by opaque id (spec §4.1). It is built once at
// process start and never mutated afterwards — the only process-wide
// item this system keeps as read-only global-shaped state.
type AgentRegistryTable struct {
	byID map[string]AgentDescriptor
	ids  []string // preserves registration order for All()
}

// NewAgentRegistryTable builds an immutable registry from descriptors.
func NewAgentRegistryTable(descriptors ...AgentDescriptor) *AgentRegistryTable {
	t := &AgentRegistryTable{byID: make(map[string]AgentDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, exists := t.byID[d.ID]; !exists {
			t.ids = append(t.ids, d.ID)
		}
		t.byID[d.ID] = d
	}
	return t
}

// Get returns the descriptor for id, or false if unknown.
func (t *AgentRegistryTable) Get(id string) (AgentDescriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// All returns every descriptor in registration order.
func (t *AgentRegistryTable) All() []AgentDescriptor {
	out := make([]AgentDescriptor, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.byID[id])
	}
	return out
}

// ReviewersOf returns the descriptors for id's configured reviewers.
func (t *AgentRegistryTable) ReviewersOf(id string) []AgentDescriptor {
	d, ok := t.byID[id]
	if !ok {
		return nil
	}
	out := make([]AgentDescriptor, 0, len(d.Reviewers))
	for _, rid := range d.Reviewers {
		if rd, ok := t.byID[rid]; ok {
			out = append(out, rd)
		}
	}
	return out
}

// FilterByCLI returns every descriptor whose PrimaryCLI or BackupCLI
// matches cli.
func (t *AgentRegistryTable) FilterByCLI(cli string) []AgentDescriptor {
	var out []AgentDescriptor
	for _, id := range t.ids {
		d := t.byID[id]
		if d.PrimaryCLI == cli || d.BackupCLI == cli {
			out = append(out, d)
		}
	}
	return out
}

// IsWritablePath implements the registry-authored write-permission
// predicate (spec §4.1):
//  1. deny if the agent cannot write files at all;
//  2. deny if any forbidden glob matches;
//  3. if allowed globs are non-empty, require at least one match;
//  4. otherwise allow.
func (t *AgentRegistryTable) IsWritablePath(id, path string) bool {
	d, ok := t.byID[id]
	if !ok || !d.CanWriteFiles {
		return false
	}
	for _, g := range d.ForbiddenPathGlobs {
		if globMatch(g, path) {
			return false
		}
	}
	if len(d.AllowedPathGlobs) == 0 {
		return true
	}
	for _, g := range d.AllowedPathGlobs {
		if globMatch(g, path) {
			return true
		}
	}
	return false
}

// globMatch implements shell-style glob matching with `*` (any run of
// characters except `/`) and `**` (any run of characters including `/`).
func globMatch(pattern, path string) bool {
	return matchSegments(splitGlob(pattern), path)
}

func splitGlob(pattern string) []string {
	var parts []string
	var cur strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				if cur.Len() > 0 {
					parts = append(parts, cur.String())
					cur.Reset()
				}
				parts = append(parts, "**")
				i++
			} else {
				if cur.Len() > 0 {
					parts = append(parts, cur.String())
					cur.Reset()
				}
				parts = append(parts, "*")
			}
		default:
			cur.WriteRune(runes[i])
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func matchSegments(parts []string, s string) bool {
	if len(parts) == 0 {
		return s == ""
	}
	head := parts[0]
	rest := parts[1:]

	switch head {
	case "**":
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(s); i++ {
			if matchSegments(rest, s[i:]) {
				return true
			}
		}
		return false
	case "*":
		// '*' matches any run of characters not containing '/'.
		idx := strings.IndexByte(s, '/')
		limit := len(s)
		if idx >= 0 {
			limit = idx
		}
		for i := 0; i <= limit; i++ {
			if matchSegments(rest, s[i:]) {
				return true
			}
		}
		return false
	default:
		if !strings.HasPrefix(s, head) {
			return false
		}
		return matchSegments(rest, s[len(head):])
	}
}
