package core

import "time"

// AgentDescriptor is an immutable Agent Registry entry. It is distinct
// from the Agent interface in ports.go: the interface is the runtime
// adapter contract, the descriptor is the static, compile-time-known
// catalogue row the registry looks up by opaque id.
type AgentDescriptor struct {
	ID                string
	Name              string
	PrimaryCLI        string
	BackupCLI         string
	ContextFilePath   string
	Reviewers         []string
	FallbackReviewer  string
	CanWriteFiles     bool
	AllowedPathGlobs  []string
	ForbiddenPathGlobs []string
	MaxIterations     int
	Timeout           time.Duration
	IsReviewer        bool
	ReviewSpecialization string
	WeightInConflicts float64
	SupportsLoop      bool
	CompletionPatterns []string
	AvailableModels   []string
	DefaultModel      string
}
