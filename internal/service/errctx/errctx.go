// Package errctx implements the Error-Context Manager (spec §4.6):
// classifying agent failures, extracting the files implicated, and
// building a retry prompt enriched with that history.
package errctx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quorum-forge/orchestrator/internal/core"
)

// MaxRecordsPerTask bounds how much history a single task keeps; the
// oldest record is dropped once the limit is hit (spec §4.6 bounded trim).
const MaxRecordsPerTask = 50

// classifyRule is tried in order; the first match wins.
type classifyRule struct {
	pattern *regexp.Regexp
	class   core.ErrorClassification
}

var rules = []classifyRule{
	{regexp.MustCompile(`(?i)context deadline exceeded|timed out|timeout`), core.ClassTimeout},
	{regexp.MustCompile(`(?i)syntax error|SyntaxError|unexpected token|expected declaration`), core.ClassSyntaxError},
	{regexp.MustCompile(`(?i)cannot find package|no such file or directory.*\.go|ModuleNotFoundError|import error|undefined: `), core.ClassImportError},
	{regexp.MustCompile(`(?i)type mismatch|cannot use .* as .* value|TypeError`), core.ClassTypeError},
	{regexp.MustCompile(`(?i)--- FAIL|FAIL:|AssertionError|test(s)? failed`), core.ClassTestFailure},
	{regexp.MustCompile(`(?i)build failed|compilation error|go build.*exit status`), core.ClassBuildFailure},
	{regexp.MustCompile(`(?i)golangci-lint|eslint|lint error|pylint`), core.ClassLintError},
	{regexp.MustCompile(`(?i)vulnerability|CVE-\d|security issue|gosec`), core.ClassSecurityIssue},
	{regexp.MustCompile(`(?i)ambiguous requirement|please clarify|need(s)? clarification`), core.ClassClarificationNeeded},
	{regexp.MustCompile(`(?i)panic:|nil pointer dereference|segmentation fault|index out of range`), core.ClassRuntimeError},
}

// Classify inspects combined stdout+stderr and returns the best-match
// classification, or ClassUnknown if nothing matches.
func Classify(output string) core.ErrorClassification {
	for _, r := range rules {
		if r.pattern.MatchString(output) {
			return r.class
		}
	}
	return core.ClassUnknown
}

var fileRe = regexp.MustCompile(`(?m)(?:^|[\s:("])([\w./\-]+\.(?:go|py|js|ts|tsx|jsx|rs|java|rb))(?::\d+)?`)

// ExtractFiles pulls distinct file paths mentioned in output, in order
// of first appearance.
func ExtractFiles(output string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range fileRe.FindAllStringSubmatch(output, -1) {
		f := m[1]
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

var suggestionTable = map[core.ErrorClassification]string{
	core.ClassTimeout:             "consider breaking the task into smaller steps or raising the timeout",
	core.ClassSyntaxError:         "re-check the edited file for unmatched braces or invalid syntax",
	core.ClassImportError:        "verify the import path and that the dependency is declared in go.mod/package.json",
	core.ClassTypeError:           "check the types involved and adjust the signature or conversion",
	core.ClassTestFailure:         "inspect the failing assertion and reconcile the implementation with the expected behavior",
	core.ClassBuildFailure:        "run a narrower build to localize the first failing file",
	core.ClassLintError:           "apply the linter's suggested fix or adjust the violating construct",
	core.ClassSecurityIssue:       "remove or sandbox the flagged construct; do not suppress the finding",
	core.ClassClarificationNeeded: "escalate for human clarification before continuing",
	core.ClassRuntimeError:        "add a nil/bounds check around the failing operation",
	core.ClassUnknown:             "review the raw output for an unrecognized failure mode",
}

func suggestionsFor(class core.ErrorClassification) []string {
	if s, ok := suggestionTable[class]; ok {
		return []string{s}
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}

// Manager tracks a bounded, mutex-guarded error history per task.
type Manager struct {
	mu      sync.Mutex
	records map[core.TaskID][]core.ErrorContextRecord
}

// NewManager constructs an empty error-context table.
func NewManager() *Manager {
	return &Manager{records: make(map[core.TaskID][]core.ErrorContextRecord)}
}

// Record classifies output, extracts files, truncates fields to the
// limits in core.MaxErrorMessageLen/MaxExcerptLen/MaxStackTraceLen, and
// appends a new ErrorContextRecord for taskID, trimming the oldest
// entry once MaxRecordsPerTask is exceeded.
func (m *Manager) Record(taskID core.TaskID, attempt int, message, stdout, stderr, stackTrace string, now time.Time) core.ErrorContextRecord {
	class := Classify(stdout + "\n" + stderr + "\n" + message)
	combined := stdout + "\n" + stderr
	rec := core.ErrorContextRecord{
		ID:             deriveID(taskID, attempt, now),
		TaskID:         taskID,
		Timestamp:      now,
		Attempt:        attempt,
		Classification: class,
		Message:        truncate(message, core.MaxErrorMessageLen),
		StdoutExcerpt:  truncate(stdout, core.MaxExcerptLen),
		StderrExcerpt:  truncate(stderr, core.MaxExcerptLen),
		FilesInvolved:  ExtractFiles(combined),
		StackTrace:     truncate(stackTrace, core.MaxStackTraceLen),
		Suggestions:    suggestionsFor(class),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.records[taskID], rec)
	if len(list) > MaxRecordsPerTask {
		list = list[len(list)-MaxRecordsPerTask:]
	}
	m.records[taskID] = list
	return rec
}

func deriveID(taskID core.TaskID, attempt int, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", taskID, attempt, now.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}

// ForTask returns the recorded history for taskID, oldest first.
func (m *Manager) ForTask(taskID core.TaskID) []core.ErrorContextRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ErrorContextRecord, len(m.records[taskID]))
	copy(out, m.records[taskID])
	return out
}

// ClearTaskErrors drops all recorded history for taskID, used once a
// task completes successfully.
func (m *Manager) ClearTaskErrors(taskID core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, taskID)
}

// BuildRetryPrompt composes an error-enhanced retry prompt from a
// task's recorded history, most recent failure first.
func BuildRetryPrompt(basePrompt string, history []core.ErrorContextRecord) string {
	if len(history) == 0 {
		return basePrompt
	}
	sorted := make([]core.ErrorContextRecord, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Attempt > sorted[j].Attempt })

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nPrevious attempts failed:\n")
	for _, rec := range sorted {
		fmt.Fprintf(&b, "- attempt %d (%s): %s\n", rec.Attempt, rec.Classification, rec.Message)
		if len(rec.FilesInvolved) > 0 {
			fmt.Fprintf(&b, "  files: %s\n", strings.Join(rec.FilesInvolved, ", "))
		}
		for _, s := range rec.Suggestions {
			fmt.Fprintf(&b, "  suggestion: %s\n", s)
		}
	}
	return b.String()
}
