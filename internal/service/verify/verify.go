// Package verify implements the Verification Strategy (spec §4.3):
// pluggable validators that inspect a project after an agent iteration.
package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quorum-forge/orchestrator/internal/logging"
)

// Kind identifies a verifier variant.
type Kind string

const (
	KindTests     Kind = "tests"
	KindLint      Kind = "lint"
	KindSecurity  Kind = "security"
	KindComposite Kind = "composite"
	KindNone      Kind = "none"
)

// Context is the input every verifier shares.
type Context struct {
	ProjectDir  string
	TestFiles   []string
	SourceFiles []string
	TaskID      string
	Iteration   int
	Timeout     time.Duration
}

// Failure describes one failing test/lint/security finding.
type Failure struct {
	Name     string
	Message  string
	Severity string // for security kind: LOW/MEDIUM/HIGH/CRITICAL
}

// Result is the outcome of a verifier run (spec's VerificationResult).
type Result struct {
	Passed   bool
	Kind     Kind
	Summary  string
	Failures []Failure
	Warnings []string
	Duration time.Duration
	RawOutput string
}

// Verifier is the shared contract every variant implements.
type Verifier interface {
	Kind() Kind
	Verify(ctx context.Context, vctx Context) (*Result, error)
}

// runCommand executes a verifier's shell-out and enforces vctx.Timeout,
// following the subprocess-with-hard-timeout idiom used throughout the
// adapter layer (internal/adapters/cli/base.go ExecuteCommand).
func runCommand(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (stdout string, exitCode int, err error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	out, runErr := cmd.CombinedOutput()

	if cctx.Err() == context.DeadlineExceeded {
		return string(out), -1, cctx.Err()
	}
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if runErr != nil {
		code = -1
	}
	return string(out), code, nil
}

// ---------------------------------------------------------------------
// tests verifier
// ---------------------------------------------------------------------

// TestsVerifier auto-detects the project's test framework by probing
// well-known marker files and runs it.
type TestsVerifier struct {
	ProjectDir string
	Logger     *logging.Logger
}

var testFailRe = regexp.MustCompile(`(?m)^\s*(?:FAIL|---\s*FAIL|✗|failed)[:\s]+(.+)$`)
var testCountRe = regexp.MustCompile(`(\d+)\s+(?:passed|passing)`)

func (v *TestsVerifier) Kind() Kind { return KindTests }

func (v *TestsVerifier) detectFramework() (cmd string, args []string, ok bool) {
	markers := []struct {
		file string
		cmd  string
		args []string
	}{
		{"go.mod", "go", []string{"test", "./..."}},
		{"package.json", "npm", []string{"test"}},
		{"pyproject.toml", "pytest", nil},
		{"pytest.ini", "pytest", nil},
		{"Cargo.toml", "cargo", []string{"test"}},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(v.ProjectDir, m.file)); err == nil {
			return m.cmd, m.args, true
		}
	}
	return "", nil, false
}

func (v *TestsVerifier) Verify(ctx context.Context, vctx Context) (*Result, error) {
	start := time.Now()
	cmd, args, ok := v.detectFramework()
	if !ok {
		return &Result{Kind: KindTests, Passed: false, Summary: "no test framework detected", Duration: time.Since(start)}, nil
	}
	args = append(append([]string{}, args...), vctx.TestFiles...)

	out, code, err := runCommand(ctx, vctx.ProjectDir, vctx.Timeout, cmd, args...)
	if err != nil {
		return &Result{Kind: KindTests, Passed: false, Summary: "timed out", Duration: time.Since(start), RawOutput: out}, nil
	}

	var failures []Failure
	for _, m := range testFailRe.FindAllStringSubmatch(out, -1) {
		failures = append(failures, Failure{Name: strings.TrimSpace(m[1])})
	}

	return &Result{
		Kind:      KindTests,
		Passed:    code == 0 && len(failures) == 0,
		Summary:   summarize(code, len(failures)),
		Failures:  failures,
		Duration:  time.Since(start),
		RawOutput: out,
	}, nil
}

func summarize(code, failureCount int) string {
	if code == 0 && failureCount == 0 {
		return "all tests passed"
	}
	return strconv.Itoa(failureCount) + " test failure(s) detected"
}

// ---------------------------------------------------------------------
// lint verifier
// ---------------------------------------------------------------------

// LintVerifier auto-detects a linter via config presence or a binary on PATH.
type LintVerifier struct {
	ProjectDir string
}

var lintErrorRe = regexp.MustCompile(`(?m)^(.+?):(\d+):(\d+)?:?\s*(error|warning):\s*(.+)$`)

func (v *LintVerifier) Kind() Kind { return KindLint }

func (v *LintVerifier) detectLinter() (cmd string, args []string, ok bool) {
	if _, err := os.Stat(filepath.Join(v.ProjectDir, ".golangci.yml")); err == nil {
		return "golangci-lint", []string{"run"}, true
	}
	if _, err := os.Stat(filepath.Join(v.ProjectDir, ".eslintrc.json")); err == nil {
		return "eslint", []string{"."}, true
	}
	if p, err := exec.LookPath("golangci-lint"); err == nil {
		return p, []string{"run"}, true
	}
	return "", nil, false
}

func (v *LintVerifier) Verify(ctx context.Context, vctx Context) (*Result, error) {
	start := time.Now()
	cmd, args, ok := v.detectLinter()
	if !ok {
		return &Result{Kind: KindLint, Passed: true, Summary: "no linter configured", Duration: time.Since(start)}, nil
	}
	out, code, err := runCommand(ctx, vctx.ProjectDir, vctx.Timeout, cmd, args...)
	if err != nil {
		return &Result{Kind: KindLint, Passed: false, Summary: "timed out", Duration: time.Since(start), RawOutput: out}, nil
	}

	var failures []Failure
	var warnings []string
	for _, m := range lintErrorRe.FindAllStringSubmatch(out, -1) {
		if strings.EqualFold(m[4], "error") {
			failures = append(failures, Failure{Name: m[1] + ":" + m[2], Message: m[5]})
		} else {
			warnings = append(warnings, m[1]+":"+m[2]+" "+m[5])
		}
	}

	return &Result{
		Kind:      KindLint,
		Passed:    code == 0 && len(failures) == 0,
		Summary:   summarize(code, len(failures)),
		Failures:  failures,
		Warnings:  warnings,
		Duration:  time.Since(start),
		RawOutput: out,
	}, nil
}

// ---------------------------------------------------------------------
// security verifier
// ---------------------------------------------------------------------

// SecurityVerifier auto-detects a security scanner per ecosystem.
// Passed = (return_code == 0) AND (no HIGH/CRITICAL finding).
type SecurityVerifier struct {
	ProjectDir string
}

var severityRe = regexp.MustCompile(`(?i)\b(LOW|MEDIUM|HIGH|CRITICAL)\b`)

func (v *SecurityVerifier) Kind() Kind { return KindSecurity }

func (v *SecurityVerifier) detectScanner() (cmd string, args []string, ok bool) {
	if _, err := os.Stat(filepath.Join(v.ProjectDir, "go.mod")); err == nil {
		if p, err := exec.LookPath("gosec"); err == nil {
			return p, []string{"./..."}, true
		}
	}
	if p, err := exec.LookPath("semgrep"); err == nil {
		return p, []string{"--config=auto", "--error"}, true
	}
	return "", nil, false
}

func (v *SecurityVerifier) Verify(ctx context.Context, vctx Context) (*Result, error) {
	start := time.Now()
	cmd, args, ok := v.detectScanner()
	if !ok {
		return &Result{Kind: KindSecurity, Passed: true, Summary: "no security scanner configured", Duration: time.Since(start)}, nil
	}
	out, code, err := runCommand(ctx, vctx.ProjectDir, vctx.Timeout, cmd, args...)
	if err != nil {
		return &Result{Kind: KindSecurity, Passed: false, Summary: "timed out", Duration: time.Since(start), RawOutput: out}, nil
	}

	var failures []Failure
	highOrCritical := false
	for _, line := range strings.Split(out, "\n") {
		sev := severityRe.FindString(line)
		if sev == "" {
			continue
		}
		upper := strings.ToUpper(sev)
		if upper == "HIGH" || upper == "CRITICAL" {
			highOrCritical = true
		}
		failures = append(failures, Failure{Message: strings.TrimSpace(line), Severity: upper})
	}

	return &Result{
		Kind:      KindSecurity,
		Passed:    code == 0 && !highOrCritical,
		Summary:   summarize(code, len(failures)),
		Failures:  failures,
		Duration:  time.Since(start),
		RawOutput: out,
	}, nil
}

// ---------------------------------------------------------------------
// composite verifier
// ---------------------------------------------------------------------

// CompositePolicy controls how a CompositeVerifier aggregates its children.
type CompositePolicy string

const (
	RequireAll CompositePolicy = "require_all"
	RequireAny CompositePolicy = "require_any"
)

// CompositeVerifier wraps a list of verifiers under a single policy.
type CompositeVerifier struct {
	Verifiers []Verifier
	Policy    CompositePolicy
}

func (v *CompositeVerifier) Kind() Kind { return KindComposite }

func (v *CompositeVerifier) Verify(ctx context.Context, vctx Context) (*Result, error) {
	start := time.Now()
	var all []Failure
	var warnings []string
	anyPassed := false
	allPassed := true

	for _, child := range v.Verifiers {
		r, err := child.Verify(ctx, vctx)
		if err != nil {
			return nil, err
		}
		all = append(all, r.Failures...)
		warnings = append(warnings, r.Warnings...)
		if r.Passed {
			anyPassed = true
		} else {
			allPassed = false
		}
	}

	passed := allPassed
	if v.Policy == RequireAny {
		passed = anyPassed
	}

	return &Result{
		Kind:     KindComposite,
		Passed:   passed,
		Summary:  summarize(boolToCode(!passed), len(all)),
		Failures: all,
		Warnings: warnings,
		Duration: time.Since(start),
	}, nil
}

func boolToCode(failed bool) int {
	if failed {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------
// none verifier
// ---------------------------------------------------------------------

// NoneVerifier always passes; used when no verification is configured.
type NoneVerifier struct{}

func (NoneVerifier) Kind() Kind { return KindNone }

func (NoneVerifier) Verify(_ context.Context, _ Context) (*Result, error) {
	return &Result{Kind: KindNone, Passed: true, Summary: "no verification configured"}, nil
}

// ---------------------------------------------------------------------
// factory
// ---------------------------------------------------------------------

// Create constructs a verifier of the requested kind.
func Create(kind Kind, projectDir string) (Verifier, error) {
	switch kind {
	case KindTests:
		return &TestsVerifier{ProjectDir: projectDir}, nil
	case KindLint:
		return &LintVerifier{ProjectDir: projectDir}, nil
	case KindSecurity:
		return &SecurityVerifier{ProjectDir: projectDir}, nil
	case KindNone:
		return NoneVerifier{}, nil
	default:
		return nil, &unknownKindError{kind: kind}
	}
}

// CompositeOptions configures CreateComposite's default bundle.
type CompositeOptions struct {
	IncludeTests    bool
	IncludeLint     bool
	IncludeSecurity bool
	RequireAll      bool
}

// CreateComposite builds the default {tests, lint, security} bundle.
func CreateComposite(projectDir string, opts CompositeOptions) *CompositeVerifier {
	var verifiers []Verifier
	if opts.IncludeTests {
		verifiers = append(verifiers, &TestsVerifier{ProjectDir: projectDir})
	}
	if opts.IncludeLint {
		verifiers = append(verifiers, &LintVerifier{ProjectDir: projectDir})
	}
	if opts.IncludeSecurity {
		verifiers = append(verifiers, &SecurityVerifier{ProjectDir: projectDir})
	}
	policy := RequireAny
	if opts.RequireAll {
		policy = RequireAll
	}
	return &CompositeVerifier{Verifiers: verifiers, Policy: policy}
}

type unknownKindError struct{ kind Kind }

func (e *unknownKindError) Error() string {
	return "verify: unknown kind " + string(e.kind)
}
