package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the failure categories commands report. Callers match
// them with errors.Is after any amount of fmt.Errorf wrapping.
var (
	// ErrNotFound is returned when a named environment or module does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create would clobber an existing
	// environment and force was not given.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCorrupted marks unreadable or unparsable persisted state
	// (registry, environment config, module manifest, worker output).
	ErrCorrupted = errors.New("corrupted state")

	// ErrActiveEnvironmentConflict is returned when an operation is illegal
	// while the targeted environment is active, such as removing it.
	ErrActiveEnvironmentConflict = errors.New("environment is active")

	// ErrNoActiveSession is returned by module operations that require an
	// activated environment.
	ErrNoActiveSession = errors.New("no active environment")
)

// DependencyConflictError reports native assembly collisions detected during
// dependency resolution. Loading must not begin while one of these is pending.
type DependencyConflictError struct {
	Module    string
	Conflicts []AssemblyConflict
}

func (e *DependencyConflictError) Error() string {
	names := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		names = append(names, c.Assembly)
	}
	return fmt.Sprintf("module %s conflicts with loaded assemblies: %s", e.Module, strings.Join(names, ", "))
}

// Hints returns one remediation line per conflict for CLI rendering.
func (e *DependencyConflictError) Hints() []string {
	hints := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		hints = append(hints, fmt.Sprintf("%s requires %s, but %s already loaded it from %s; restart the session before importing", c.Module, c.Assembly, c.LoadedBy, c.LoadedFrom))
	}
	return hints
}

// IsolationTimeoutError is a diagnostic raised when an isolated operation
// exceeds its soft deadline. The operation itself keeps running; callers log
// this rather than abort.
type IsolationTimeoutError struct {
	Operation string
	Elapsed   time.Duration
	Threshold time.Duration
}

func (e *IsolationTimeoutError) Error() string {
	return fmt.Sprintf("%s still running after %s (threshold %s)", e.Operation, e.Elapsed.Round(time.Second), e.Threshold)
}

// ExternalOperationError wraps a failure from the host runtime or the module
// repository, keeping the exit code and a stderr tail for diagnostics.
type ExternalOperationError struct {
	Operation string
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *ExternalOperationError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Operation)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if tail := stderrTail(e.Stderr, 3); tail != "" {
		msg = msg + ": " + tail
	}
	return msg
}

func (e *ExternalOperationError) Unwrap() error { return e.Err }

func stderrTail(stderr string, lines int) string {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	for i := range all {
		all[i] = strings.TrimSpace(all[i])
	}
	return strings.Join(all, "; ")
}
