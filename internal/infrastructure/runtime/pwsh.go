// Package runtime adapts the PowerShell host for the rest of the
// application. The process-global module search path (PSModulePath) is owned
// here: the supervising psenv process mutates its own environment, and every
// host process it spawns inherits the result.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// SearchPathVariable is the environment variable PowerShell consults when
// resolving module imports.
const SearchPathVariable = "PSModulePath"

// PwshRuntime drives a PowerShell 7+ executable.
type PwshRuntime struct {
	executable string
	timeout    time.Duration
	runner     ports.CommandRunner
	log        ports.Logger

	mu         sync.Mutex
	systemDirs []string
}

// NewPwshRuntime builds the adapter from configuration.
func NewPwshRuntime(cfg domain.Config, runner ports.CommandRunner, log ports.Logger) *PwshRuntime {
	return &PwshRuntime{
		executable: cfg.GetRuntimeExecutable(),
		timeout:    cfg.GetCommandTimeout(),
		runner:     runner,
		log:        log,
	}
}

// Executable returns the configured host binary.
func (p *PwshRuntime) Executable() string {
	return p.executable
}

// SearchPath implements ports.HostRuntime.
func (p *PwshRuntime) SearchPath() domain.SearchPathSnapshot {
	value, present := os.LookupEnv(SearchPathVariable)
	return domain.SearchPathSnapshot{
		Value:   value,
		Present: present,
		TakenAt: time.Now().UnixMilli(),
	}
}

// SetSearchPath implements ports.HostRuntime.
func (p *PwshRuntime) SetSearchPath(value string) error {
	return os.Setenv(SearchPathVariable, value)
}

// UnsetSearchPath implements ports.HostRuntime.
func (p *PwshRuntime) UnsetSearchPath() error {
	return os.Unsetenv(SearchPathVariable)
}

// SystemModuleDirs returns the host's built-in module directories. The
// answer is memoized: it depends only on the installed host.
func (p *PwshRuntime) SystemModuleDirs(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.systemDirs != nil {
		return p.systemDirs, nil
	}

	result, err := p.runScript(ctx, "$PSHOME")
	if err != nil {
		return nil, fmt.Errorf("query PSHOME: %w", err)
	}
	psHome := strings.TrimSpace(result.Stdout)

	candidates := []string{}
	if psHome != "" {
		candidates = append(candidates, filepath.Join(psHome, "Modules"))
	}
	candidates = append(candidates, sharedModuleDirs()...)

	dirs := make([]string, 0, len(candidates))
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	p.systemDirs = dirs
	return dirs, nil
}

// Version reports the host version string.
func (p *PwshRuntime) Version(ctx context.Context) (string, error) {
	result, err := p.runScript(ctx, "$PSVersionTable.PSVersion.ToString()")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// LoadedAssemblies lists native assemblies in a fresh host process. Because
// every psenv-spawned host starts fresh, this approximates "what a new
// session would already hold" rather than the state of some long-lived
// session psenv cannot see.
func (p *PwshRuntime) LoadedAssemblies(ctx context.Context) ([]domain.LoadedAssembly, error) {
	const script = `[System.AppDomain]::CurrentDomain.GetAssemblies() |
  Where-Object { $_.Location } |
  ForEach-Object { @{ name = $_.GetName().Name; location = $_.Location } } |
  ConvertTo-Json -Compress`
	result, err := p.runScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("query loaded assemblies: %w", err)
	}
	return parseAssemblyList(result.Stdout)
}

// ImportModule imports a module in a fresh host process under the current
// process environment.
func (p *PwshRuntime) ImportModule(ctx context.Context, module string) (domain.ExecutionResult, error) {
	script := fmt.Sprintf("Import-Module -Name '%s' -ErrorAction Stop", escapeSingleQuotes(module))
	return p.runScript(ctx, script)
}

// RunScript executes a script snippet and captures output.
func (p *PwshRuntime) RunScript(ctx context.Context, script string) (domain.ExecutionResult, error) {
	return p.runScript(ctx, script)
}

// StartSession hands the terminal to an interactive host. The child inherits
// the current process environment, so the protected search path applies.
func (p *PwshRuntime) StartSession(ctx context.Context, command string, extraEnv map[string]string) (int, error) {
	args := []string{"-NoLogo"}
	if command != "" {
		args = append(args, "-Command", command)
	}

	c := exec.CommandContext(ctx, p.executable, args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = mergedEnv(extraEnv)

	err := c.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("start %s session: %w", p.executable, err)
	}
	return 0, nil
}

func (p *PwshRuntime) runScript(ctx context.Context, script string) (domain.ExecutionResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	args := []string{"-NoProfile", "-NonInteractive", "-Command", script}
	return p.runner.Run(ctx, p.executable, args, nil)
}

func parseAssemblyList(raw string) ([]domain.LoadedAssembly, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	// ConvertTo-Json collapses a single element to an object.
	if strings.HasPrefix(trimmed, "{") {
		var one domain.LoadedAssembly
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("assembly list unreadable (%v): %w", err, domain.ErrCorrupted)
		}
		return []domain.LoadedAssembly{one}, nil
	}
	var many []domain.LoadedAssembly
	if err := json.Unmarshal([]byte(trimmed), &many); err != nil {
		return nil, fmt.Errorf("assembly list unreadable (%v): %w", err, domain.ErrCorrupted)
	}
	return many, nil
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var _ ports.HostRuntime = (*PwshRuntime)(nil)
