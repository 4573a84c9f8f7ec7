// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). Following the Ports and Adapters (Hexagonal) pattern,
// these interfaces allow the application to remain independent of specific
// implementations like the PowerShell host, the filesystem registry, or the CLI
// framework.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., HostRuntime, EnvironmentRegistry)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Services depend on abstractions, not implementations
package ports

import (
	"context"
	"io"
	"time"

	"github.com/doeshing/psenv/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.psenv/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// EnvironmentRegistry persists registered environments. The canonical record
// is ~/.psenv/registry.json; each Save also mirrors the environment into
// <root>/config.json so a registry rebuild stays possible.
type EnvironmentRegistry interface {
	List(ctx context.Context) ([]domain.Environment, error)
	Get(ctx context.Context, name string) (domain.Environment, error)
	Save(ctx context.Context, env domain.Environment) error
	Delete(ctx context.Context, name string) error
	// InitLayout creates the standard directory skeleton under the
	// environment root and writes the initial config.json mirror.
	InitLayout(env domain.Environment) error
	// RemoveTree deletes the environment root recursively.
	RemoveTree(env domain.Environment) error
	// AppendActivationLog writes one line to <root>/Logs/activation.log.
	// Logging failures are reported but callers treat them as non-fatal.
	AppendActivationLog(env domain.Environment, event string) error
	// ModuleVersions lists the version directories present on disk for a
	// module under the environment root, newest first.
	ModuleVersions(env domain.Environment, name string) []string
}

// HostRuntime is the bridge to the dynamic scripting host (PowerShell). The
// process-global module search path lives here, together with one-shot
// queries and script execution against a fresh host process.
type HostRuntime interface {
	// SearchPath reads the live module search path of this process, which
	// child host processes inherit.
	SearchPath() domain.SearchPathSnapshot
	SetSearchPath(value string) error
	UnsetSearchPath() error

	// SystemModuleDirs returns the host's built-in module directories
	// (existence-filtered), needed so package tooling keeps resolving when
	// an environment excludes everything else.
	SystemModuleDirs(ctx context.Context) ([]string, error)
	Version(ctx context.Context) (string, error)
	LoadedAssemblies(ctx context.Context) ([]domain.LoadedAssembly, error)

	// ImportModule imports into a fresh host process under the current
	// search path. Used by the in-process import strategy.
	ImportModule(ctx context.Context, module string) (domain.ExecutionResult, error)
	// RunScript executes a script snippet and captures output.
	RunScript(ctx context.Context, script string) (domain.ExecutionResult, error)

	// StartSession hands the terminal to an interactive host process that
	// inherits the current environment plus extraEnv. A non-empty command
	// runs that single command instead of an interactive prompt. Returns
	// the child's exit code.
	StartSession(ctx context.Context, command string, extraEnv map[string]string) (int, error)
}

// CommandRunner executes one external process and captures its outcome.
// The isolated loader uses it for import worker processes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, extraEnv map[string]string) (domain.ExecutionResult, error)
}

// SearchPathManager composes, applies, and restores module search paths.
type SearchPathManager interface {
	Snapshot() domain.SearchPathSnapshot
	// Compose builds the protected search path for an environment:
	// <root>/Modules first, then system directories according to settings.
	// User-profile directories are always excluded.
	Compose(ctx context.Context, env domain.Environment) (string, error)
	// InstallView builds the temporary search path for isolated installs:
	// the environment plus whatever the host package tooling needs.
	InstallView(ctx context.Context, env domain.Environment) (string, error)
	Apply(value string) error
	Restore(snapshot domain.SearchPathSnapshot) error
}

// PathGuard is the watchdog that pins the module search path while an
// environment is active. Implementations poll on a short interval, restore
// drift, and honor bypass windows requested by legitimate operations.
type PathGuard interface {
	Enable(protected string) error
	Disable() error
	// RequestBypass suppresses restoration for d. Overlapping requests keep
	// the later expiry.
	RequestBypass(d time.Duration)
	Stats() domain.GuardStats
}

// ImportSpec describes one guarded module import.
type ImportSpec struct {
	Module      string
	Version     string
	Environment domain.Environment
	// SearchPath is the restricted view the import must run under.
	SearchPath string
	// Bypass overrides the default guard bypass window when positive.
	Bypass time.Duration
}

// InstallSpec describes one guarded module install.
type InstallSpec struct {
	Module        string
	Version       string
	Repository    string
	Environment   domain.Environment
	AcceptLicense bool
	Force         bool
	// Bypass overrides the default guard bypass window when positive.
	Bypass time.Duration
}

// CallInterceptor wraps import and install entry points so they cooperate
// with the path guard. When interception is disabled the calls pass straight
// through to the loader.
type CallInterceptor interface {
	Enable(session domain.ActiveSession)
	Disable()
	GuardedImport(ctx context.Context, spec ImportSpec) (domain.ImportReport, error)
	GuardedInstall(ctx context.Context, spec InstallSpec) error
}

// DependencyResolver walks module manifests inside an environment and plans
// a conflict-free load.
type DependencyResolver interface {
	Resolve(ctx context.Context, module string, env domain.Environment) (domain.ResolveResult, error)
	// LoadAll imports the resolved set sequentially, deepest dependencies
	// first, continuing past individual failures.
	LoadAll(ctx context.Context, result domain.ResolveResult, env domain.Environment) (domain.LoadReport, error)
}

// IsolatedLoader performs installs and imports under controlled search
// paths: installs inside a restore-guaranteed bracket, imports either in a
// worker process or in-process.
type IsolatedLoader interface {
	Install(ctx context.Context, spec InstallSpec) error
	Import(ctx context.Context, spec ImportSpec) (domain.ImportReport, error)
}

// ModuleRepository finds and downloads modules from a configured source.
type ModuleRepository interface {
	// Find resolves repository metadata. A non-empty repository overrides
	// the client's default source.
	Find(ctx context.Context, name, version, repository string) (domain.ModuleInfo, error)
	// Save downloads the module tree into destDir (the environment's module
	// directory).
	Save(ctx context.Context, info domain.ModuleInfo, destDir string, acceptLicense bool) error
	Name() string
}

// SessionWatcher observes the active environment's module directory and
// appends change events to <root>/Logs/modules.log.
type SessionWatcher interface {
	Start(env domain.Environment) error
	Stop() error
}

// ProfileIntegrator manages the host profile integration block used by
// global-scope activation.
type ProfileIntegrator interface {
	Install(envName, searchPath string, force bool) (domain.ProfileInstallResult, error)
	Uninstall() (domain.ProfileInstallResult, error)
	Status() domain.ProfileStatus
}

// HistoryRepository records executed operations.
type HistoryRepository interface {
	Record(record domain.OperationRecord) error
	Recent(limit int) ([]domain.OperationRecord, error)
	Search(query string, limit int) ([]domain.OperationRecord, error)
	Clear() error
	Export(w io.Writer) error
}

// CacheRepository stores repository metadata between lookups.
type CacheRepository interface {
	Get(key string) (domain.CacheEntry, bool, error)
	Set(entry domain.CacheEntry) error
	Entries() ([]domain.CacheEntry, error)
	Clear() error
}

// ConfirmationPrompter handles interactive user confirmations for
// destructive operations such as removing an environment.
type ConfirmationPrompter interface {
	Confirm(prompt string) (bool, error)
	Enabled() bool
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
