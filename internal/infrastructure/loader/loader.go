// Package loader runs module installs and imports under temporarily
// restricted search paths, keeping their side effects away from the live
// session.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/doeshing/psenv/assets"
	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// Loader implements ports.IsolatedLoader.
type Loader struct {
	Paths      ports.SearchPathManager
	Runtime    ports.HostRuntime
	Runner     ports.CommandRunner
	Repository ports.ModuleRepository
	Logger     ports.Logger

	// Executable is the host binary used for import workers.
	Executable string
	// Strategy selects worker or in-process imports.
	Strategy string
	// SoftTimeout is the diagnostic threshold for installs. Crossing it is
	// reported, never enforced.
	SoftTimeout time.Duration
	// WorkerTimeout is the hard ceiling for one import worker process.
	WorkerTimeout time.Duration
}

// NewLoader builds a loader with defaults filled in.
func NewLoader(paths ports.SearchPathManager, runtime ports.HostRuntime, runner ports.CommandRunner, repo ports.ModuleRepository, log ports.Logger) *Loader {
	return &Loader{
		Paths:         paths,
		Runtime:       runtime,
		Runner:        runner,
		Repository:    repo,
		Logger:        log,
		Executable:    "pwsh",
		Strategy:      domain.ImportStrategyWorker,
		SoftTimeout:   domain.DefaultIsolationTimeout,
		WorkerTimeout: domain.DefaultWorkerTimeout,
	}
}

// Install downloads a module into the environment under a widened install
// view: the environment's modules first, then the system directories the
// package tooling itself needs. The previous search path is restored no
// matter how the download ends.
func (l *Loader) Install(ctx context.Context, spec ports.InstallSpec) error {
	if l.Repository == nil {
		return fmt.Errorf("module repository not configured")
	}

	view, err := l.Paths.InstallView(ctx, spec.Environment)
	if err != nil {
		return fmt.Errorf("compose install view: %w", err)
	}

	snapshot := l.Paths.Snapshot()
	if err := l.Paths.Apply(view); err != nil {
		return fmt.Errorf("apply install view: %w", err)
	}
	defer func() {
		if err := l.Paths.Restore(snapshot); err != nil {
			l.warn("search path restore failed after install", map[string]interface{}{"error": err.Error()})
		}
	}()

	stopDiag := l.armSoftTimeout("install "+spec.Module, spec.Environment.Name)
	defer stopDiag()

	info, err := l.Repository.Find(ctx, spec.Module, spec.Version, spec.Repository)
	if err != nil {
		return err
	}

	destDir := filepath.Join(spec.Environment.Root, domain.ModuleDir)
	if err := l.Repository.Save(ctx, info, destDir, spec.AcceptLicense); err != nil {
		return err
	}
	return nil
}

// Import loads a module under the environment's restricted view and reports
// what actually loaded.
func (l *Loader) Import(ctx context.Context, spec ports.ImportSpec) (domain.ImportReport, error) {
	view := spec.SearchPath
	if view == "" {
		composed, err := l.Paths.Compose(ctx, spec.Environment)
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("compose search path: %w", err)
		}
		view = composed
	}

	if l.Strategy == domain.ImportStrategyInProcess {
		return l.importInProcess(ctx, spec, view)
	}
	return l.importWorker(ctx, spec, view)
}

// workerDescriptor is the JSON contract between the parent and the worker
// driver script.
type workerDescriptor struct {
	Module     string `json:"module"`
	Version    string `json:"version,omitempty"`
	SearchPath string `json:"searchPath"`
	OutFile    string `json:"outFile"`
}

// importWorker runs the import in a throwaway host process so assemblies and
// module state never touch the supervising session. Failures come in three
// shapes: the worker would not start, the worker exited non-zero, or the
// worker finished without a readable report.
func (l *Loader) importWorker(ctx context.Context, spec ports.ImportSpec, view string) (domain.ImportReport, error) {
	tmpDir, err := os.MkdirTemp("", "psenv-import-")
	if err != nil {
		return domain.ImportReport{}, fmt.Errorf("create worker dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	driver := filepath.Join(tmpDir, "import_worker.ps1")
	if err := os.WriteFile(driver, assets.ImportWorkerScript, domain.SecureFilePermissions); err != nil {
		return domain.ImportReport{}, fmt.Errorf("write worker driver: %w", err)
	}

	outFile := filepath.Join(tmpDir, "report.json")
	descriptor := workerDescriptor{
		Module:     spec.Module,
		Version:    spec.Version,
		SearchPath: view,
		OutFile:    outFile,
	}
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return domain.ImportReport{}, fmt.Errorf("encode descriptor: %w", err)
	}
	descPath := filepath.Join(tmpDir, "descriptor.json")
	if err := os.WriteFile(descPath, raw, domain.SecureFilePermissions); err != nil {
		return domain.ImportReport{}, fmt.Errorf("write descriptor: %w", err)
	}

	timeout := l.WorkerTimeout
	if timeout <= 0 {
		timeout = domain.DefaultWorkerTimeout
	}
	workerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	args := []string{"-NoProfile", "-NonInteractive", "-File", driver, descPath}
	result, err := l.Runner.Run(workerCtx, l.executable(), args, nil)
	if err != nil {
		if errors.Is(workerCtx.Err(), context.DeadlineExceeded) {
			return domain.ImportReport{}, &domain.IsolationTimeoutError{
				Operation: "import " + spec.Module,
				Elapsed:   time.Since(start),
				Threshold: timeout,
			}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.ImportReport{}, &domain.ExternalOperationError{
				Operation: "import " + spec.Module,
				ExitCode:  result.ExitCode,
				Stderr:    result.Stderr,
				Err:       err,
			}
		}
		return domain.ImportReport{}, fmt.Errorf("start import worker: %w", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return domain.ImportReport{}, fmt.Errorf("import worker left no report for %s: %w", spec.Module, domain.ErrCorrupted)
	}
	var report domain.ImportReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.ImportReport{}, fmt.Errorf("import worker report for %s unreadable: %w", spec.Module, domain.ErrCorrupted)
	}
	if report.Module == "" {
		return domain.ImportReport{}, fmt.Errorf("import worker report for %s is empty: %w", spec.Module, domain.ErrCorrupted)
	}
	return report, nil
}

// importInProcess applies the restricted view to this process, imports
// through the host runtime, and restores. Kept as a fallback for hosts where
// spawning workers is not possible; it cannot report the full closure.
func (l *Loader) importInProcess(ctx context.Context, spec ports.ImportSpec, view string) (domain.ImportReport, error) {
	snapshot := l.Paths.Snapshot()
	if err := l.Paths.Apply(view); err != nil {
		return domain.ImportReport{}, fmt.Errorf("apply search path: %w", err)
	}
	defer func() {
		if err := l.Paths.Restore(snapshot); err != nil {
			l.warn("search path restore failed after import", map[string]interface{}{"error": err.Error()})
		}
	}()

	result, err := l.Runtime.ImportModule(ctx, spec.Module)
	if err != nil {
		return domain.ImportReport{}, &domain.ExternalOperationError{
			Operation: "import " + spec.Module,
			ExitCode:  result.ExitCode,
			Stderr:    result.Stderr,
			Err:       err,
		}
	}

	return domain.ImportReport{
		Module:   spec.Module,
		Loaded:   []string{spec.Module},
		Warnings: []string{"in-process import reports only the requested module"},
	}, nil
}

// armSoftTimeout starts the diagnostic timer for a long-running operation.
// The timer only reports; the operation keeps running.
func (l *Loader) armSoftTimeout(operation, envName string) func() {
	threshold := l.SoftTimeout
	if threshold <= 0 {
		threshold = domain.DefaultIsolationTimeout
	}
	start := time.Now()
	timer := time.AfterFunc(threshold, func() {
		diag := &domain.IsolationTimeoutError{
			Operation: operation,
			Elapsed:   time.Since(start),
			Threshold: threshold,
		}
		l.warn(diag.Error(), map[string]interface{}{"environment": envName})
	})
	return func() { timer.Stop() }
}

func (l *Loader) executable() string {
	if l.Executable != "" {
		return l.Executable
	}
	return "pwsh"
}

func (l *Loader) warn(msg string, fields map[string]interface{}) {
	if l.Logger != nil {
		l.Logger.Warn(msg, fields)
	}
}

var _ ports.IsolatedLoader = (*Loader)(nil)
