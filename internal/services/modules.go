package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// ModulesService manages modules inside one environment: install, uninstall,
// list, update. Operations target the active environment unless an explicit
// name is given.
type ModulesService struct {
	Registry    ports.EnvironmentRegistry
	Repository  ports.ModuleRepository
	Interceptor ports.CallInterceptor
	Resolver    ports.DependencyResolver
	Sessions    SessionSource
	History     ports.HistoryRepository
	Prompter    ports.ConfirmationPrompter
	Logger      ports.Logger
}

// InstallRequest carries the parameters of one module installation.
type InstallRequest struct {
	// Environment targets an explicit environment; empty means the active one.
	Environment   string
	Name          string
	Version       string
	Repository    string
	AcceptLicense bool
	Force         bool
	// SkipImport installs without the verifying import pass.
	SkipImport bool
}

// InstallResult reports what an installation did.
type InstallResult struct {
	Record  domain.ModuleRecord
	Resolve domain.ResolveResult
	Load    domain.LoadReport
}

// Install downloads a module into the environment through the guarded
// install bracket, resolves its dependency tree, and verifies it loads. A
// pending assembly conflict leaves the module installed but skips the load;
// the returned error carries the per-assembly hints.
func (s *ModulesService) Install(ctx context.Context, req InstallRequest) (InstallResult, error) {
	if s.Registry == nil || s.Interceptor == nil || s.Resolver == nil || s.Logger == nil {
		return InstallResult{}, errors.New("services.ModulesService dependencies not satisfied")
	}
	if req.Name == "" {
		return InstallResult{}, errors.New("module name is empty")
	}
	start := time.Now()

	env, err := s.targetEnvironment(ctx, req.Environment)
	if err != nil {
		return InstallResult{}, err
	}

	if existing, found := env.FindModule(req.Name); found && !req.Force {
		if req.Version == "" || req.Version == existing.Version {
			return InstallResult{}, fmt.Errorf("module %s %s in environment %s: %w",
				existing.Name, existing.Version, env.Name, domain.ErrAlreadyExists)
		}
	}

	err = s.Interceptor.GuardedInstall(ctx, ports.InstallSpec{
		Module:        req.Name,
		Version:       req.Version,
		Repository:    req.Repository,
		Environment:   env,
		AcceptLicense: req.AcceptLicense,
		Force:         req.Force,
	})
	if err != nil {
		s.record(env.Name, domain.VerbInstall, req.Name, false, err.Error(), start)
		return InstallResult{}, err
	}

	resolved, err := s.Resolver.Resolve(ctx, req.Name, env)
	if err != nil {
		s.record(env.Name, domain.VerbInstall, req.Name, false, err.Error(), start)
		return InstallResult{}, fmt.Errorf("resolve installed module: %w", err)
	}
	for _, u := range resolved.Unresolved {
		s.Logger.Warn("dependency left unresolved", map[string]interface{}{
			"module": u.Name,
			"parent": u.Parent,
			"reason": u.Reason,
		})
	}

	record := s.buildRecord(env, req, resolved)
	env.UpsertModule(record)
	if err := s.Registry.Save(ctx, env); err != nil {
		s.record(env.Name, domain.VerbInstall, req.Name, false, err.Error(), start)
		return InstallResult{}, fmt.Errorf("record installed module: %w", err)
	}
	s.appendLog(env, fmt.Sprintf("installed %s %s", record.Name, record.Version))

	result := InstallResult{Record: record, Resolve: resolved}

	if !resolved.OK() {
		conflict := &domain.DependencyConflictError{Module: record.Name, Conflicts: resolved.Conflicts}
		s.record(env.Name, domain.VerbInstall, record.Name, true, "installed, load blocked by assembly conflict", start)
		return result, conflict
	}

	if !req.SkipImport {
		load, err := s.Resolver.LoadAll(ctx, resolved, env)
		if err != nil {
			s.record(env.Name, domain.VerbInstall, record.Name, false, err.Error(), start)
			return result, err
		}
		result.Load = load
	}

	s.record(env.Name, domain.VerbInstall, record.Name+" "+record.Version, true, "", start)
	s.Logger.Info("module installed", map[string]interface{}{
		"environment": env.Name,
		"module":      record.Name,
		"version":     record.Version,
	})
	return result, nil
}

// Uninstall removes a module from the environment. Returns false when the
// user declined the confirmation.
func (s *ModulesService) Uninstall(ctx context.Context, envName, module string, force bool) (bool, error) {
	if s.Registry == nil || s.Logger == nil {
		return false, errors.New("services.ModulesService dependencies not satisfied")
	}
	start := time.Now()

	env, err := s.targetEnvironment(ctx, envName)
	if err != nil {
		return false, err
	}

	record, found := env.FindModule(module)
	name := module
	if found {
		name = record.Name
	}
	moduleDir := filepath.Join(env.Root, domain.ModuleDir, name)
	if !found {
		if _, err := os.Stat(moduleDir); err != nil {
			return false, fmt.Errorf("module %q in environment %s: %w", module, env.Name, domain.ErrNotFound)
		}
	}

	if !force && s.Prompter != nil && s.Prompter.Enabled() {
		confirmed, err := s.Prompter.Confirm(fmt.Sprintf("Remove module %s from environment %s?", name, env.Name))
		if err != nil {
			return false, fmt.Errorf("confirm removal: %w", err)
		}
		if !confirmed {
			return false, nil
		}
	}

	if err := os.RemoveAll(moduleDir); err != nil {
		return false, fmt.Errorf("remove module tree: %w", err)
	}
	if env.RemoveModule(name) {
		if err := s.Registry.Save(ctx, env); err != nil {
			return false, fmt.Errorf("deregister module: %w", err)
		}
	}
	s.appendLog(env, "uninstalled "+name)

	s.record(env.Name, domain.VerbUninstall, name, true, "", start)
	s.Logger.Info("module removed", map[string]interface{}{
		"environment": env.Name,
		"module":      name,
	})
	return true, nil
}

// List joins the environment's module records with the version directories on
// disk. Pattern filters by name, with shell-style wildcards.
func (s *ModulesService) List(ctx context.Context, envName, pattern string) ([]domain.ModuleListing, error) {
	if s.Registry == nil {
		return nil, errors.New("services.ModulesService dependencies not satisfied")
	}
	env, err := s.targetEnvironment(ctx, envName)
	if err != nil {
		return nil, err
	}

	listings := make([]domain.ModuleListing, 0, len(env.Modules))
	for _, record := range env.Modules {
		if !matchesPattern(record.Name, pattern) {
			continue
		}
		listings = append(listings, domain.ModuleListing{
			Record:   record,
			Versions: s.Registry.ModuleVersions(env, record.Name),
		})
	}
	return listings, nil
}

// Update refreshes installed modules to the newest repository version. A
// non-empty module restricts the pass to that one. Per-module failures are
// collected in the summary instead of aborting the pass. With force set,
// modules are reinstalled even when the repository has nothing newer.
func (s *ModulesService) Update(ctx context.Context, envName, module string, acceptLicense, force bool) (domain.UpdateSummary, error) {
	if s.Registry == nil || s.Repository == nil || s.Interceptor == nil || s.Logger == nil {
		return domain.UpdateSummary{}, errors.New("services.ModulesService dependencies not satisfied")
	}
	start := time.Now()

	env, err := s.targetEnvironment(ctx, envName)
	if err != nil {
		return domain.UpdateSummary{}, err
	}

	records := env.Modules
	if module != "" {
		record, found := env.FindModule(module)
		if !found {
			return domain.UpdateSummary{}, fmt.Errorf("module %q in environment %s: %w", module, env.Name, domain.ErrNotFound)
		}
		records = []domain.ModuleRecord{record}
	}

	var summary domain.UpdateSummary
	for _, record := range records {
		summary.Checked++

		info, err := s.Repository.Find(ctx, record.Name, "", record.Repository)
		if err != nil {
			summary.Failures = append(summary.Failures, domain.UpdateFailure{
				Module: record.Name,
				Err:    fmt.Errorf("check latest version: %w", err),
			})
			continue
		}
		if !force && !newerVersion(info.Version, record.Version) {
			summary.Current++
			continue
		}

		err = s.Interceptor.GuardedInstall(ctx, ports.InstallSpec{
			Module:        record.Name,
			Version:       info.Version,
			Repository:    record.Repository,
			Environment:   env,
			AcceptLicense: acceptLicense,
		})
		if err != nil {
			summary.Failures = append(summary.Failures, domain.UpdateFailure{Module: record.Name, Err: err})
			continue
		}

		updated := record
		updated.Version = info.Version
		updated.InstalledAt = time.Now()
		updated.SizeBytes = dirSize(filepath.Join(env.Root, domain.ModuleDir, record.Name))
		env.UpsertModule(updated)
		summary.Updated = append(summary.Updated, domain.UpdatedModule{
			Name: record.Name,
			From: record.Version,
			To:   info.Version,
		})
		s.appendLog(env, fmt.Sprintf("updated %s %s -> %s", record.Name, record.Version, info.Version))
	}

	if len(summary.Updated) > 0 {
		if err := s.Registry.Save(ctx, env); err != nil {
			return summary, fmt.Errorf("record updated modules: %w", err)
		}
	}

	detail := fmt.Sprintf("updated %d of %d", len(summary.Updated), summary.Checked)
	s.record(env.Name, domain.VerbUpdate, module, len(summary.Failures) == 0, detail, start)
	return summary, nil
}

// targetEnvironment resolves the environment an operation acts on: the
// explicit name when given, otherwise the active session's.
func (s *ModulesService) targetEnvironment(ctx context.Context, name string) (domain.Environment, error) {
	if name == "" && s.Sessions != nil {
		if session := s.Sessions.Current(); session.Active() {
			name = session.EnvironmentName
		}
	}
	if name == "" {
		return domain.Environment{}, fmt.Errorf("module operations need an environment: %w", domain.ErrNoActiveSession)
	}
	return s.Registry.Get(ctx, name)
}

func (s *ModulesService) buildRecord(env domain.Environment, req InstallRequest, resolved domain.ResolveResult) domain.ModuleRecord {
	record := domain.ModuleRecord{
		Name:        req.Name,
		Version:     req.Version,
		Repository:  req.Repository,
		InstalledAt: time.Now(),
	}
	for _, node := range resolved.Nodes {
		if strings.EqualFold(node.Name, req.Name) {
			record.Name = node.Name
			record.Version = node.Version
			break
		}
	}
	if record.Repository == "" && s.Repository != nil {
		record.Repository = s.Repository.Name()
	}
	record.SizeBytes = dirSize(filepath.Join(env.Root, domain.ModuleDir, record.Name))
	return record
}

func (s *ModulesService) appendLog(env domain.Environment, event string) {
	if err := s.Registry.AppendActivationLog(env, event); err != nil {
		s.Logger.Warn("activation log not written", map[string]interface{}{
			"environment": env.Name,
			"error":       err.Error(),
		})
	}
}

func (s *ModulesService) record(env, verb, subject string, success bool, detail string, start time.Time) {
	recordHistory(s.History, s.Logger, domain.OperationRecord{
		Environment: env,
		Verb:        verb,
		Subject:     subject,
		Success:     success,
		Detail:      detail,
		DurationMS:  time.Since(start).Milliseconds(),
	})
}

// matchesPattern filters module names with shell-style wildcards; a pattern
// without wildcards matches as a case-insensitive substring.
func matchesPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	lowName := strings.ToLower(name)
	lowPattern := strings.ToLower(pattern)
	if strings.ContainsAny(lowPattern, "*?[") {
		ok, err := filepath.Match(lowPattern, lowName)
		return err == nil && ok
	}
	return strings.Contains(lowName, lowPattern)
}

// newerVersion reports whether candidate is a strictly newer version than
// installed. Unparseable installed versions count as updatable.
func newerVersion(candidate, installed string) bool {
	c, err := goversion.NewVersion(candidate)
	if err != nil {
		return false
	}
	i, err := goversion.NewVersion(installed)
	if err != nil {
		return true
	}
	return c.GreaterThan(i)
}

// dirSize sums regular file sizes under root. Unreadable entries are skipped.
func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
