package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// DoctorService runs installation diagnostics.
type DoctorService struct {
	ConfigProvider ports.ConfigProvider
	Registry       ports.EnvironmentRegistry
	Runtime        ports.HostRuntime
	Guard          ports.PathGuard
	Profile        ports.ProfileIntegrator
	History        ports.HistoryRepository
	Sessions       SessionSource
}

// Run executes checks and returns a report.
func (s *DoctorService) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("loaded %s", cfg.ConfigFormatVersion)))
	if err := cfg.ValidateConsistency(); err != nil {
		checks = append(checks, warn("Config consistency", err.Error()))
	}

	checks = append(checks, s.runtimeCheck(ctx, cfg))
	checks = append(checks, toolHomeCheck())
	checks = append(checks, guardIntervalCheck(cfg))

	envs, err := s.Registry.List(ctx)
	if err != nil {
		checks = append(checks, fail("Registry", err.Error()))
	} else {
		checks = append(checks, ok("Registry", fmt.Sprintf("%d environments", len(envs))))
		for _, env := range envs {
			checks = append(checks, environmentChecks(env)...)
		}
		checks = append(checks, orphanedRootsCheck(cfg, envs))
	}

	if s.Guard != nil {
		checks = append(checks, guardCheck(s.Guard.Stats()))
	}
	if s.History != nil {
		if _, err := s.History.Recent(1); err != nil {
			checks = append(checks, warn("History store", err.Error()))
		} else {
			checks = append(checks, ok("History store", "reachable"))
		}
	}
	if s.Sessions != nil {
		if session := s.Sessions.Current(); session.Active() {
			checks = append(checks, ok("Active session", fmt.Sprintf("%s (scope %s)", session.EnvironmentName, session.Scope)))
		} else {
			checks = append(checks, ok("Active session", "none"))
		}
	}
	if s.Profile != nil {
		checks = append(checks, profileCheck(s.Profile.Status()))
	}

	return domain.HealthReport{Checks: checks}, nil
}

func (s *DoctorService) runtimeCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	if s.Runtime == nil {
		return warn("Host runtime", "runtime not initialized")
	}
	version, err := s.Runtime.Version(ctx)
	if err != nil {
		return fail("Host runtime", fmt.Sprintf("%s not reachable: %v", cfg.GetRuntimeExecutable(), err))
	}
	return ok("Host runtime", fmt.Sprintf("%s %s", cfg.GetRuntimeExecutable(), version))
}

func toolHomeCheck() domain.HealthCheck {
	home := filesystem.ToolHome()
	if err := os.MkdirAll(home, domain.DirectoryPermissions); err != nil {
		return fail("Tool home", fmt.Sprintf("%s not writable: %v", home, err))
	}
	probe, err := os.CreateTemp(home, ".doctor-*")
	if err != nil {
		return fail("Tool home", fmt.Sprintf("%s not writable: %v", home, err))
	}
	probe.Close()
	os.Remove(probe.Name())
	return ok("Tool home", home)
}

func guardIntervalCheck(cfg domain.Config) domain.HealthCheck {
	if !cfg.IsGuardEnabled() {
		return warn("Guard settings", "path guard disabled globally")
	}
	configured := cfg.Guard.IntervalMS
	effective := cfg.GetGuardInterval()
	if configured > 0 && time.Duration(configured)*time.Millisecond != effective {
		return warn("Guard settings", fmt.Sprintf("interval %dms clamped to %s", configured, effective))
	}
	return ok("Guard settings", fmt.Sprintf("interval %s", effective))
}

// environmentChecks verifies one environment's tree and its config.json
// mirror against the registry record.
func environmentChecks(env domain.Environment) []domain.HealthCheck {
	name := fmt.Sprintf("Environment %s", env.Name)

	if _, err := os.Stat(env.Root); err != nil {
		return []domain.HealthCheck{warn(name, fmt.Sprintf("root missing: %s", env.Root))}
	}
	var checks []domain.HealthCheck
	if _, err := os.Stat(filepath.Join(env.Root, domain.ModuleDir)); err != nil {
		checks = append(checks, warn(name, "Modules directory missing"))
	}

	mirror, err := readMirror(env.Root)
	switch {
	case err != nil:
		checks = append(checks, warn(name, fmt.Sprintf("config.json mirror unreadable: %v", err)))
	case mirror.Name != env.Name:
		checks = append(checks, warn(name, fmt.Sprintf("mirror names %q, registry says %q", mirror.Name, env.Name)))
	default:
		checks = append(checks, ok(name, fmt.Sprintf("%d modules, mirror consistent", len(env.Modules))))
	}
	return checks
}

// orphanedRootsCheck finds directories under the envs dir that no registry
// record claims.
func orphanedRootsCheck(cfg domain.Config, envs []domain.Environment) domain.HealthCheck {
	dir := envsDir(cfg)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ok("Orphaned roots", "none")
	}
	registered := make(map[string]bool, len(envs))
	for _, env := range envs {
		registered[filepath.Clean(env.Root)] = true
	}
	var orphans []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Clean(filepath.Join(dir, entry.Name()))
		if !registered[path] {
			orphans = append(orphans, entry.Name())
		}
	}
	if len(orphans) > 0 {
		return warn("Orphaned roots", fmt.Sprintf("unregistered under %s: %s", dir, strings.Join(orphans, ", ")))
	}
	return ok("Orphaned roots", "none")
}

func guardCheck(stats domain.GuardStats) domain.HealthCheck {
	switch stats.State {
	case domain.GuardArmed:
		return ok("Path guard", fmt.Sprintf("armed, %d restorations", stats.Restorations))
	case domain.GuardBypass:
		return ok("Path guard", fmt.Sprintf("bypass until %s", stats.BypassUntil.Format(domain.TimestampFormat)))
	default:
		return ok("Path guard", "inactive")
	}
}

func profileCheck(status domain.ProfileStatus) domain.HealthCheck {
	if status.Error != "" {
		return warn("Profile integration", status.Error)
	}
	if status.BlockPresent {
		return ok("Profile integration", fmt.Sprintf("environment %s (%s)", status.Environment, status.ProfilePath))
	}
	return ok("Profile integration", "no integration block installed")
}

func readMirror(root string) (domain.Environment, error) {
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	if err != nil {
		return domain.Environment{}, err
	}
	var env domain.Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Environment{}, err
	}
	return env, nil
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
