// Package searchpath composes and restores module search paths. Composition
// is deterministic for a fixed host and environment; apply and restore are
// exact value replacements, never merges.
package searchpath

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// Separator joins search path entries.
const Separator = string(os.PathListSeparator)

// Manager implements ports.SearchPathManager over a host runtime.
type Manager struct {
	Runtime ports.HostRuntime
	Logger  ports.Logger
}

// NewManager builds a manager.
func NewManager(runtime ports.HostRuntime, log ports.Logger) *Manager {
	return &Manager{Runtime: runtime, Logger: log}
}

// Snapshot reads the live search path.
func (m *Manager) Snapshot() domain.SearchPathSnapshot {
	return m.Runtime.SearchPath()
}

// Compose builds the protected search path for an environment. The
// environment's module directory always comes first. System directories
// follow according to settings; user-profile directories never survive.
func (m *Manager) Compose(ctx context.Context, env domain.Environment) (string, error) {
	if env.Root == "" {
		return "", fmt.Errorf("environment %q has no root", env.Name)
	}
	entries := []string{filepath.Join(env.Root, domain.ModuleDir)}

	if env.Settings.IncludeSystemModules {
		live := m.Runtime.SearchPath()
		for _, entry := range splitEntries(live.Value) {
			if isUserProfileEntry(entry, env.Root) {
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		systemDirs, err := m.Runtime.SystemModuleDirs(ctx)
		if err != nil {
			return "", fmt.Errorf("compose search path: %w", err)
		}
		entries = append(entries, systemDirs...)
	}

	return joinUnique(entries), nil
}

// InstallView builds the search path used inside an install bracket. The
// host package tooling lives in the system module directories, so those are
// always present regardless of environment settings.
func (m *Manager) InstallView(ctx context.Context, env domain.Environment) (string, error) {
	if env.Root == "" {
		return "", fmt.Errorf("environment %q has no root", env.Name)
	}
	systemDirs, err := m.Runtime.SystemModuleDirs(ctx)
	if err != nil {
		return "", fmt.Errorf("compose install view: %w", err)
	}
	entries := append([]string{filepath.Join(env.Root, domain.ModuleDir)}, systemDirs...)
	return joinUnique(entries), nil
}

// Apply sets the live search path to exactly value.
func (m *Manager) Apply(value string) error {
	return m.Runtime.SetSearchPath(value)
}

// Restore reinstates a snapshot exactly, distinguishing empty from unset.
func (m *Manager) Restore(snapshot domain.SearchPathSnapshot) error {
	if !snapshot.Present {
		return m.Runtime.UnsetSearchPath()
	}
	return m.Runtime.SetSearchPath(snapshot.Value)
}

func splitEntries(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, Separator)
	entries := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			entries = append(entries, trimmed)
		}
	}
	return entries
}

// isUserProfileEntry reports whether an entry belongs to the user's profile
// (under the home directory) without belonging to the environment itself.
func isUserProfileEntry(entry, envRoot string) bool {
	home := filesystem.UserHomeDir()
	if home == "" || home == "." {
		return false
	}
	if underDir(entry, envRoot) {
		return false
	}
	return underDir(entry, home)
}

func underDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func joinUnique(entries []string) string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		clean := filepath.Clean(e)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return strings.Join(out, Separator)
}

var _ ports.SearchPathManager = (*Manager)(nil)
