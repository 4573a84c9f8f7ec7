// Package registry persists the environment registry as JSON on disk.
//
// The canonical record is ~/.psenv/registry.json. Every Save also mirrors
// the environment descriptor into <root>/config.json, which keeps the
// environment self-describing and lets doctor cross-check the two.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/manifest"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

const registryFormatVersion = 1

type registryDocument struct {
	Version      int                  `json:"version"`
	Environments []domain.Environment `json:"environments"`
}

// Store is the file-backed environment registry.
type Store struct {
	path string
	mu   sync.Mutex
	log  ports.Logger
}

// NewStore returns a Store rooted at ~/.psenv/registry.json.
func NewStore(log ports.Logger) *Store {
	return &Store{
		path: filepath.Join(filesystem.ToolHome(), "registry.json"),
		log:  log,
	}
}

// NewStoreAt returns a Store over an explicit registry file path.
func NewStoreAt(path string, log ports.Logger) *Store {
	return &Store{path: path, log: log}
}

// List returns all registered environments, name-ordered as stored.
func (s *Store) List(context.Context) ([]domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Environments, nil
}

// Get returns one environment by name.
func (s *Store) Get(ctx context.Context, name string) (domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return domain.Environment{}, err
	}
	for _, env := range doc.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return domain.Environment{}, fmt.Errorf("environment %q: %w", name, domain.ErrNotFound)
}

// Save upserts an environment and refreshes its config.json mirror.
func (s *Store) Save(ctx context.Context, env domain.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range doc.Environments {
		if existing.Name == env.Name {
			doc.Environments[i] = env
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Environments = append(doc.Environments, env)
	}

	if err := s.write(doc); err != nil {
		return err
	}
	if err := writeMirror(env); err != nil {
		// The registry stays authoritative; a stale mirror is a doctor
		// warning, not a failure.
		if s.log != nil {
			s.log.Warn("environment mirror not updated", map[string]interface{}{"environment": env.Name, "error": err.Error()})
		}
	}
	return nil
}

// Delete removes an environment record. The tree is left alone; callers use
// RemoveTree when they mean to delete files.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	for i, env := range doc.Environments {
		if env.Name == name {
			doc.Environments = append(doc.Environments[:i], doc.Environments[i+1:]...)
			return s.write(doc)
		}
	}
	return fmt.Errorf("environment %q: %w", name, domain.ErrNotFound)
}

// InitLayout creates the standard directory skeleton and the config mirror.
func (s *Store) InitLayout(env domain.Environment) error {
	for _, sub := range []string{domain.ModuleDir, domain.ScriptsDir, domain.CacheDir, domain.LogsDir} {
		if err := os.MkdirAll(filepath.Join(env.Root, sub), domain.DirectoryPermissions); err != nil {
			return fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	return writeMirror(env)
}

// RemoveTree deletes the environment root recursively.
func (s *Store) RemoveTree(env domain.Environment) error {
	if env.Root == "" || env.Root == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove environment root %q", env.Root)
	}
	return os.RemoveAll(env.Root)
}

// ModuleVersions lists the version directories installed for a module,
// newest first.
func (s *Store) ModuleVersions(env domain.Environment, name string) []string {
	return manifest.Versions(filepath.Join(env.Root, domain.ModuleDir), name)
}

// AppendActivationLog writes one timestamped line to Logs/activation.log.
func (s *Store) AppendActivationLog(env domain.Environment, event string) error {
	logPath := filepath.Join(env.Root, domain.LogsDir, "activation.log")
	if err := os.MkdirAll(filepath.Dir(logPath), domain.DirectoryPermissions); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("%s %s\n", time.Now().Format(domain.TimestampFormat), event)
	_, err = f.WriteString(line)
	return err
}

func (s *Store) read() (registryDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return registryDocument{Version: registryFormatVersion}, nil
		}
		return registryDocument{}, fmt.Errorf("read registry %s: %w", s.path, err)
	}
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return registryDocument{}, fmt.Errorf("registry %s unreadable (%v): %w", s.path, err, domain.ErrCorrupted)
	}
	if doc.Version == 0 {
		doc.Version = registryFormatVersion
	}
	return doc, nil
}

func (s *Store) write(doc registryDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), domain.DirectoryPermissions); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename keeps a crash from truncating the registry.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, domain.SecureFilePermissions); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func writeMirror(env domain.Environment) error {
	if env.Root == "" {
		return fmt.Errorf("environment %q has no root", env.Name)
	}
	if err := os.MkdirAll(env.Root, domain.DirectoryPermissions); err != nil {
		return err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(env.Root, "config.json"), data, 0o644)
}

// ReadMirror loads the config.json mirror under an environment root. Doctor
// uses it to cross-check the registry.
func ReadMirror(root string) (domain.Environment, error) {
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	if err != nil {
		return domain.Environment{}, err
	}
	var env domain.Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Environment{}, fmt.Errorf("mirror under %s unreadable (%v): %w", root, err, domain.ErrCorrupted)
	}
	return env, nil
}

var _ ports.EnvironmentRegistry = (*Store)(nil)
