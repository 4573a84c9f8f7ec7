package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// EnvironmentService manages the environment lifecycle: create, remove, list.
type EnvironmentService struct {
	ConfigProvider ports.ConfigProvider
	Registry       ports.EnvironmentRegistry
	Runtime        ports.HostRuntime
	Sessions       SessionSource
	History        ports.HistoryRepository
	Prompter       ports.ConfirmationPrompter
	Logger         ports.Logger
}

// CreateRequest carries the parameters of one environment creation.
type CreateRequest struct {
	Name        string
	Path        string
	Description string
	// Force replaces an existing environment of the same name.
	Force bool
}

// Create registers a new environment and builds its directory skeleton.
func (s *EnvironmentService) Create(ctx context.Context, req CreateRequest) (domain.Environment, error) {
	if s.ConfigProvider == nil || s.Registry == nil || s.Logger == nil {
		return domain.Environment{}, errors.New("services.EnvironmentService dependencies not satisfied")
	}
	start := time.Now()

	if err := domain.ValidateEnvironmentName(req.Name); err != nil {
		if suggestion := domain.SanitizeEnvironmentName(req.Name); suggestion != "" && suggestion != req.Name {
			return domain.Environment{}, fmt.Errorf("%w (try %q)", err, suggestion)
		}
		return domain.Environment{}, err
	}

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return domain.Environment{}, fmt.Errorf("load config: %w", err)
	}

	root := req.Path
	if root == "" {
		root = filepath.Join(envsDir(cfg), req.Name)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return domain.Environment{}, fmt.Errorf("resolve environment root: %w", err)
	}

	existing, err := s.Registry.Get(ctx, req.Name)
	switch {
	case err == nil:
		if !req.Force {
			return domain.Environment{}, fmt.Errorf("environment %q: %w", req.Name, domain.ErrAlreadyExists)
		}
		if s.activeName() == req.Name {
			return domain.Environment{}, fmt.Errorf("replace environment %q: %w", req.Name, domain.ErrActiveEnvironmentConflict)
		}
		if err := s.Registry.RemoveTree(existing); err != nil {
			return domain.Environment{}, fmt.Errorf("replace environment %q: %w", req.Name, err)
		}
	case errors.Is(err, domain.ErrNotFound):
		// Unregistered leftovers on disk are not silently adopted.
		if _, statErr := os.Stat(root); statErr == nil && !req.Force {
			return domain.Environment{}, fmt.Errorf("directory %s: %w", root, domain.ErrAlreadyExists)
		}
	default:
		return domain.Environment{}, err
	}

	env := domain.Environment{
		Name:        req.Name,
		Root:        root,
		Description: req.Description,
		CreatedAt:   time.Now(),
		Settings:    domain.DefaultEnvironmentSettings(),
	}

	if s.Runtime != nil {
		if version, verr := s.Runtime.Version(ctx); verr == nil {
			env.RuntimeVersion = version
		} else {
			s.Logger.Warn("host runtime version not detected", map[string]interface{}{"error": verr.Error()})
		}
	}

	if err := s.Registry.InitLayout(env); err != nil {
		return domain.Environment{}, fmt.Errorf("initialize environment layout: %w", err)
	}
	if err := s.Registry.Save(ctx, env); err != nil {
		return domain.Environment{}, fmt.Errorf("register environment: %w", err)
	}

	recordHistory(s.History, s.Logger, domain.OperationRecord{
		Environment: env.Name,
		Verb:        domain.VerbCreate,
		Subject:     env.Root,
		Success:     true,
		DurationMS:  time.Since(start).Milliseconds(),
	})
	s.Logger.Info("environment created", map[string]interface{}{
		"environment": env.Name,
		"root":        env.Root,
	})
	return env, nil
}

// Remove deletes an environment and its tree. The active environment cannot
// be removed. Returns false when the user declined the confirmation.
func (s *EnvironmentService) Remove(ctx context.Context, name string, force bool) (bool, error) {
	if s.Registry == nil || s.Logger == nil {
		return false, errors.New("services.EnvironmentService dependencies not satisfied")
	}
	start := time.Now()

	env, err := s.Registry.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if s.activeName() == name {
		return false, fmt.Errorf("remove environment %q: %w", name, domain.ErrActiveEnvironmentConflict)
	}

	if !force && s.Prompter != nil && s.Prompter.Enabled() {
		confirmed, err := s.Prompter.Confirm(fmt.Sprintf("Remove environment %q and everything under %s?", env.Name, env.Root))
		if err != nil {
			return false, fmt.Errorf("confirm removal: %w", err)
		}
		if !confirmed {
			s.Logger.Info("removal cancelled", map[string]interface{}{"environment": name})
			return false, nil
		}
	}

	// The tree goes first: if it fails the record stays behind for a retry
	// instead of orphaning files.
	if err := s.Registry.RemoveTree(env); err != nil {
		return false, fmt.Errorf("remove environment tree: %w", err)
	}
	if err := s.Registry.Delete(ctx, name); err != nil {
		return false, fmt.Errorf("deregister environment: %w", err)
	}

	recordHistory(s.History, s.Logger, domain.OperationRecord{
		Environment: name,
		Verb:        domain.VerbRemove,
		Subject:     env.Root,
		Success:     true,
		DurationMS:  time.Since(start).Milliseconds(),
	})
	s.Logger.Info("environment removed", map[string]interface{}{"environment": name})
	return true, nil
}

// List returns registered environments whose names match the pattern. An
// empty pattern matches everything.
func (s *EnvironmentService) List(ctx context.Context, pattern string) ([]domain.Environment, error) {
	if s.Registry == nil {
		return nil, errors.New("services.EnvironmentService dependencies not satisfied")
	}
	envs, err := s.Registry.List(ctx)
	if err != nil || pattern == "" {
		return envs, err
	}
	filtered := envs[:0]
	for _, env := range envs {
		if matchesPattern(env.Name, pattern) {
			filtered = append(filtered, env)
		}
	}
	return filtered, nil
}

// Get returns one environment by name.
func (s *EnvironmentService) Get(ctx context.Context, name string) (domain.Environment, error) {
	if s.Registry == nil {
		return domain.Environment{}, errors.New("services.EnvironmentService dependencies not satisfied")
	}
	return s.Registry.Get(ctx, name)
}

// envsDir is where environment roots are created unless an explicit path is
// given.
func envsDir(cfg domain.Config) string {
	if cfg.Runtime.EnvsDir != "" {
		return cfg.Runtime.EnvsDir
	}
	return filesystem.DefaultEnvsDir()
}

func (s *EnvironmentService) activeName() string {
	if s.Sessions == nil {
		return ""
	}
	return s.Sessions.Current().EnvironmentName
}
