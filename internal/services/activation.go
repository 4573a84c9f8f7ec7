// Package services orchestrates environment and module operations on top of
// the ports. Services hold no persistent state of their own; the one
// exception is the activation controller, which owns the in-memory session
// for the lifetime of the supervising process.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// SessionSource exposes the current activation to sibling services.
type SessionSource interface {
	Current() domain.ActiveSession
}

// Controller drives activation and deactivation. Exactly one session exists
// per process; activating while another environment is active replaces it.
type Controller struct {
	ConfigProvider ports.ConfigProvider
	Registry       ports.EnvironmentRegistry
	Runtime        ports.HostRuntime
	Paths          ports.SearchPathManager
	Guard          ports.PathGuard
	Interceptor    ports.CallInterceptor
	Watcher        ports.SessionWatcher
	Profile        ports.ProfileIntegrator
	History        ports.HistoryRepository
	Logger         ports.Logger

	mu       sync.Mutex
	session  domain.ActiveSession
	snapshot domain.SearchPathSnapshot
}

// undoStep is one completed activation step together with its inverse.
type undoStep struct {
	name string
	fn   func() error
}

// Activate prepares a protected session for the named environment: search
// path snapshot, protected composition, guard, call interception, module
// watcher, and (for global scope) the host profile block. A failure at any
// step unwinds the completed steps in reverse; unwind failures are logged as
// warnings and never mask the original error.
func (c *Controller) Activate(ctx context.Context, name string, scope domain.ActivationScope) (domain.ActiveSession, error) {
	if c.ConfigProvider == nil || c.Registry == nil || c.Paths == nil ||
		c.Guard == nil || c.Interceptor == nil || c.Logger == nil {
		return domain.ActiveSession{}, errors.New("services.Controller dependencies not satisfied")
	}

	cfg, err := c.ConfigProvider.Load(ctx)
	if err != nil {
		return domain.ActiveSession{}, fmt.Errorf("load config: %w", err)
	}

	// Look up first so a missing name leaves any current session untouched.
	env, err := c.Registry.Get(ctx, name)
	if err != nil {
		return domain.ActiveSession{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Active() {
		c.Logger.Info("replacing active environment", map[string]interface{}{
			"previous": c.session.EnvironmentName,
			"next":     env.Name,
		})
		c.deactivateLocked("replaced by " + env.Name)
	}

	start := time.Now()
	session, err := c.activateLocked(ctx, cfg, env, scope)
	if err != nil {
		recordHistory(c.History, c.Logger, domain.OperationRecord{
			Environment: env.Name,
			Verb:        domain.VerbActivate,
			Subject:     string(scope),
			Success:     false,
			Detail:      err.Error(),
			DurationMS:  time.Since(start).Milliseconds(),
		})
		return domain.ActiveSession{}, err
	}

	recordHistory(c.History, c.Logger, domain.OperationRecord{
		Environment: env.Name,
		Verb:        domain.VerbActivate,
		Subject:     string(scope),
		Success:     true,
		DurationMS:  time.Since(start).Milliseconds(),
	})
	return session, nil
}

func (c *Controller) activateLocked(ctx context.Context, cfg domain.Config, env domain.Environment, scope domain.ActivationScope) (domain.ActiveSession, error) {
	var undo []undoStep
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i].fn(); err != nil {
				c.Logger.Warn("activation rollback step failed", map[string]interface{}{
					"step":  undo[i].name,
					"error": err.Error(),
				})
			}
		}
	}

	env.LastUsedAt = time.Now()
	if err := c.Registry.Save(ctx, env); err != nil {
		return domain.ActiveSession{}, fmt.Errorf("update environment record: %w", err)
	}

	snapshot := c.Paths.Snapshot()

	protected, err := c.Paths.Compose(ctx, env)
	if err != nil {
		return domain.ActiveSession{}, fmt.Errorf("compose protected search path: %w", err)
	}
	if err := c.Paths.Apply(protected); err != nil {
		return domain.ActiveSession{}, fmt.Errorf("apply protected search path: %w", err)
	}
	undo = append(undo, undoStep{"restore search path", func() error { return c.Paths.Restore(snapshot) }})

	if cfg.IsGuardEnabled() && env.Settings.GuardEnabled {
		if err := c.Guard.Enable(protected); err != nil {
			rollback()
			return domain.ActiveSession{}, fmt.Errorf("enable path guard: %w", err)
		}
		undo = append(undo, undoStep{"disable path guard", c.Guard.Disable})
	}

	session := domain.ActiveSession{
		ID:                  uuid.NewString(),
		EnvironmentName:     env.Name,
		EnvironmentRoot:     env.Root,
		OriginalSearchPath:  snapshot.Value,
		ProtectedSearchPath: protected,
		Scope:               scope,
		ActivatedAt:         time.Now(),
	}

	c.Interceptor.Enable(session)
	undo = append(undo, undoStep{"disable call interception", func() error { c.Interceptor.Disable(); return nil }})

	if c.Watcher != nil {
		if err := c.Watcher.Start(env); err != nil {
			rollback()
			return domain.ActiveSession{}, fmt.Errorf("start module watcher: %w", err)
		}
		undo = append(undo, undoStep{"stop module watcher", c.Watcher.Stop})
	}

	if scope == domain.ScopeGlobal {
		if c.Profile == nil {
			rollback()
			return domain.ActiveSession{}, errors.New("global activation needs profile integration")
		}
		if _, err := c.Profile.Install(env.Name, protected, true); err != nil {
			rollback()
			return domain.ActiveSession{}, fmt.Errorf("install profile block: %w", err)
		}
	}

	if err := c.Registry.AppendActivationLog(env, fmt.Sprintf("activated scope=%s session=%s", scope, session.ID)); err != nil {
		c.Logger.Warn("activation log not written", map[string]interface{}{
			"environment": env.Name,
			"error":       err.Error(),
		})
	}

	c.session = session
	c.snapshot = snapshot
	c.Logger.Info("environment activated", map[string]interface{}{
		"environment": env.Name,
		"scope":       string(scope),
		"session":     session.ID,
	})
	return session, nil
}

// Deactivate tears the current session down in reverse activation order.
// Teardown failures are warnings: the session always ends.
func (c *Controller) Deactivate(ctx context.Context) error {
	if c.Logger == nil {
		return errors.New("services.Controller dependencies not satisfied")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.session.Active() {
		c.Logger.Warn("no active environment to deactivate", nil)
		return nil
	}
	c.deactivateLocked("deactivated")
	return nil
}

func (c *Controller) deactivateLocked(event string) {
	start := time.Now()
	session := c.session
	env := domain.Environment{Name: session.EnvironmentName, Root: session.EnvironmentRoot}

	warn := func(step string, err error) {
		if err != nil {
			c.Logger.Warn("deactivation step failed", map[string]interface{}{
				"step":  step,
				"error": err.Error(),
			})
		}
	}

	if session.Scope == domain.ScopeGlobal && c.Profile != nil {
		_, err := c.Profile.Uninstall()
		warn("remove profile block", err)
	}
	if c.Watcher != nil {
		warn("stop module watcher", c.Watcher.Stop())
	}
	if c.Interceptor != nil {
		c.Interceptor.Disable()
	}
	if c.Guard != nil {
		warn("disable path guard", c.Guard.Disable())
	}
	if c.Paths != nil {
		warn("restore search path", c.Paths.Restore(c.snapshot))
	}
	if c.Registry != nil {
		warn("append activation log", c.Registry.AppendActivationLog(env, fmt.Sprintf("%s session=%s", event, session.ID)))
	}

	c.session = domain.ActiveSession{}
	c.snapshot = domain.SearchPathSnapshot{}

	recordHistory(c.History, c.Logger, domain.OperationRecord{
		Environment: session.EnvironmentName,
		Verb:        domain.VerbDeactivate,
		Subject:     string(session.Scope),
		Success:     true,
		DurationMS:  time.Since(start).Milliseconds(),
	})
	c.Logger.Info("environment deactivated", map[string]interface{}{
		"environment": session.EnvironmentName,
		"session":     session.ID,
	})
}

// Run hands the terminal to a host process that inherits the protected
// session. An empty command starts an interactive prompt; otherwise the
// single command runs and the process exits. The session ends with the
// child either way.
func (c *Controller) Run(ctx context.Context, command string) (int, error) {
	if c.Runtime == nil {
		return 0, errors.New("services.Controller dependencies not satisfied")
	}
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if !session.Active() {
		return 0, fmt.Errorf("run session: %w", domain.ErrNoActiveSession)
	}

	extraEnv := map[string]string{
		domain.EnvActiveName: session.EnvironmentName,
		domain.EnvActiveRoot: session.EnvironmentRoot,
		domain.EnvSessionID:  session.ID,
	}
	exit, err := c.Runtime.StartSession(ctx, command, extraEnv)

	if derr := c.Deactivate(ctx); derr != nil {
		c.Logger.Warn("session cleanup failed", map[string]interface{}{"error": derr.Error()})
	}
	return exit, err
}

// Current returns the session this process owns, or one inherited from a
// supervising process through the session environment variables. Inherited
// sessions are read-only views; Deactivate ignores them.
func (c *Controller) Current() domain.ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Active() {
		return c.session
	}
	if name := os.Getenv(domain.EnvActiveName); name != "" {
		return domain.ActiveSession{
			ID:              os.Getenv(domain.EnvSessionID),
			EnvironmentName: name,
			EnvironmentRoot: os.Getenv(domain.EnvActiveRoot),
			Scope:           domain.ScopeSession,
		}
	}
	return domain.ActiveSession{}
}

// Status assembles the report the status command renders.
func (c *Controller) Status(ctx context.Context) (domain.StatusReport, error) {
	if c.Guard == nil {
		return domain.StatusReport{}, errors.New("services.Controller dependencies not satisfied")
	}
	report := domain.StatusReport{
		Session: c.Current(),
		Guard:   c.Guard.Stats(),
	}
	if c.Paths != nil {
		report.LiveSearchPath = c.Paths.Snapshot().Value
	}
	if c.Profile != nil {
		report.Profile = c.Profile.Status()
	}
	if c.Runtime != nil {
		if version, err := c.Runtime.Version(ctx); err == nil {
			report.RuntimeVersion = version
		}
	}
	return report, nil
}

// recordHistory writes one operation record, demoting store failures to
// warnings so history never blocks an operation.
func recordHistory(store ports.HistoryRepository, log ports.Logger, rec domain.OperationRecord) {
	if store == nil {
		return
	}
	if err := store.Record(rec); err != nil && log != nil {
		log.Warn("operation not recorded in history", map[string]interface{}{
			"verb":  rec.Verb,
			"error": err.Error(),
		})
	}
}

var _ SessionSource = (*Controller)(nil)
