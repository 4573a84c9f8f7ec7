// Package hooks wraps module import and install entry points so they
// cooperate with the path guard. The wrappers change nothing about the
// operations themselves: parameters pass through untouched and failures
// propagate to the caller as-is.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// Interceptor implements ports.CallInterceptor.
type Interceptor struct {
	Guard  ports.PathGuard
	Loader ports.IsolatedLoader
	Logger ports.Logger

	mu      sync.Mutex
	enabled bool
	session domain.ActiveSession
}

// NewInterceptor builds an interceptor.
func NewInterceptor(guard ports.PathGuard, loader ports.IsolatedLoader, log ports.Logger) *Interceptor {
	return &Interceptor{Guard: guard, Loader: loader, Logger: log}
}

// Enable turns interception on for a session.
func (i *Interceptor) Enable(session domain.ActiveSession) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = true
	i.session = session
}

// Disable turns interception off. Subsequent guarded calls delegate without
// requesting bypass windows.
func (i *Interceptor) Disable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = false
	i.session = domain.ActiveSession{}
}

// GuardedImport requests a bypass window sized for an import, then runs it.
func (i *Interceptor) GuardedImport(ctx context.Context, spec ports.ImportSpec) (domain.ImportReport, error) {
	if i.active() {
		i.requestBypass(spec.Bypass, domain.DefaultImportBypass, "import", spec.Module)
	}
	return i.Loader.Import(ctx, spec)
}

// GuardedInstall requests a bypass window sized for an install, then runs it.
// License-accepting installs get the extended window because the host
// tooling may wait on prompts.
func (i *Interceptor) GuardedInstall(ctx context.Context, spec ports.InstallSpec) error {
	if i.active() {
		fallback := domain.DefaultInstallBypass
		if spec.AcceptLicense {
			fallback = domain.ExtendedInstallBypass
		}
		i.requestBypass(spec.Bypass, fallback, "install", spec.Module)
	}
	return i.Loader.Install(ctx, spec)
}

func (i *Interceptor) active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}

func (i *Interceptor) requestBypass(requested, fallback time.Duration, op, module string) {
	d := requested
	if d <= 0 {
		d = fallback
	}
	i.Guard.RequestBypass(d)
	if i.Logger != nil {
		i.Logger.Debug("bypass window requested", map[string]interface{}{
			"operation": op,
			"module":    module,
			"window":    d.String(),
		})
	}
}

var _ ports.CallInterceptor = (*Interceptor)(nil)
