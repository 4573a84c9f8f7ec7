// Package guard pins the module search path while an environment is active.
//
// A single goroutine owns the watchdog: it polls on a short ticker, restores
// the protected value whenever the live path drifts, and suspends
// enforcement while a bypass window is open. Bypass expiry is driven by a
// timer owned by the same goroutine, so state transitions never race.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// PathGuard implements ports.PathGuard.
type PathGuard struct {
	runtime  ports.HostRuntime
	log      ports.Logger
	interval time.Duration

	mu           sync.Mutex
	state        domain.GuardState
	protected    string
	stopCh       chan struct{}
	doneCh       chan struct{}
	bypassCh     chan time.Duration
	restorations int
	lastRestore  time.Time
	bypassUntil  time.Time
}

// NewPathGuard builds a guard polling at interval. Callers clamp the
// interval through configuration; anything non-positive falls back to the
// default.
func NewPathGuard(interval time.Duration, runtime ports.HostRuntime, log ports.Logger) *PathGuard {
	if interval <= 0 {
		interval = domain.DefaultGuardInterval
	}
	return &PathGuard{
		runtime:  runtime,
		log:      log,
		interval: interval,
		state:    domain.GuardInactive,
	}
}

// Enable arms the watchdog for a protected value. Enabling while already
// running replaces the previous watch after a warning.
func (g *PathGuard) Enable(protected string) error {
	if protected == "" {
		return fmt.Errorf("guard needs a protected search path")
	}

	g.mu.Lock()
	if g.stopCh != nil {
		stop, done := g.stopCh, g.doneCh
		g.mu.Unlock()
		g.warn("guard already armed, replacing watch", nil)
		close(stop)
		<-done
		g.mu.Lock()
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	bypassCh := make(chan time.Duration, 8)
	g.stopCh = stopCh
	g.doneCh = doneCh
	g.bypassCh = bypassCh
	g.protected = protected
	g.state = domain.GuardArmed
	g.bypassUntil = time.Time{}
	g.mu.Unlock()

	go g.run(protected, stopCh, doneCh, bypassCh)
	return nil
}

// Disable stops the watchdog. Safe to call repeatedly and from any state.
func (g *PathGuard) Disable() error {
	g.mu.Lock()
	if g.stopCh == nil {
		g.state = domain.GuardInactive
		g.mu.Unlock()
		return nil
	}
	stop, done := g.stopCh, g.doneCh
	g.stopCh = nil
	g.doneCh = nil
	g.bypassCh = nil
	g.mu.Unlock()

	close(stop)
	<-done

	g.mu.Lock()
	g.state = domain.GuardInactive
	g.protected = ""
	g.bypassUntil = time.Time{}
	g.mu.Unlock()
	return nil
}

// RequestBypass opens (or extends) a bypass window. Overlapping requests
// keep whichever expiry is later. Requests while inactive are ignored.
func (g *PathGuard) RequestBypass(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	bypassCh, stopCh := g.bypassCh, g.stopCh
	g.mu.Unlock()
	if bypassCh == nil {
		return
	}
	select {
	case bypassCh <- d:
	case <-stopCh:
	}
}

// Stats returns a snapshot of watchdog activity.
func (g *PathGuard) Stats() domain.GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.GuardStats{
		State:         g.state,
		ProtectedPath: g.protected,
		Restorations:  g.restorations,
		LastRestore:   g.lastRestore,
		BypassUntil:   g.bypassUntil,
	}
}

func (g *PathGuard) run(protected string, stopCh, doneCh chan struct{}, bypassCh chan time.Duration) {
	defer close(doneCh)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	// Idle timer; armed only while a bypass window is open.
	expiry := time.NewTimer(time.Hour)
	stopTimer(expiry)
	defer stopTimer(expiry)

	var windowEnd time.Time

	for {
		select {
		case <-stopCh:
			return

		case d := <-bypassCh:
			until := time.Now().Add(d)
			if until.Before(windowEnd) {
				// A longer window is already open; the later expiry wins.
				continue
			}
			windowEnd = until
			stopTimer(expiry)
			expiry.Reset(d)
			g.setBypass(until)

		case <-expiry.C:
			windowEnd = time.Time{}
			g.setArmed()

		case <-ticker.C:
			if !windowEnd.IsZero() {
				continue
			}
			g.check(protected)
		}
	}
}

func (g *PathGuard) check(protected string) {
	snap := g.runtime.SearchPath()
	if snap.Present && snap.Value == protected {
		return
	}
	if err := g.runtime.SetSearchPath(protected); err != nil {
		// Never escalate: the guard reports, the session keeps running.
		g.warn("search path restore failed", map[string]interface{}{"error": err.Error()})
		return
	}
	g.mu.Lock()
	g.restorations++
	g.lastRestore = time.Now()
	g.mu.Unlock()
	g.warn("search path drift restored", map[string]interface{}{"observed": snap.Value})
}

func (g *PathGuard) setBypass(until time.Time) {
	g.mu.Lock()
	g.state = domain.GuardBypass
	g.bypassUntil = until
	g.mu.Unlock()
}

func (g *PathGuard) setArmed() {
	g.mu.Lock()
	g.state = domain.GuardArmed
	g.bypassUntil = time.Time{}
	g.mu.Unlock()
}

func (g *PathGuard) warn(msg string, fields map[string]interface{}) {
	if g.log != nil {
		g.log.Warn(msg, fields)
	}
}

// stopTimer drains a stopped timer so a later Reset starts clean.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

var _ ports.PathGuard = (*PathGuard)(nil)
