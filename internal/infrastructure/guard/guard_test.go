package guard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/guard"
)

// fakeRuntime simulates the process-global search path with its own lock so
// the watchdog goroutine and the test can both touch it.
type fakeRuntime struct {
	mu      sync.Mutex
	value   string
	present bool
}

func (f *fakeRuntime) SearchPath() domain.SearchPathSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.SearchPathSnapshot{Value: f.value, Present: f.present}
}

func (f *fakeRuntime) SetSearchPath(value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.present = true
	return nil
}

func (f *fakeRuntime) UnsetSearchPath() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = ""
	f.present = false
	return nil
}

func (f *fakeRuntime) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeRuntime) drift(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.present = true
}

func (f *fakeRuntime) SystemModuleDirs(context.Context) ([]string, error) { return nil, nil }
func (f *fakeRuntime) Version(context.Context) (string, error)            { return "7.4.0", nil }
func (f *fakeRuntime) LoadedAssemblies(context.Context) ([]domain.LoadedAssembly, error) {
	return nil, nil
}
func (f *fakeRuntime) ImportModule(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Ran: true}, nil
}
func (f *fakeRuntime) RunScript(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Ran: true}, nil
}
func (f *fakeRuntime) StartSession(context.Context, string, map[string]string) (int, error) {
	return 0, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestGuardRestoresDrift(t *testing.T) {
	rt := &fakeRuntime{value: "/protected", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)
	if err := g.Enable("/protected"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	defer g.Disable()

	rt.drift("/hijacked")

	if !waitFor(t, 500*time.Millisecond, func() bool { return rt.get() == "/protected" }) {
		t.Fatalf("drift not restored, live path is %s", rt.get())
	}

	stats := g.Stats()
	if stats.Restorations == 0 {
		t.Error("restoration not counted")
	}
	if stats.State != domain.GuardArmed {
		t.Errorf("state %s, want armed", stats.State)
	}
}

func TestGuardRestoresUnsetVariable(t *testing.T) {
	rt := &fakeRuntime{value: "/protected", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)
	if err := g.Enable("/protected"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	defer g.Disable()

	_ = rt.UnsetSearchPath()

	if !waitFor(t, 500*time.Millisecond, func() bool {
		snap := rt.SearchPath()
		return snap.Present && snap.Value == "/protected"
	}) {
		t.Fatal("unset variable not restored")
	}
}

func TestGuardBypassSuppressesRestore(t *testing.T) {
	rt := &fakeRuntime{value: "/protected", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)
	if err := g.Enable("/protected"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	defer g.Disable()

	g.RequestBypass(150 * time.Millisecond)
	if !waitFor(t, 200*time.Millisecond, func() bool { return g.Stats().State == domain.GuardBypass }) {
		t.Fatal("bypass window did not open")
	}

	rt.drift("/install-temp")
	time.Sleep(60 * time.Millisecond)
	if rt.get() != "/install-temp" {
		t.Fatalf("guard restored inside bypass window, live path %s", rt.get())
	}

	// After expiry the next tick enforces again.
	if !waitFor(t, 700*time.Millisecond, func() bool { return rt.get() == "/protected" }) {
		t.Fatalf("drift not restored after bypass expiry, live path %s", rt.get())
	}
}

func TestGuardLaterExpiryWins(t *testing.T) {
	rt := &fakeRuntime{value: "/protected", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)
	if err := g.Enable("/protected"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	defer g.Disable()

	g.RequestBypass(300 * time.Millisecond)
	if !waitFor(t, 200*time.Millisecond, func() bool { return g.Stats().State == domain.GuardBypass }) {
		t.Fatal("bypass window did not open")
	}
	// A shorter overlapping request must not cut the window down.
	g.RequestBypass(20 * time.Millisecond)

	rt.drift("/still-bypassed")
	time.Sleep(120 * time.Millisecond)
	if rt.get() != "/still-bypassed" {
		t.Fatalf("shorter request truncated the window, live path %s", rt.get())
	}
}

func TestGuardDisableIdempotent(t *testing.T) {
	rt := &fakeRuntime{value: "/protected", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)

	if err := g.Disable(); err != nil {
		t.Fatalf("Disable on inactive guard: %v", err)
	}
	if err := g.Enable("/protected"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	if err := g.Disable(); err != nil {
		t.Fatalf("Disable error: %v", err)
	}
	if err := g.Disable(); err != nil {
		t.Fatalf("second Disable error: %v", err)
	}

	if got := g.Stats().State; got != domain.GuardInactive {
		t.Errorf("state %s, want inactive", got)
	}

	// A disabled guard must leave drift alone.
	rt.drift("/unguarded")
	time.Sleep(50 * time.Millisecond)
	if rt.get() != "/unguarded" {
		t.Error("disabled guard still restoring")
	}
}

func TestGuardEnableReplacesWatch(t *testing.T) {
	rt := &fakeRuntime{value: "/first", present: true}
	g := guard.NewPathGuard(10*time.Millisecond, rt, nil)
	if err := g.Enable("/first"); err != nil {
		t.Fatalf("Enable error: %v", err)
	}
	defer g.Disable()

	if err := g.Enable("/second"); err != nil {
		t.Fatalf("second Enable error: %v", err)
	}

	rt.drift("/elsewhere")
	if !waitFor(t, 500*time.Millisecond, func() bool { return rt.get() == "/second" }) {
		t.Fatalf("replacement watch not enforcing, live path %s", rt.get())
	}
}
