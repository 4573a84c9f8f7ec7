package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/logger"
)

func guardEnabledConfig() stubConfig {
	return stubConfig{cfg: domain.Config{Guard: domain.GuardSettings{Enabled: true, IntervalMS: 150}}}
}

func registeredEnv(name string) domain.Environment {
	return domain.Environment{
		Name:     name,
		Root:     "/envs/" + name,
		Settings: domain.DefaultEnvironmentSettings(),
	}
}

type controllerFixture struct {
	controller  *Controller
	registry    *memRegistry
	paths       *stepPaths
	guard       *stepGuard
	interceptor *stepInterceptor
	watcher     *stepWatcher
	profile     *stepProfile
	history     *memHistory
	host        *fakeHost
}

func newControllerFixture(envs ...domain.Environment) *controllerFixture {
	f := &controllerFixture{
		registry:    newMemRegistry(envs...),
		paths:       &stepPaths{value: "/usr/share/pwsh/Modules:/home/dev/.local/share/powershell/Modules"},
		guard:       &stepGuard{},
		interceptor: &stepInterceptor{},
		watcher:     &stepWatcher{},
		profile:     &stepProfile{},
		history:     &memHistory{},
		host:        &fakeHost{version: "7.4.1"},
	}
	f.controller = &Controller{
		ConfigProvider: guardEnabledConfig(),
		Registry:       f.registry,
		Runtime:        f.host,
		Paths:          f.paths,
		Guard:          f.guard,
		Interceptor:    f.interceptor,
		Watcher:        f.watcher,
		Profile:        f.profile,
		History:        f.history,
		Logger:         logger.NewStd(false),
	}
	return f
}

func TestActivateAppliesProtectedPathAndArmsGuard(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))

	session, err := f.controller.Activate(context.Background(), "webdev", domain.ScopeSession)
	if err != nil {
		t.Fatalf("Activate error: %v", err)
	}

	if !session.Active() || session.EnvironmentName != "webdev" {
		t.Fatalf("session = %+v, want active webdev", session)
	}
	if session.ID == "" {
		t.Error("session ID not assigned")
	}
	if len(f.paths.applied) != 1 || !strings.HasPrefix(f.paths.applied[0], "/envs/webdev/Modules") {
		t.Errorf("applied paths = %v, want protected view first", f.paths.applied)
	}
	if session.ProtectedSearchPath != f.paths.applied[0] {
		t.Errorf("session protected path %q, applied %q", session.ProtectedSearchPath, f.paths.applied[0])
	}
	if session.OriginalSearchPath != f.paths.value {
		t.Errorf("original path %q, want %q", session.OriginalSearchPath, f.paths.value)
	}
	if f.guard.enables != 1 || f.guard.protected != session.ProtectedSearchPath {
		t.Errorf("guard enabled %d times with %q", f.guard.enables, f.guard.protected)
	}
	if len(f.interceptor.sessions) != 1 || f.interceptor.sessions[0].ID != session.ID {
		t.Errorf("interceptor sessions = %+v", f.interceptor.sessions)
	}
	if len(f.watcher.started) != 1 || f.watcher.started[0] != "webdev" {
		t.Errorf("watcher started for %v", f.watcher.started)
	}

	saved, _ := f.registry.Get(context.Background(), "webdev")
	if saved.LastUsedAt.IsZero() {
		t.Error("LastUsedAt not updated")
	}
	if len(f.registry.logs) != 1 || !strings.Contains(f.registry.logs[0], "activated scope=Session") {
		t.Errorf("activation log = %v", f.registry.logs)
	}
	if recs := f.history.byVerb(domain.VerbActivate); len(recs) != 1 || !recs[0].Success {
		t.Errorf("history activate records = %+v", recs)
	}
}

func TestActivateMissingEnvironmentLeavesSessionUnset(t *testing.T) {
	f := newControllerFixture()

	_, err := f.controller.Activate(context.Background(), "ghost", domain.ScopeSession)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if f.controller.Current().Active() {
		t.Error("session set after failed activation")
	}
	if len(f.paths.applied) != 0 {
		t.Errorf("paths applied on failure: %v", f.paths.applied)
	}
}

func TestActivateReplacesActiveSession(t *testing.T) {
	f := newControllerFixture(registeredEnv("first"), registeredEnv("second"))
	ctx := context.Background()

	if _, err := f.controller.Activate(ctx, "first", domain.ScopeSession); err != nil {
		t.Fatalf("Activate first: %v", err)
	}
	session, err := f.controller.Activate(ctx, "second", domain.ScopeSession)
	if err != nil {
		t.Fatalf("Activate second: %v", err)
	}

	if session.EnvironmentName != "second" {
		t.Errorf("active environment %s, want second", session.EnvironmentName)
	}
	// The first session was torn down on replacement.
	if f.guard.disables != 1 || f.guard.enables != 2 {
		t.Errorf("guard enables=%d disables=%d, want 2/1", f.guard.enables, f.guard.disables)
	}
	if len(f.paths.restored) != 1 {
		t.Errorf("restored %d times, want 1", len(f.paths.restored))
	}
	found := false
	for _, line := range f.registry.logs {
		if strings.Contains(line, "replaced by second") {
			found = true
		}
	}
	if !found {
		t.Errorf("no replacement log line in %v", f.registry.logs)
	}
}

func TestActivateWatcherFailureRollsBackCompletedSteps(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	f.watcher.startErr = fmt.Errorf("inotify limit reached")

	_, err := f.controller.Activate(context.Background(), "webdev", domain.ScopeSession)
	if err == nil || !strings.Contains(err.Error(), "start module watcher") {
		t.Fatalf("got %v, want watcher failure", err)
	}

	if f.controller.Current().Active() {
		t.Error("session set despite failure")
	}
	if len(f.paths.restored) != 1 {
		t.Errorf("search path restored %d times, want 1", len(f.paths.restored))
	}
	if f.guard.disables != 1 {
		t.Errorf("guard disabled %d times, want 1", f.guard.disables)
	}
	if f.interceptor.disabled != 1 {
		t.Errorf("interceptor disabled %d times, want 1", f.interceptor.disabled)
	}
	if recs := f.history.byVerb(domain.VerbActivate); len(recs) != 1 || recs[0].Success {
		t.Errorf("history records = %+v, want one failed activate", recs)
	}
}

func TestActivateRollbackFailuresDoNotMaskOriginalError(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	f.watcher.startErr = fmt.Errorf("inotify limit reached")
	f.paths.restoreErr = fmt.Errorf("restore blew up")

	_, err := f.controller.Activate(context.Background(), "webdev", domain.ScopeSession)
	if err == nil || !strings.Contains(err.Error(), "inotify limit reached") {
		t.Fatalf("got %v, want original watcher error", err)
	}
	if strings.Contains(err.Error(), "restore blew up") {
		t.Errorf("rollback failure leaked into error: %v", err)
	}
}

func TestActivateSkipsGuardWhenEnvironmentOptsOut(t *testing.T) {
	env := registeredEnv("unguarded")
	env.Settings.GuardEnabled = false
	f := newControllerFixture(env)

	if _, err := f.controller.Activate(context.Background(), "unguarded", domain.ScopeSession); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if f.guard.enables != 0 {
		t.Errorf("guard enabled %d times for opted-out environment", f.guard.enables)
	}
	if len(f.watcher.started) != 1 {
		t.Error("watcher should still start without the guard")
	}
}

func TestActivateGlobalScopeInstallsProfileBlock(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	ctx := context.Background()

	session, err := f.controller.Activate(ctx, "webdev", domain.ScopeGlobal)
	if err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if len(f.profile.installs) != 1 {
		t.Fatalf("profile installs = %v, want 1", f.profile.installs)
	}
	if want := "webdev|" + session.ProtectedSearchPath; f.profile.installs[0] != want {
		t.Errorf("profile install %q, want %q", f.profile.installs[0], want)
	}

	if err := f.controller.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if f.profile.uninstalls != 1 {
		t.Errorf("profile uninstalls = %d, want 1", f.profile.uninstalls)
	}
}

func TestActivateGlobalProfileFailureRollsBack(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	f.profile.installErr = fmt.Errorf("profile readonly")

	_, err := f.controller.Activate(context.Background(), "webdev", domain.ScopeGlobal)
	if err == nil || !strings.Contains(err.Error(), "install profile block") {
		t.Fatalf("got %v, want profile failure", err)
	}
	if f.watcher.stops != 1 || f.guard.disables != 1 || len(f.paths.restored) != 1 {
		t.Errorf("rollback incomplete: watcher stops=%d guard disables=%d restores=%d",
			f.watcher.stops, f.guard.disables, len(f.paths.restored))
	}
}

func TestDeactivateRunsTeardownInReverseOrder(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	var ops []string
	f.paths.ops = &ops
	f.guard.ops = &ops
	f.interceptor.ops = &ops
	f.watcher.ops = &ops
	f.profile.ops = &ops
	ctx := context.Background()

	if _, err := f.controller.Activate(ctx, "webdev", domain.ScopeGlobal); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	ops = ops[:0]
	if err := f.controller.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}

	want := []string{"profile.uninstall", "watcher.stop", "interceptor.disable", "guard.disable", "paths.restore"}
	if len(ops) != len(want) {
		t.Fatalf("teardown ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("teardown ops = %v, want %v", ops, want)
		}
	}
}

func TestDeactivateFailuresAreWarningsNotErrors(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	ctx := context.Background()

	if _, err := f.controller.Activate(ctx, "webdev", domain.ScopeSession); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	f.guard.disableErr = fmt.Errorf("guard stuck")
	f.paths.restoreErr = fmt.Errorf("restore failed")

	if err := f.controller.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate returned %v, want nil despite step failures", err)
	}
	if f.controller.Current().Active() {
		t.Error("session survived deactivation")
	}
	if recs := f.history.byVerb(domain.VerbDeactivate); len(recs) != 1 {
		t.Errorf("history deactivate records = %+v", recs)
	}
}

func TestDeactivateWithoutSessionIsNoop(t *testing.T) {
	f := newControllerFixture()

	if err := f.controller.Deactivate(context.Background()); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if len(f.paths.restored) != 0 || f.guard.disables != 0 {
		t.Error("teardown ran without a session")
	}
}

func TestRunSupervisesChildAndEndsSession(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	f.host.exit = 0
	ctx := context.Background()

	session, err := f.controller.Activate(ctx, "webdev", domain.ScopeSession)
	if err != nil {
		t.Fatalf("Activate error: %v", err)
	}

	exit, err := f.controller.Run(ctx, "Get-Module")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if exit != 0 {
		t.Errorf("exit = %d, want 0", exit)
	}
	if f.host.lastCommand != "Get-Module" {
		t.Errorf("command %q, want Get-Module", f.host.lastCommand)
	}
	if f.host.lastEnv[domain.EnvActiveName] != "webdev" {
		t.Errorf("child env %v missing %s", f.host.lastEnv, domain.EnvActiveName)
	}
	if f.host.lastEnv[domain.EnvSessionID] != session.ID {
		t.Errorf("child session id %q, want %q", f.host.lastEnv[domain.EnvSessionID], session.ID)
	}
	if f.controller.Current().Active() {
		t.Error("session still active after child exit")
	}
	if len(f.paths.restored) != 1 {
		t.Errorf("search path restored %d times, want 1", len(f.paths.restored))
	}
}

func TestRunPropagatesChildExitCode(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	f.host.exit = 3
	ctx := context.Background()

	if _, err := f.controller.Activate(ctx, "webdev", domain.ScopeSession); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	exit, err := f.controller.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if exit != 3 {
		t.Errorf("exit = %d, want 3", exit)
	}
	if f.controller.Current().Active() {
		t.Error("session survived child exit")
	}
}

func TestRunWithoutSessionFails(t *testing.T) {
	f := newControllerFixture()

	_, err := f.controller.Run(context.Background(), "")
	if !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}
}

func TestCurrentFallsBackToInheritedSession(t *testing.T) {
	f := newControllerFixture()
	t.Setenv(domain.EnvActiveName, "inherited")
	t.Setenv(domain.EnvActiveRoot, "/envs/inherited")
	t.Setenv(domain.EnvSessionID, "abc-123")

	session := f.controller.Current()
	if session.EnvironmentName != "inherited" || session.EnvironmentRoot != "/envs/inherited" {
		t.Errorf("inherited session = %+v", session)
	}
	if session.ID != "abc-123" {
		t.Errorf("inherited session id %q", session.ID)
	}
}

func TestStatusReportsSessionAndGuard(t *testing.T) {
	f := newControllerFixture(registeredEnv("webdev"))
	ctx := context.Background()

	if _, err := f.controller.Activate(ctx, "webdev", domain.ScopeSession); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	report, err := f.controller.Status(ctx)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if report.Session.EnvironmentName != "webdev" {
		t.Errorf("status session %+v", report.Session)
	}
	if report.Guard.State != domain.GuardArmed {
		t.Errorf("guard state %s, want armed", report.Guard.State)
	}
	if report.RuntimeVersion != "7.4.1" {
		t.Errorf("runtime version %q", report.RuntimeVersion)
	}
}
