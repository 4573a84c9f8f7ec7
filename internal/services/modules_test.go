package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/logger"
)

func moduleEnv(t *testing.T, name string) domain.Environment {
	t.Helper()
	env := registeredEnv(name)
	env.Root = filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(filepath.Join(env.Root, domain.ModuleDir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return env
}

func newModulesService(registry *memRegistry) *ModulesService {
	return &ModulesService{
		Registry:    registry,
		Repository:  &stubRepoSource{latest: map[string]string{}},
		Interceptor: &stepInterceptor{},
		Resolver:    &stubResolver{},
		History:     &memHistory{},
		Logger:      logger.NewStd(false),
	}
}

func resolvedTree(root, version string) domain.ResolveResult {
	return domain.ResolveResult{
		Root: root,
		Nodes: []domain.DependencyNode{
			{Name: root, Version: version, Depth: 0},
		},
	}
}

func TestInstallRecordsModuleAndVerifiesLoad(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	interceptor := svc.Interceptor.(*stepInterceptor)
	resolver := svc.Resolver.(*stubResolver)
	resolver.result = resolvedTree("Pester", "5.5.0")
	history := svc.History.(*memHistory)

	result, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "pester"})
	if err != nil {
		t.Fatalf("Install error: %v", err)
	}

	// The record carries the canonical name from the resolved manifest.
	if result.Record.Name != "Pester" || result.Record.Version != "5.5.0" {
		t.Errorf("record = %+v", result.Record)
	}
	if result.Record.Repository != "PSGallery" {
		t.Errorf("repository %q, want default PSGallery", result.Record.Repository)
	}
	if len(interceptor.installs) != 1 || interceptor.installs[0].Module != "pester" {
		t.Errorf("guarded installs = %+v", interceptor.installs)
	}
	if resolver.loadCalls != 1 {
		t.Errorf("load passes = %d, want 1", resolver.loadCalls)
	}

	saved, _ := registry.Get(context.Background(), "webdev")
	if _, found := saved.FindModule("Pester"); !found {
		t.Error("module record not persisted")
	}
	if len(registry.logs) != 1 || !strings.Contains(registry.logs[0], "installed Pester 5.5.0") {
		t.Errorf("activation log = %v", registry.logs)
	}
	if recs := history.byVerb(domain.VerbInstall); len(recs) != 1 || !recs[0].Success {
		t.Errorf("history = %+v", recs)
	}
}

func TestInstallTargetsActiveSessionByDefault(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Sessions = stubSessions{session: domain.ActiveSession{EnvironmentName: "webdev", EnvironmentRoot: env.Root}}
	svc.Resolver.(*stubResolver).result = resolvedTree("Pester", "5.5.0")

	if _, err := svc.Install(context.Background(), InstallRequest{Name: "Pester"}); err != nil {
		t.Fatalf("Install error: %v", err)
	}
	saved, _ := registry.Get(context.Background(), "webdev")
	if _, found := saved.FindModule("Pester"); !found {
		t.Error("module not installed into active environment")
	}
}

func TestInstallWithoutEnvironmentFails(t *testing.T) {
	svc := newModulesService(newMemRegistry())

	_, err := svc.Install(context.Background(), InstallRequest{Name: "Pester"})
	if !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}
}

func TestInstallDuplicateWithoutForce(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{{Name: "Pester", Version: "5.5.0"}}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	interceptor := svc.Interceptor.(*stepInterceptor)

	_, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "Pester"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
	if len(interceptor.installs) != 0 {
		t.Error("install ran for duplicate module")
	}
}

func TestInstallDifferentVersionAllowed(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{{Name: "Pester", Version: "5.4.0"}}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Resolver.(*stubResolver).result = resolvedTree("Pester", "5.5.0")

	result, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "Pester", Version: "5.5.0"})
	if err != nil {
		t.Fatalf("Install error: %v", err)
	}
	if result.Record.Version != "5.5.0" {
		t.Errorf("record version %s", result.Record.Version)
	}
	saved, _ := registry.Get(context.Background(), "webdev")
	if rec, _ := saved.FindModule("Pester"); rec.Version != "5.5.0" {
		t.Errorf("persisted version %s, want 5.5.0", rec.Version)
	}
}

func TestInstallConflictBlocksLoadButKeepsModule(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	resolver := svc.Resolver.(*stubResolver)
	resolver.result = resolvedTree("Sql.Tools", "2.0.0")
	resolver.result.Conflicts = []domain.AssemblyConflict{{
		Assembly:   "Microsoft.Data.SqlClient.dll",
		Module:     "Sql.Tools",
		LoadedBy:   "OldSql",
		LoadedFrom: "/old/path/Microsoft.Data.SqlClient.dll",
	}}

	result, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "Sql.Tools"})

	var conflict *domain.DependencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want DependencyConflictError", err)
	}
	if len(conflict.Hints()) != 1 {
		t.Errorf("hints = %v", conflict.Hints())
	}
	if resolver.loadCalls != 0 {
		t.Error("load ran despite pending conflict")
	}
	// The module stays installed; only loading is blocked.
	if result.Record.Name != "Sql.Tools" {
		t.Errorf("record = %+v", result.Record)
	}
	saved, _ := registry.Get(context.Background(), "webdev")
	if _, found := saved.FindModule("Sql.Tools"); !found {
		t.Error("module record dropped on conflict")
	}
}

func TestInstallSkipImport(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	resolver := svc.Resolver.(*stubResolver)
	resolver.result = resolvedTree("Pester", "5.5.0")

	if _, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "Pester", SkipImport: true}); err != nil {
		t.Fatalf("Install error: %v", err)
	}
	if resolver.loadCalls != 0 {
		t.Errorf("load passes = %d, want 0", resolver.loadCalls)
	}
}

func TestInstallFailureRecordsHistory(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Interceptor.(*stepInterceptor).installErr = &domain.ExternalOperationError{
		Operation: "install Pester",
		ExitCode:  1,
	}
	history := svc.History.(*memHistory)

	_, err := svc.Install(context.Background(), InstallRequest{Environment: "webdev", Name: "Pester"})
	if err == nil {
		t.Fatal("expected install failure")
	}
	recs := history.byVerb(domain.VerbInstall)
	if len(recs) != 1 || recs[0].Success {
		t.Errorf("history = %+v, want one failed record", recs)
	}
}

func TestUninstallRemovesTreeAndRecord(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{{Name: "Pester", Version: "5.5.0"}}
	moduleDir := filepath.Join(env.Root, domain.ModuleDir, "Pester", "5.5.0")
	if err := os.MkdirAll(moduleDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)

	removed, err := svc.Uninstall(context.Background(), "webdev", "pester", true)
	if err != nil {
		t.Fatalf("Uninstall error: %v", err)
	}
	if !removed {
		t.Fatal("Uninstall reported not removed")
	}
	if _, err := os.Stat(filepath.Join(env.Root, domain.ModuleDir, "Pester")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("module tree still present: %v", err)
	}
	saved, _ := registry.Get(context.Background(), "webdev")
	if _, found := saved.FindModule("Pester"); found {
		t.Error("record not dropped")
	}
	if len(registry.logs) != 1 || !strings.Contains(registry.logs[0], "uninstalled Pester") {
		t.Errorf("activation log = %v", registry.logs)
	}
}

func TestUninstallMissingModule(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)

	_, err := svc.Uninstall(context.Background(), "webdev", "Ghost", true)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUninstallDeclinedKeepsModule(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{{Name: "Pester", Version: "5.5.0"}}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Prompter = &stubPrompter{answer: false, enabled: true}

	removed, err := svc.Uninstall(context.Background(), "webdev", "Pester", false)
	if err != nil {
		t.Fatalf("Uninstall error: %v", err)
	}
	if removed {
		t.Error("module removed despite declined confirmation")
	}
	saved, _ := registry.Get(context.Background(), "webdev")
	if _, found := saved.FindModule("Pester"); !found {
		t.Error("record dropped without confirmation")
	}
}

func TestListJoinsRecordsWithDiskVersions(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{
		{Name: "Pester", Version: "5.5.0"},
		{Name: "PSReadLine", Version: "2.3.4"},
	}
	registry := newMemRegistry(env)
	registry.versions["Pester"] = []string{"5.5.0", "5.4.0"}
	registry.versions["PSReadLine"] = []string{"2.3.4"}
	svc := newModulesService(registry)
	ctx := context.Background()

	all, err := svc.List(ctx, "webdev", "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d listings, want 2", len(all))
	}
	if len(all[0].Versions) != 2 || all[0].Versions[0] != "5.5.0" {
		t.Errorf("Pester versions = %v", all[0].Versions)
	}

	wildcard, err := svc.List(ctx, "webdev", "pes*")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(wildcard) != 1 || wildcard[0].Record.Name != "Pester" {
		t.Errorf("wildcard listings = %+v", wildcard)
	}

	substring, err := svc.List(ctx, "webdev", "read")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(substring) != 1 || substring[0].Record.Name != "PSReadLine" {
		t.Errorf("substring listings = %+v", substring)
	}
}

func TestUpdateBumpsOutdatedModules(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{
		{Name: "Pester", Version: "5.4.0", Repository: "PSGallery", InstalledAt: time.Now().Add(-24 * time.Hour)},
		{Name: "PSReadLine", Version: "2.3.4", Repository: "PSGallery"},
	}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Repository.(*stubRepoSource).latest = map[string]string{
		"Pester":     "5.5.0",
		"PSReadLine": "2.3.4",
	}
	interceptor := svc.Interceptor.(*stepInterceptor)

	summary, err := svc.Update(context.Background(), "webdev", "", false, false)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}

	if summary.Checked != 2 || summary.Current != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Updated) != 1 || summary.Updated[0].Name != "Pester" ||
		summary.Updated[0].From != "5.4.0" || summary.Updated[0].To != "5.5.0" {
		t.Errorf("updated = %+v", summary.Updated)
	}
	if len(interceptor.installs) != 1 || interceptor.installs[0].Version != "5.5.0" {
		t.Errorf("guarded installs = %+v", interceptor.installs)
	}

	saved, _ := registry.Get(context.Background(), "webdev")
	if rec, _ := saved.FindModule("Pester"); rec.Version != "5.5.0" {
		t.Errorf("persisted version %s, want 5.5.0", rec.Version)
	}
}

func TestUpdateContinuesPastFailures(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{
		{Name: "Broken", Version: "1.0.0"},
		{Name: "Pester", Version: "5.4.0"},
	}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	repo := svc.Repository.(*stubRepoSource)
	repo.latest = map[string]string{"Pester": "5.5.0"}
	repo.findErrs = map[string]error{"Broken": errors.New("gallery unreachable")}

	summary, err := svc.Update(context.Background(), "webdev", "", false, false)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Module != "Broken" {
		t.Errorf("failures = %+v", summary.Failures)
	}
	if len(summary.Updated) != 1 || summary.Updated[0].Name != "Pester" {
		t.Errorf("updated = %+v", summary.Updated)
	}
}

func TestUpdateSingleMissingModule(t *testing.T) {
	env := moduleEnv(t, "webdev")
	registry := newMemRegistry(env)
	svc := newModulesService(registry)

	_, err := svc.Update(context.Background(), "webdev", "Ghost", false, false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateForceReinstallsCurrentModule(t *testing.T) {
	env := moduleEnv(t, "webdev")
	env.Modules = []domain.ModuleRecord{
		{Name: "Pester", Version: "5.5.0", Repository: "PSGallery"},
	}
	registry := newMemRegistry(env)
	svc := newModulesService(registry)
	svc.Repository.(*stubRepoSource).latest = map[string]string{"Pester": "5.5.0"}
	interceptor := svc.Interceptor.(*stepInterceptor)

	summary, err := svc.Update(context.Background(), "webdev", "Pester", false, true)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if summary.Current != 0 || len(summary.Updated) != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(interceptor.installs) != 1 {
		t.Errorf("guarded installs = %+v", interceptor.installs)
	}
}
