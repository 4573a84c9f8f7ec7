package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

type stubConfig struct {
	cfg domain.Config
	err error
}

func (s stubConfig) Load(context.Context) (domain.Config, error) {
	return s.cfg, s.err
}

// memRegistry is an in-memory ports.EnvironmentRegistry. It never touches
// the filesystem; layout and tree operations are recorded for assertions.
type memRegistry struct {
	mu           sync.Mutex
	envs         map[string]domain.Environment
	versions     map[string][]string
	initialized  []string
	removedTrees []string
	logs         []string
	saveErr      error
	logErr       error
}

func newMemRegistry(envs ...domain.Environment) *memRegistry {
	r := &memRegistry{
		envs:     make(map[string]domain.Environment),
		versions: make(map[string][]string),
	}
	for _, env := range envs {
		r.envs[env.Name] = env
	}
	return r
}

func (r *memRegistry) List(context.Context) ([]domain.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Environment, 0, len(r.envs))
	for _, env := range r.envs {
		out = append(out, env)
	}
	return out, nil
}

func (r *memRegistry) Get(_ context.Context, name string) (domain.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envs[name]
	if !ok {
		return domain.Environment{}, fmt.Errorf("environment %q: %w", name, domain.ErrNotFound)
	}
	return env, nil
}

func (r *memRegistry) Save(_ context.Context, env domain.Environment) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs[env.Name] = env
	return nil
}

func (r *memRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.envs[name]; !ok {
		return fmt.Errorf("environment %q: %w", name, domain.ErrNotFound)
	}
	delete(r.envs, name)
	return nil
}

func (r *memRegistry) InitLayout(env domain.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = append(r.initialized, env.Name)
	return nil
}

func (r *memRegistry) RemoveTree(env domain.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removedTrees = append(r.removedTrees, env.Root)
	return nil
}

func (r *memRegistry) AppendActivationLog(env domain.Environment, event string) error {
	if r.logErr != nil {
		return r.logErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, env.Name+": "+event)
	return nil
}

func (r *memRegistry) ModuleVersions(_ domain.Environment, name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[name]
}

// stepPaths is a ports.SearchPathManager that records calls, optionally into
// a shared order log.
type stepPaths struct {
	value      string
	systemDirs []string
	applied    []string
	restored   []domain.SearchPathSnapshot
	composeErr error
	applyErr   error
	restoreErr error
	ops        *[]string
}

func (p *stepPaths) Snapshot() domain.SearchPathSnapshot {
	return domain.SearchPathSnapshot{Value: p.value, Present: true, TakenAt: time.Now().UnixMilli()}
}

func (p *stepPaths) Compose(_ context.Context, env domain.Environment) (string, error) {
	if p.composeErr != nil {
		return "", p.composeErr
	}
	protected := env.Root + "/Modules"
	for _, dir := range p.systemDirs {
		protected += ":" + dir
	}
	return protected, nil
}

func (p *stepPaths) InstallView(_ context.Context, env domain.Environment) (string, error) {
	return env.Root + "/Modules", nil
}

func (p *stepPaths) Apply(value string) error {
	if p.applyErr != nil {
		return p.applyErr
	}
	p.applied = append(p.applied, value)
	return nil
}

func (p *stepPaths) Restore(snapshot domain.SearchPathSnapshot) error {
	p.note("paths.restore")
	if p.restoreErr != nil {
		return p.restoreErr
	}
	p.restored = append(p.restored, snapshot)
	return nil
}

func (p *stepPaths) note(op string) {
	if p.ops != nil {
		*p.ops = append(*p.ops, op)
	}
}

type stepGuard struct {
	protected   string
	enables     int
	disables    int
	enableErr   error
	disableErr  error
	bypasses    []time.Duration
	state       domain.GuardState
	ops         *[]string
}

func (g *stepGuard) Enable(protected string) error {
	if g.enableErr != nil {
		return g.enableErr
	}
	g.enables++
	g.protected = protected
	g.state = domain.GuardArmed
	return nil
}

func (g *stepGuard) Disable() error {
	if g.ops != nil {
		*g.ops = append(*g.ops, "guard.disable")
	}
	g.disables++
	g.state = domain.GuardInactive
	return g.disableErr
}

func (g *stepGuard) RequestBypass(d time.Duration) {
	g.bypasses = append(g.bypasses, d)
}

func (g *stepGuard) Stats() domain.GuardStats {
	state := g.state
	if state == "" {
		state = domain.GuardInactive
	}
	return domain.GuardStats{State: state, ProtectedPath: g.protected}
}

type stepInterceptor struct {
	sessions   []domain.ActiveSession
	disabled   int
	installs   []ports.InstallSpec
	imports    []ports.ImportSpec
	installErr error
	importErr  error
	ops        *[]string
}

func (i *stepInterceptor) Enable(session domain.ActiveSession) {
	i.sessions = append(i.sessions, session)
}

func (i *stepInterceptor) Disable() {
	if i.ops != nil {
		*i.ops = append(*i.ops, "interceptor.disable")
	}
	i.disabled++
}

func (i *stepInterceptor) GuardedImport(_ context.Context, spec ports.ImportSpec) (domain.ImportReport, error) {
	i.imports = append(i.imports, spec)
	if i.importErr != nil {
		return domain.ImportReport{}, i.importErr
	}
	return domain.ImportReport{Module: spec.Module, Loaded: []string{spec.Module}}, nil
}

func (i *stepInterceptor) GuardedInstall(_ context.Context, spec ports.InstallSpec) error {
	i.installs = append(i.installs, spec)
	return i.installErr
}

type stepWatcher struct {
	started  []string
	stops    int
	startErr error
	ops      *[]string
}

func (w *stepWatcher) Start(env domain.Environment) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started = append(w.started, env.Name)
	return nil
}

func (w *stepWatcher) Stop() error {
	if w.ops != nil {
		*w.ops = append(*w.ops, "watcher.stop")
	}
	w.stops++
	return nil
}

type stepProfile struct {
	installs   []string
	uninstalls int
	installErr error
	status     domain.ProfileStatus
	ops        *[]string
}

func (p *stepProfile) Install(envName, searchPath string, force bool) (domain.ProfileInstallResult, error) {
	if p.installErr != nil {
		return domain.ProfileInstallResult{}, p.installErr
	}
	p.installs = append(p.installs, envName+"|"+searchPath)
	return domain.ProfileInstallResult{ProfileUpdated: true}, nil
}

func (p *stepProfile) Uninstall() (domain.ProfileInstallResult, error) {
	if p.ops != nil {
		*p.ops = append(*p.ops, "profile.uninstall")
	}
	p.uninstalls++
	return domain.ProfileInstallResult{ProfileUpdated: true}, nil
}

func (p *stepProfile) Status() domain.ProfileStatus {
	return p.status
}

type memHistory struct {
	mu      sync.Mutex
	records []domain.OperationRecord
	err     error
}

func (h *memHistory) Record(rec domain.OperationRecord) error {
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *memHistory) Recent(int) ([]domain.OperationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records, nil
}

func (h *memHistory) Search(string, int) ([]domain.OperationRecord, error) { return nil, nil }
func (h *memHistory) Clear() error                                        { return nil }
func (h *memHistory) Export(io.Writer) error                              { return nil }

func (h *memHistory) byVerb(verb string) []domain.OperationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.OperationRecord
	for _, rec := range h.records {
		if rec.Verb == verb {
			out = append(out, rec)
		}
	}
	return out
}

// fakeHost implements ports.HostRuntime for session supervision and version
// queries; the path-related methods return fixed values.
type fakeHost struct {
	version     string
	versionErr  error
	exit        int
	startErr    error
	lastCommand string
	lastEnv     map[string]string
	searchPath  string
}

func (h *fakeHost) SearchPath() domain.SearchPathSnapshot {
	return domain.SearchPathSnapshot{Value: h.searchPath, Present: true, TakenAt: time.Now().UnixMilli()}
}

func (h *fakeHost) SetSearchPath(value string) error { h.searchPath = value; return nil }
func (h *fakeHost) UnsetSearchPath() error           { h.searchPath = ""; return nil }

func (h *fakeHost) SystemModuleDirs(context.Context) ([]string, error) {
	return []string{"/opt/microsoft/powershell/7/Modules"}, nil
}

func (h *fakeHost) Version(context.Context) (string, error) {
	return h.version, h.versionErr
}

func (h *fakeHost) LoadedAssemblies(context.Context) ([]domain.LoadedAssembly, error) {
	return nil, nil
}

func (h *fakeHost) ImportModule(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Ran: true}, nil
}

func (h *fakeHost) RunScript(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Ran: true}, nil
}

func (h *fakeHost) StartSession(_ context.Context, command string, extraEnv map[string]string) (int, error) {
	h.lastCommand = command
	h.lastEnv = extraEnv
	return h.exit, h.startErr
}

type stubPrompter struct {
	answer  bool
	enabled bool
	asked   []string
}

func (p *stubPrompter) Confirm(prompt string) (bool, error) {
	p.asked = append(p.asked, prompt)
	return p.answer, nil
}

func (p *stubPrompter) Enabled() bool { return p.enabled }

type stubSessions struct {
	session domain.ActiveSession
}

func (s stubSessions) Current() domain.ActiveSession { return s.session }

// stubRepoSource serves per-module latest versions for update passes.
type stubRepoSource struct {
	latest   map[string]string
	findErrs map[string]error
	name     string
}

func (r *stubRepoSource) Find(_ context.Context, name, version, repository string) (domain.ModuleInfo, error) {
	if err := r.findErrs[name]; err != nil {
		return domain.ModuleInfo{}, err
	}
	v := r.latest[name]
	if v == "" {
		return domain.ModuleInfo{}, fmt.Errorf("module %q: %w", name, domain.ErrNotFound)
	}
	if version != "" {
		v = version
	}
	repo := repository
	if repo == "" {
		repo = r.Name()
	}
	return domain.ModuleInfo{Name: name, Version: v, Repository: repo}, nil
}

func (r *stubRepoSource) Save(context.Context, domain.ModuleInfo, string, bool) error {
	return nil
}

func (r *stubRepoSource) Name() string {
	if r.name == "" {
		return "PSGallery"
	}
	return r.name
}

type stubResolver struct {
	result     domain.ResolveResult
	resolveErr error
	loadReport domain.LoadReport
	loadErr    error
	loadCalls  int
}

func (r *stubResolver) Resolve(_ context.Context, module string, _ domain.Environment) (domain.ResolveResult, error) {
	if r.resolveErr != nil {
		return domain.ResolveResult{}, r.resolveErr
	}
	result := r.result
	if result.Root == "" {
		result.Root = module
	}
	return result, nil
}

func (r *stubResolver) LoadAll(_ context.Context, result domain.ResolveResult, _ domain.Environment) (domain.LoadReport, error) {
	r.loadCalls++
	if r.loadErr != nil {
		return domain.LoadReport{}, r.loadErr
	}
	if len(r.loadReport.Loaded) > 0 || len(r.loadReport.Failures) > 0 {
		return r.loadReport, nil
	}
	return domain.LoadReport{Loaded: result.LoadOrder()}, nil
}

var (
	_ ports.ConfigProvider       = stubConfig{}
	_ ports.EnvironmentRegistry  = (*memRegistry)(nil)
	_ ports.SearchPathManager    = (*stepPaths)(nil)
	_ ports.PathGuard            = (*stepGuard)(nil)
	_ ports.CallInterceptor      = (*stepInterceptor)(nil)
	_ ports.SessionWatcher       = (*stepWatcher)(nil)
	_ ports.ProfileIntegrator    = (*stepProfile)(nil)
	_ ports.HistoryRepository    = (*memHistory)(nil)
	_ ports.HostRuntime          = (*fakeHost)(nil)
	_ ports.ConfirmationPrompter = (*stubPrompter)(nil)
	_ SessionSource              = stubSessions{}
	_ ports.ModuleRepository     = (*stubRepoSource)(nil)
	_ ports.DependencyResolver   = (*stubResolver)(nil)
)
