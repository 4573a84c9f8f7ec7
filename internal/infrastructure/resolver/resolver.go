// Package resolver walks module manifests inside an environment, plans a
// conflict-free load order, and runs best-effort sequential loads.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/manifest"
	"github.com/doeshing/psenv/internal/ports"
)

// Resolver implements ports.DependencyResolver.
type Resolver struct {
	Runtime     ports.HostRuntime
	Interceptor ports.CallInterceptor
	Logger      ports.Logger
	MaxDepth    int
}

// NewResolver builds a resolver. maxDepth <= 0 falls back to the default.
func NewResolver(maxDepth int, runtime ports.HostRuntime, interceptor ports.CallInterceptor, log ports.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = domain.DefaultMaxResolveDepth
	}
	return &Resolver{
		Runtime:     runtime,
		Interceptor: interceptor,
		Logger:      log,
		MaxDepth:    maxDepth,
	}
}

// Resolve walks the dependency tree of a module installed in env. The root
// manifest must parse; dependency branches that cannot be finished are
// recorded as unresolved instead of failing the pass.
func (r *Resolver) Resolve(ctx context.Context, module string, env domain.Environment) (domain.ResolveResult, error) {
	if r.Runtime == nil {
		return domain.ResolveResult{}, fmt.Errorf("runtime not configured")
	}
	modulesDir := filepath.Join(env.Root, domain.ModuleDir)

	walk := &walker{
		modulesDir: modulesDir,
		maxDepth:   r.MaxDepth,
		visited:    make(map[string]bool),
		nodes:      make(map[string]*domain.DependencyNode),
		log:        r.Logger,
	}

	rootPath, rootVersion, err := manifest.Locate(modulesDir, module)
	if err != nil {
		return domain.ResolveResult{}, err
	}
	rootManifest, err := manifest.Load(rootPath)
	if err != nil {
		return domain.ResolveResult{}, err
	}
	walk.addNode(module, rootVersion, rootPath, 0, rootManifest)
	walk.descend(rootManifest, module, 1)

	result := domain.ResolveResult{
		Root:       module,
		Nodes:      walk.collect(),
		Unresolved: walk.unresolved,
	}

	loaded, err := r.Runtime.LoadedAssemblies(ctx)
	if err != nil {
		// Without the assembly inventory conflicts cannot be ruled out;
		// resolution itself still stands.
		if r.Logger != nil {
			r.Logger.Warn("loaded assembly query failed, conflict detection skipped", map[string]interface{}{"error": err.Error()})
		}
	} else {
		result.Conflicts = detectConflicts(result.Nodes, loaded)
	}

	return result, nil
}

// LoadAll imports the resolved set deepest-first, continuing past individual
// failures. Nothing is imported when conflicts are pending.
func (r *Resolver) LoadAll(ctx context.Context, result domain.ResolveResult, env domain.Environment) (domain.LoadReport, error) {
	if r.Interceptor == nil {
		return domain.LoadReport{}, fmt.Errorf("interceptor not configured")
	}
	if !result.OK() {
		return domain.LoadReport{}, &domain.DependencyConflictError{Module: result.Root, Conflicts: result.Conflicts}
	}

	versions := make(map[string]string, len(result.Nodes))
	for _, node := range result.Nodes {
		versions[node.Name] = node.Version
	}

	var report domain.LoadReport
	for _, name := range result.LoadOrder() {
		_, err := r.Interceptor.GuardedImport(ctx, ports.ImportSpec{
			Module:      name,
			Version:     versions[name],
			Environment: env,
		})
		if err != nil {
			report.Failures = append(report.Failures, domain.LoadFailure{Module: name, Err: err})
			if r.Logger != nil {
				r.Logger.Warn("module load failed, continuing", map[string]interface{}{"module": name, "error": err.Error()})
			}
			continue
		}
		report.Loaded = append(report.Loaded, name)
	}
	return report, nil
}

type walker struct {
	modulesDir string
	maxDepth   int
	visited    map[string]bool // keyed name|depth
	nodes      map[string]*domain.DependencyNode
	unresolved []domain.UnresolvedDependency
	log        ports.Logger
}

// descend walks the dependencies of one manifest. Memoization is keyed on
// (name, depth): the same module reappearing at a new depth is re-walked so
// its deepest position is known, while cycles terminate because depth only
// grows and is bounded.
func (w *walker) descend(m domain.ModuleManifest, parent string, depth int) {
	for _, dep := range m.Dependencies() {
		if dep.Name == "" {
			continue
		}
		w.visit(dep.Name, parent, depth)
	}
}

func (w *walker) visit(name, parent string, depth int) {
	if depth > w.maxDepth {
		w.unresolved = append(w.unresolved, domain.UnresolvedDependency{
			Name:   name,
			Parent: parent,
			Depth:  depth,
			Reason: fmt.Sprintf("max depth %d exceeded", w.maxDepth),
		})
		return
	}

	key := strings.ToLower(name) + "|" + fmt.Sprint(depth)
	if w.visited[key] {
		return
	}
	w.visited[key] = true

	path, version, err := manifest.Locate(w.modulesDir, name)
	if err != nil {
		w.unresolved = append(w.unresolved, domain.UnresolvedDependency{
			Name:   name,
			Parent: parent,
			Depth:  depth,
			Reason: "manifest not found",
		})
		return
	}
	m, err := manifest.Load(path)
	if err != nil {
		w.unresolved = append(w.unresolved, domain.UnresolvedDependency{
			Name:   name,
			Parent: parent,
			Depth:  depth,
			Reason: fmt.Sprintf("manifest unreadable: %v", err),
		})
		return
	}

	w.addNode(name, version, path, depth, m)
	w.descend(m, name, depth+1)
}

func (w *walker) addNode(name, version, path string, depth int, m domain.ModuleManifest) {
	key := strings.ToLower(name)
	if existing, ok := w.nodes[key]; ok {
		if depth > existing.Depth {
			existing.Depth = depth
		}
		return
	}
	if version == "" {
		version = m.ModuleVersion
	}
	w.nodes[key] = &domain.DependencyNode{
		Name:     name,
		Version:  version,
		Path:     path,
		Depth:    depth,
		Manifest: m,
	}
}

func (w *walker) collect() []domain.DependencyNode {
	out := make([]domain.DependencyNode, 0, len(w.nodes))
	for _, node := range w.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// detectConflicts compares required assemblies against what the host already
// loaded. Matching basename from a different location means the session
// cannot load this tree: native assemblies stay pinned until the host exits.
func detectConflicts(nodes []domain.DependencyNode, loaded []domain.LoadedAssembly) []domain.AssemblyConflict {
	byBase := make(map[string]domain.LoadedAssembly, len(loaded))
	for _, asm := range loaded {
		base := strings.ToLower(assemblyBase(asm.Location))
		if base == "" {
			base = strings.ToLower(asm.Name) + ".dll"
		}
		byBase[base] = asm
	}

	var conflicts []domain.AssemblyConflict
	for _, node := range nodes {
		moduleDir := filepath.Dir(node.Path)
		for _, required := range node.Manifest.RequiredAssemblies {
			base := strings.ToLower(assemblyBase(required))
			existing, ok := byBase[base]
			if !ok {
				continue
			}
			candidate := required
			if !filepath.IsAbs(candidate) {
				candidate = filepath.Join(moduleDir, required)
			}
			if sameLocation(existing.Location, candidate) {
				continue
			}
			conflicts = append(conflicts, domain.AssemblyConflict{
				Assembly:   assemblyBase(required),
				Module:     node.Name,
				LoadedBy:   existing.Module,
				LoadedFrom: existing.Location,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Module != conflicts[j].Module {
			return conflicts[i].Module < conflicts[j].Module
		}
		return conflicts[i].Assembly < conflicts[j].Assembly
	})
	return conflicts
}

func assemblyBase(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func sameLocation(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

var _ ports.DependencyResolver = (*Resolver)(nil)
