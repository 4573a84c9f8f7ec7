package domain

import "sort"

// DependencyNode is one resolved module in a dependency tree. Depth is the
// deepest level the module was reached at (root = 0), which is what the
// deepest-first load order sorts on.
type DependencyNode struct {
	Name     string
	Version  string
	Path     string
	Depth    int
	Manifest ModuleManifest
}

// UnresolvedDependency records a branch the resolver could not finish:
// a missing manifest, a parse failure, or the depth bound.
type UnresolvedDependency struct {
	Name   string
	Parent string
	Depth  int
	Reason string
}

// AssemblyConflict reports a native assembly that a resolved module needs
// while the running host already loaded a different copy. Native assemblies
// cannot be unloaded, so the conflict blocks loading entirely.
type AssemblyConflict struct {
	Assembly   string
	Module     string
	LoadedBy   string
	LoadedFrom string
}

// ResolveResult aggregates one resolution pass.
type ResolveResult struct {
	Root       string
	Nodes      []DependencyNode
	Unresolved []UnresolvedDependency
	Conflicts  []AssemblyConflict
}

// OK reports whether loading may proceed: no conflicts pending.
func (r ResolveResult) OK() bool {
	return len(r.Conflicts) == 0
}

// LoadOrder returns module names deepest-first so dependencies land before
// their dependents. Within one depth level names sort ascending, which keeps
// the order deterministic.
func (r ResolveResult) LoadOrder() []string {
	nodes := make([]DependencyNode, len(r.Nodes))
	copy(nodes, r.Nodes)
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth > nodes[j].Depth
		}
		return nodes[i].Name < nodes[j].Name
	})
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

// LoadFailure records one module that failed to load during a best-effort
// sequential pass.
type LoadFailure struct {
	Module string
	Err    error
}

// LoadReport summarizes a sequential load pass.
type LoadReport struct {
	Loaded   []string
	Failures []LoadFailure
}

// ImportReport is what an import worker hands back: which modules ended up
// loaded in the child, with versions when known.
type ImportReport struct {
	Module   string            `json:"module"`
	Loaded   []string          `json:"loaded"`
	Versions map[string]string `json:"versions,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}
