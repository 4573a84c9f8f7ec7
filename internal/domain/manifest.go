package domain

// ModuleManifest is the subset of a PowerShell module manifest (.psd1) that
// dependency resolution reads. Everything else in the data file is ignored.
type ModuleManifest struct {
	Name               string
	Path               string
	GUID               string
	ModuleVersion      string
	RequiredModules    []ModuleDependency
	NestedModules      []ModuleDependency
	RequiredAssemblies []string
}

// Dependencies returns required and nested modules in declaration order.
func (m ModuleManifest) Dependencies() []ModuleDependency {
	deps := make([]ModuleDependency, 0, len(m.RequiredModules)+len(m.NestedModules))
	deps = append(deps, m.RequiredModules...)
	deps = append(deps, m.NestedModules...)
	return deps
}

// ModuleDependency names one required module. RequiredModules entries may be
// bare strings or hashtables with a ModuleName and version bounds; both forms
// normalize to this.
type ModuleDependency struct {
	Name            string
	RequiredVersion string
	MinimumVersion  string
	MaximumVersion  string
}
