package domain

// StatusReport aggregates everything the status command renders.
type StatusReport struct {
	Session        ActiveSession
	Guard          GuardStats
	LiveSearchPath string
	Profile        ProfileStatus
	RuntimeVersion string
}

// ModuleListing joins one registry record with the version directories
// actually present on disk.
type ModuleListing struct {
	Record   ModuleRecord
	Versions []string
}

// UpdatedModule records one successful version bump.
type UpdatedModule struct {
	Name string
	From string
	To   string
}

// UpdateFailure records one module an update pass could not finish.
type UpdateFailure struct {
	Module string
	Err    error
}

// UpdateSummary reports an update pass across installed modules. Individual
// failures land in Failures instead of aborting the pass.
type UpdateSummary struct {
	Checked  int
	Current  int
	Updated  []UpdatedModule
	Failures []UpdateFailure
}
