package domain

import "time"

// GuardState enumerates the search-path watchdog states.
type GuardState string

const (
	// GuardInactive means no protected path is registered and nothing runs.
	GuardInactive GuardState = "inactive"
	// GuardArmed means the watchdog polls and restores on drift.
	GuardArmed GuardState = "armed"
	// GuardBypass means drift is tolerated until the bypass window expires.
	GuardBypass GuardState = "bypass"
)

// GuardStats is a point-in-time snapshot of watchdog activity.
type GuardStats struct {
	State         GuardState
	ProtectedPath string
	Restorations  int
	LastRestore   time.Time
	BypassUntil   time.Time
}

// LoadedAssembly describes one native assembly the running host has loaded.
// Assemblies stay loaded for the lifetime of the host process.
type LoadedAssembly struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Module   string `json:"module,omitempty"`
}

// ModuleInfo is repository metadata for one published module version.
type ModuleInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Repository  string `json:"repository"`
	Description string `json:"description,omitempty"`
}
