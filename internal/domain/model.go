// Package domain defines core business entities and value objects for psenv.
//
// This file contains the environment model: registered environments, their
// settings, installed module records, and the in-memory activation session.
// The domain layer is independent of infrastructure concerns and represents
// pure business logic and data structures.
package domain

import (
	"strings"
	"time"
)

// Environment describes one registered module environment. The registry
// persists a list of these in ~/.psenv/registry.json and mirrors each one
// into <root>/config.json.
type Environment struct {
	Name           string              `json:"name"`
	Root           string              `json:"root"`
	Description    string              `json:"description,omitempty"`
	RuntimeVersion string              `json:"runtime_version,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	LastUsedAt     time.Time           `json:"last_used_at"`
	Settings       EnvironmentSettings `json:"settings"`
	Modules        []ModuleRecord      `json:"modules,omitempty"`
}

// EnvironmentSettings captures per-environment toggles.
type EnvironmentSettings struct {
	// IncludeSystemModules keeps the host's system-wide module directories
	// visible while the environment is active. User-profile directories are
	// excluded either way.
	IncludeSystemModules bool `json:"include_system_modules"`

	// GuardEnabled runs the search-path watchdog during activation.
	GuardEnabled bool `json:"guard_enabled"`

	// AutoActivate is reserved for directory-based activation.
	AutoActivate bool `json:"auto_activate,omitempty"`
}

// DefaultEnvironmentSettings returns the settings applied to new environments.
func DefaultEnvironmentSettings() EnvironmentSettings {
	return EnvironmentSettings{
		IncludeSystemModules: false,
		GuardEnabled:         true,
	}
}

// ModuleRecord tracks one module installed into an environment.
type ModuleRecord struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Repository  string    `json:"repository,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
}

// FindModule returns the record for a module name, matching case-insensitively
// the way the host treats module names.
func (e Environment) FindModule(name string) (ModuleRecord, bool) {
	for _, rec := range e.Modules {
		if strings.EqualFold(rec.Name, name) {
			return rec, true
		}
	}
	return ModuleRecord{}, false
}

// UpsertModule replaces the record with the same name or appends a new one.
func (e *Environment) UpsertModule(rec ModuleRecord) {
	for i, existing := range e.Modules {
		if strings.EqualFold(existing.Name, rec.Name) {
			e.Modules[i] = rec
			return
		}
	}
	e.Modules = append(e.Modules, rec)
}

// RemoveModule drops the record with the given name and reports whether one
// was present.
func (e *Environment) RemoveModule(name string) bool {
	for i, rec := range e.Modules {
		if strings.EqualFold(rec.Name, name) {
			e.Modules = append(e.Modules[:i], e.Modules[i+1:]...)
			return true
		}
	}
	return false
}

// ModuleDir is the subdirectory of an environment root that holds modules.
const ModuleDir = "Modules"

// Environment subdirectories created alongside ModuleDir.
const (
	ScriptsDir = "Scripts"
	CacheDir   = "Cache"
	LogsDir    = "Logs"
)

// ActivationScope selects how far an activation reaches.
type ActivationScope string

const (
	// ScopeSession protects the current supervised session only.
	ScopeSession ActivationScope = "Session"
	// ScopeGlobal additionally persists the environment into the host
	// profile so future sessions start activated.
	ScopeGlobal ActivationScope = "Global"
)

// ActiveSession is the in-memory record of the current activation. It exists
// only while the supervising process runs; nothing about it is persisted.
type ActiveSession struct {
	ID                  string
	EnvironmentName     string
	EnvironmentRoot     string
	OriginalSearchPath  string
	ProtectedSearchPath string
	Scope               ActivationScope
	ActivatedAt         time.Time
}

// Active reports whether the session refers to an environment.
func (s ActiveSession) Active() bool {
	return s.EnvironmentName != ""
}
