package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// Guard timing constants
const (
	// DefaultGuardInterval is the watchdog polling interval. Values between
	// 100ms and 200ms keep drift windows short without measurable load.
	DefaultGuardInterval = 150 * time.Millisecond
	// MinGuardInterval and MaxGuardInterval bound configured intervals.
	MinGuardInterval = 100 * time.Millisecond
	MaxGuardInterval = 200 * time.Millisecond
)

// Bypass window constants
const (
	// DefaultImportBypass covers a guarded module import.
	DefaultImportBypass = 15 * time.Second
	// DefaultInstallBypass covers a guarded module install.
	DefaultInstallBypass = 30 * time.Second
	// ExtendedInstallBypass covers installs that may wait on license
	// acceptance or first-time repository trust prompts.
	ExtendedInstallBypass = 60 * time.Second
)

// Isolation constants
const (
	// DefaultIsolationTimeout is the soft deadline for isolated operations.
	// Crossing it produces a diagnostic, never a kill.
	DefaultIsolationTimeout = 60 * time.Second
	// DefaultWorkerTimeout bounds a single import worker process.
	DefaultWorkerTimeout = 90 * time.Second
)

// Resolver constants
const (
	// DefaultMaxResolveDepth bounds recursive dependency resolution. Cycles
	// and pathological trees terminate at this depth with the branch marked
	// unresolved.
	DefaultMaxResolveDepth = 10
)

// History constants
const (
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
	// DefaultHistorySearchLimit is the default number of search results to return
	DefaultHistorySearchLimit = 50
)

// Cache constants
const (
	// DefaultRepositoryCacheTTL is how long repository metadata stays fresh.
	DefaultRepositoryCacheTTL = 10 * time.Minute
	// DefaultMaxCacheEntries is the maximum number of cache entries
	DefaultMaxCacheEntries = 100
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)

// Environment variables a supervised session exports so child processes can
// see which environment they run under.
const (
	EnvActiveName = "PSENV_ACTIVE"
	EnvActiveRoot = "PSENV_ROOT"
	EnvSessionID  = "PSENV_SESSION"
)
