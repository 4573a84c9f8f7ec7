package domain

// Config mirrors ~/.psenv/config.yaml.
type Config struct {
	ConfigFormatVersion string             `yaml:"config_format_version"`
	Runtime             RuntimeSettings    `yaml:"runtime"`
	Guard               GuardSettings      `yaml:"guard"`
	Isolation           IsolationSettings  `yaml:"isolation"`
	Resolver            ResolverSettings   `yaml:"resolver"`
	Repository          RepositorySettings `yaml:"repository"`
	History             HistorySettings    `yaml:"history"`
	Cache               CacheSettings      `yaml:"cache"`
}

// RuntimeSettings locates and tunes the host runtime.
type RuntimeSettings struct {
	// Executable is the PowerShell binary name or absolute path.
	Executable string `yaml:"executable"`
	// EnvsDir overrides where environment roots are created.
	EnvsDir string `yaml:"envs_dir"`
	// CommandTimeoutSeconds bounds one-shot runtime queries.
	CommandTimeoutSeconds int `yaml:"command_timeout"`
}

// GuardSettings tunes the search-path watchdog.
type GuardSettings struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
}

// IsolationSettings controls how isolated installs and imports run.
type IsolationSettings struct {
	// ImportStrategy is "worker" (child process) or "inprocess".
	ImportStrategy string `yaml:"import_strategy"`
	// SoftTimeoutSeconds is the diagnostic threshold for long operations.
	SoftTimeoutSeconds int `yaml:"soft_timeout"`
	// WorkerTimeoutSeconds bounds one import worker process.
	WorkerTimeoutSeconds int `yaml:"worker_timeout"`
}

// ResolverSettings tunes dependency resolution.
type ResolverSettings struct {
	MaxDepth int `yaml:"max_depth"`
}

// RepositorySettings names the default module source.
type RepositorySettings struct {
	// Default is the repository name passed to the host package tooling.
	Default string `yaml:"default"`
	// LocalPath, when set, serves modules from a filesystem repository
	// instead of the gallery.
	LocalPath string `yaml:"local_path"`
}

// HistorySettings controls the operation history store.
type HistorySettings struct {
	Enabled    bool `yaml:"enabled"`
	RetainDays int  `yaml:"retain_days"`
}

// CacheSettings controls repository metadata caching.
type CacheSettings struct {
	Enabled    bool   `yaml:"enabled"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// Import strategy values for IsolationSettings.ImportStrategy.
const (
	ImportStrategyWorker    = "worker"
	ImportStrategyInProcess = "inprocess"
)
