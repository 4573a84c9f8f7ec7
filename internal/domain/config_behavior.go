package domain

import (
	"fmt"
	"time"
)

// Rich Domain Model: 將業務邏輯封裝在 Domain 實體中
// 符合 Clean Code 原則 - 貧血模型 → 富領域模型

// GetRuntimeExecutable returns the host runtime binary with default fallback.
func (c *Config) GetRuntimeExecutable() string {
	const defaultExecutable = "pwsh"

	if c.Runtime.Executable == "" {
		return defaultExecutable
	}
	return c.Runtime.Executable
}

// GetCommandTimeout returns the timeout for one-shot runtime queries.
func (c *Config) GetCommandTimeout() time.Duration {
	const defaultTimeoutSeconds = 30

	if c.Runtime.CommandTimeoutSeconds <= 0 {
		return defaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.Runtime.CommandTimeoutSeconds) * time.Second
}

// GetGuardInterval returns the watchdog polling interval, clamped into the
// supported 100-200ms band.
func (c *Config) GetGuardInterval() time.Duration {
	if c.Guard.IntervalMS <= 0 {
		return DefaultGuardInterval
	}
	interval := time.Duration(c.Guard.IntervalMS) * time.Millisecond
	if interval < MinGuardInterval {
		return MinGuardInterval
	}
	if interval > MaxGuardInterval {
		return MaxGuardInterval
	}
	return interval
}

// IsGuardEnabled checks if the search-path watchdog is enabled globally.
// Per-environment settings can still opt out.
func (c *Config) IsGuardEnabled() bool {
	return c.Guard.Enabled
}

// GetImportStrategy returns "worker" or "inprocess" with default fallback.
func (c *Config) GetImportStrategy() string {
	switch c.Isolation.ImportStrategy {
	case ImportStrategyWorker, ImportStrategyInProcess:
		return c.Isolation.ImportStrategy
	default:
		return ImportStrategyWorker
	}
}

// GetIsolationTimeout returns the soft diagnostic deadline for isolated
// operations.
func (c *Config) GetIsolationTimeout() time.Duration {
	if c.Isolation.SoftTimeoutSeconds <= 0 {
		return DefaultIsolationTimeout
	}
	return time.Duration(c.Isolation.SoftTimeoutSeconds) * time.Second
}

// GetWorkerTimeout returns the hard bound for one import worker process.
func (c *Config) GetWorkerTimeout() time.Duration {
	if c.Isolation.WorkerTimeoutSeconds <= 0 {
		return DefaultWorkerTimeout
	}
	return time.Duration(c.Isolation.WorkerTimeoutSeconds) * time.Second
}

// GetMaxResolveDepth returns the recursion bound for dependency resolution.
func (c *Config) GetMaxResolveDepth() int {
	if c.Resolver.MaxDepth <= 0 {
		return DefaultMaxResolveDepth
	}
	return c.Resolver.MaxDepth
}

// GetDefaultRepository returns the module source name with default fallback.
func (c *Config) GetDefaultRepository() string {
	const defaultRepository = "PSGallery"

	if c.Repository.Default == "" {
		return defaultRepository
	}
	return c.Repository.Default
}

// GetHistoryRetentionDays returns the number of days to retain history
func (c *Config) GetHistoryRetentionDays() int {
	const defaultRetentionDays = 30

	if c.History.RetainDays <= 0 {
		return defaultRetentionDays
	}
	return c.History.RetainDays
}

// GetCacheMaxEntries returns the maximum number of cache entries
func (c *Config) GetCacheMaxEntries() int {
	if c.Cache.MaxEntries <= 0 {
		return DefaultMaxCacheEntries
	}
	return c.Cache.MaxEntries
}

// GetCacheTTL parses the configured cache TTL with default fallback.
func (c *Config) GetCacheTTL() time.Duration {
	if c.Cache.TTL == "" {
		return DefaultRepositoryCacheTTL
	}
	ttl, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || ttl <= 0 {
		return DefaultRepositoryCacheTTL
	}
	return ttl
}

// ValidateConsistency checks the internal consistency of the configuration
// Returns an error if there are inconsistencies
func (c *Config) ValidateConsistency() error {
	if c.Guard.IntervalMS < 0 {
		return fmt.Errorf("guard interval must not be negative, got %d", c.Guard.IntervalMS)
	}

	if s := c.Isolation.ImportStrategy; s != "" && s != ImportStrategyWorker && s != ImportStrategyInProcess {
		return fmt.Errorf("import strategy %q is not supported (use %q or %q)", s, ImportStrategyWorker, ImportStrategyInProcess)
	}

	if c.Resolver.MaxDepth < 0 {
		return fmt.Errorf("resolver max depth must not be negative, got %d", c.Resolver.MaxDepth)
	}

	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("cache ttl %q is not a duration: %w", c.Cache.TTL, err)
		}
	}

	if c.Repository.LocalPath != "" && c.Repository.Default == "" {
		return fmt.Errorf("repository local_path is set but default repository name is empty")
	}

	return nil
}
