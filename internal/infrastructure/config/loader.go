package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/psenv/assets"
	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// FileLoader loads YAML configuration from ~/.psenv/config.yaml (overridable via PSENV_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.Path()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := l.Save(cfg); err != nil {
				return domain.Config{}, err
			}
			return cfg, nil
		}
		return domain.Config{}, err
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, err
	}

	return hydrateDefaults(cfg), nil
}

// Save writes the configuration back to disk.
func (l *FileLoader) Save(cfg domain.Config) error {
	path := l.Path()
	if err := ensureConfigDir(path); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

// Reset rewrites the configuration from the shipped template, keeping a
// .bak copy of whatever was there.
func (l *FileLoader) Reset() error {
	path := l.Path()
	if err := ensureConfigDir(path); err != nil {
		return err
	}
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, domain.SecureFilePermissions); err != nil {
			return err
		}
	}
	return os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions)
}

// Path returns the resolved configuration file location.
func (l *FileLoader) Path() string {
	if l.overridePath != "" {
		return l.overridePath
	}
	if custom := os.Getenv("PSENV_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(filesystem.ToolHome(), "config.yaml")
}

func ensureConfigDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, domain.DirectoryPermissions)
}

// DefaultConfig is the configuration written on first run and the baseline
// for `config reset` diffs.
func DefaultConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Runtime: domain.RuntimeSettings{
			Executable:            "pwsh",
			EnvsDir:               filesystem.DefaultEnvsDir(),
			CommandTimeoutSeconds: 30,
		},
		Guard: domain.GuardSettings{
			Enabled:    true,
			IntervalMS: 150,
		},
		Isolation: domain.IsolationSettings{
			ImportStrategy:       domain.ImportStrategyWorker,
			SoftTimeoutSeconds:   60,
			WorkerTimeoutSeconds: 90,
		},
		Resolver: domain.ResolverSettings{
			MaxDepth: domain.DefaultMaxResolveDepth,
		},
		Repository: domain.RepositorySettings{
			Default: "PSGallery",
		},
		History: domain.HistorySettings{
			Enabled:    true,
			RetainDays: 30,
		},
		Cache: domain.CacheSettings{
			Enabled:    true,
			TTL:        "10m",
			MaxEntries: domain.DefaultMaxCacheEntries,
		},
	}
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Runtime.Executable == "" {
		cfg.Runtime.Executable = "pwsh"
	}
	if cfg.Runtime.EnvsDir == "" {
		cfg.Runtime.EnvsDir = filesystem.DefaultEnvsDir()
	}
	if cfg.Runtime.CommandTimeoutSeconds == 0 {
		cfg.Runtime.CommandTimeoutSeconds = 30
	}
	if cfg.Guard.IntervalMS == 0 {
		cfg.Guard.IntervalMS = 150
	}
	if cfg.Isolation.ImportStrategy == "" {
		cfg.Isolation.ImportStrategy = domain.ImportStrategyWorker
	}
	if cfg.Isolation.SoftTimeoutSeconds == 0 {
		cfg.Isolation.SoftTimeoutSeconds = 60
	}
	if cfg.Isolation.WorkerTimeoutSeconds == 0 {
		cfg.Isolation.WorkerTimeoutSeconds = 90
	}
	if cfg.Resolver.MaxDepth == 0 {
		cfg.Resolver.MaxDepth = domain.DefaultMaxResolveDepth
	}
	if cfg.Repository.Default == "" {
		cfg.Repository.Default = "PSGallery"
	}
	if cfg.History.RetainDays == 0 {
		cfg.History.RetainDays = 30
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "10m"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = domain.DefaultMaxCacheEntries
	}
	return cfg
}

func expandPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
