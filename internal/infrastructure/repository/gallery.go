// Package repository talks to module sources: the online gallery through the
// host's own package tooling, or a local directory tree for air-gapped
// setups.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// GalleryClient resolves and downloads modules with Find-Module and
// Save-Module. Network behavior, credentials, and repository registration
// all stay inside the host; this client only shells out and parses JSON.
type GalleryClient struct {
	Runtime ports.HostRuntime
	Cache   ports.CacheRepository
	Logger  ports.Logger

	// DefaultRepository is the source used when a spec names none.
	DefaultRepository string
}

// NewGalleryClient builds a gallery client. Cache may be nil.
func NewGalleryClient(rt ports.HostRuntime, cache ports.CacheRepository, log ports.Logger, defaultRepository string) *GalleryClient {
	if defaultRepository == "" {
		defaultRepository = "PSGallery"
	}
	return &GalleryClient{
		Runtime:           rt,
		Cache:             cache,
		Logger:            log,
		DefaultRepository: defaultRepository,
	}
}

// Name implements ports.ModuleRepository.
func (g *GalleryClient) Name() string { return g.DefaultRepository }

// Find implements ports.ModuleRepository. Results are cached; a cache miss
// runs Find-Module in the host.
func (g *GalleryClient) Find(ctx context.Context, name, version, repository string) (domain.ModuleInfo, error) {
	repo := repository
	if repo == "" {
		repo = g.DefaultRepository
	}

	key := cacheKey("find", name, version, repo)
	if g.Cache != nil {
		if entry, ok, err := g.Cache.Get(key); err == nil && ok {
			var info domain.ModuleInfo
			if json.Unmarshal([]byte(entry.Payload), &info) == nil && info.Name != "" {
				return info, nil
			}
		}
	}

	script := findScript(name, version, repo)
	result, err := g.Runtime.RunScript(ctx, script)
	if err != nil {
		return domain.ModuleInfo{}, &domain.ExternalOperationError{
			Operation: "find " + name,
			ExitCode:  result.ExitCode,
			Stderr:    result.Stderr,
			Err:       err,
		}
	}

	out := strings.TrimSpace(result.Stdout)
	var info domain.ModuleInfo
	if out != "" {
		if err := json.Unmarshal([]byte(out), &info); err != nil {
			return domain.ModuleInfo{}, fmt.Errorf("gallery response for %s unreadable (%v): %w", name, err, domain.ErrCorrupted)
		}
	}
	if info.Name == "" {
		return domain.ModuleInfo{}, fmt.Errorf("module %q not found in %s: %w", name, repo, domain.ErrNotFound)
	}
	if info.Repository == "" {
		info.Repository = repo
	}

	if g.Cache != nil {
		payload, err := json.Marshal(info)
		if err == nil {
			_ = g.Cache.Set(domain.CacheEntry{
				Key:       key,
				Payload:   string(payload),
				Source:    fmt.Sprintf("find %s@%s from %s", name, orLatest(version), repo),
				CreatedAt: time.Now(),
			})
		}
	}
	return info, nil
}

// Save implements ports.ModuleRepository. Save-Module materializes
// <destDir>/<Name>/<Version>/ including dependencies the gallery knows
// about.
func (g *GalleryClient) Save(ctx context.Context, info domain.ModuleInfo, destDir string, acceptLicense bool) error {
	if err := os.MkdirAll(destDir, domain.DirectoryPermissions); err != nil {
		return fmt.Errorf("prepare module dir: %w", err)
	}

	script := saveScript(info, destDir, acceptLicense)
	result, err := g.Runtime.RunScript(ctx, script)
	if err != nil {
		return &domain.ExternalOperationError{
			Operation: fmt.Sprintf("save %s %s", info.Name, info.Version),
			ExitCode:  result.ExitCode,
			Stderr:    result.Stderr,
			Err:       err,
		}
	}
	return nil
}

// findScript emits empty output instead of throwing when nothing matches, so
// not-found stays distinguishable from a broken host.
func findScript(name, version, repo string) string {
	var b strings.Builder
	b.WriteString("$m = Find-Module -Name '" + psQuote(name) + "'")
	b.WriteString(" -Repository '" + psQuote(repo) + "'")
	if version != "" {
		b.WriteString(" -RequiredVersion '" + psQuote(version) + "'")
	}
	b.WriteString(" -ErrorAction SilentlyContinue | Select-Object -First 1\n")
	b.WriteString("if ($null -ne $m) {\n")
	b.WriteString("  [pscustomobject]@{ name = $m.Name; version = \"$($m.Version)\"; repository = $m.Repository; description = $m.Description } | ConvertTo-Json -Compress\n")
	b.WriteString("}\n")
	return b.String()
}

func saveScript(info domain.ModuleInfo, destDir string, acceptLicense bool) string {
	var b strings.Builder
	b.WriteString("Save-Module -Name '" + psQuote(info.Name) + "'")
	b.WriteString(" -Path '" + psQuote(destDir) + "'")
	if info.Repository != "" {
		b.WriteString(" -Repository '" + psQuote(info.Repository) + "'")
	}
	if info.Version != "" {
		b.WriteString(" -RequiredVersion '" + psQuote(info.Version) + "'")
	}
	if acceptLicense {
		b.WriteString(" -AcceptLicense")
	}
	b.WriteString(" -ErrorAction Stop")
	return b.String()
}

// psQuote escapes a value for a single-quoted PowerShell string.
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func cacheKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func orLatest(version string) string {
	if version == "" {
		return "latest"
	}
	return version
}

var _ ports.ModuleRepository = (*GalleryClient)(nil)
