package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/doeshing/psenv/internal/domain"
)

// Locate finds the manifest for a module inside a Modules directory.
// The versioned layout <dir>/<Name>/<Version>/<Name>.psd1 wins, newest
// version first; the flat layout <dir>/<Name>/<Name>.psd1 is the fallback.
func Locate(modulesDir, name string) (string, string, error) {
	moduleDir := filepath.Join(modulesDir, name)
	info, err := os.Stat(moduleDir)
	if err != nil || !info.IsDir() {
		return "", "", fmt.Errorf("module %q has no directory under %s: %w", name, modulesDir, domain.ErrNotFound)
	}

	if version, ok := newestVersionDir(moduleDir, name); ok {
		return filepath.Join(moduleDir, version, name+".psd1"), version, nil
	}

	flat := filepath.Join(moduleDir, name+".psd1")
	if _, err := os.Stat(flat); err == nil {
		return flat, "", nil
	}
	return "", "", fmt.Errorf("module %q has no manifest under %s: %w", name, moduleDir, domain.ErrNotFound)
}

// Versions lists the versioned subdirectories of a module, newest first.
func Versions(modulesDir, name string) []string {
	moduleDir := filepath.Join(modulesDir, name)
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return nil
	}
	versions := make([]*goversion.Version, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := goversion.NewVersion(entry.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(moduleDir, entry.Name(), name+".psd1")); err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(goversion.Collection(versions)))
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Original()
	}
	return out
}

func newestVersionDir(moduleDir, name string) (string, bool) {
	versions := Versions(filepath.Dir(moduleDir), name)
	if len(versions) == 0 {
		return "", false
	}
	return versions[0], true
}
