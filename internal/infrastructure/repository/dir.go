package repository

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/manifest"
	"github.com/doeshing/psenv/internal/ports"
)

// DirRepository serves modules from a local directory laid out as
// <root>/<Name>/<Version>/ (a flat <root>/<Name>/ also works). Used for
// offline mirrors and tests.
type DirRepository struct {
	root  string
	label string
}

// NewDirRepository builds a repository over root.
func NewDirRepository(root, label string) *DirRepository {
	if label == "" {
		label = "local"
	}
	return &DirRepository{root: root, label: label}
}

// Name implements ports.ModuleRepository.
func (d *DirRepository) Name() string { return d.label }

// Find implements ports.ModuleRepository. An empty version picks the newest
// available.
func (d *DirRepository) Find(_ context.Context, name, version, _ string) (domain.ModuleInfo, error) {
	if version != "" {
		manifestPath := filepath.Join(d.root, name, version, name+".psd1")
		if _, err := os.Stat(manifestPath); err != nil {
			return domain.ModuleInfo{}, fmt.Errorf("module %q version %s not in %s: %w", name, version, d.root, domain.ErrNotFound)
		}
		return domain.ModuleInfo{Name: name, Version: version, Repository: d.label}, nil
	}

	path, picked, err := manifest.Locate(d.root, name)
	if err != nil {
		return domain.ModuleInfo{}, err
	}
	if picked == "" {
		// Flat layout has no version directory; read it off the manifest.
		if m, err := manifest.Load(path); err == nil {
			picked = m.ModuleVersion
		}
	}
	return domain.ModuleInfo{Name: name, Version: picked, Repository: d.label}, nil
}

// Save implements ports.ModuleRepository by copying the module tree into
// destDir, preserving the versioned layout.
func (d *DirRepository) Save(_ context.Context, info domain.ModuleInfo, destDir string, _ bool) error {
	src := filepath.Join(d.root, info.Name, info.Version)
	dst := filepath.Join(destDir, info.Name, info.Version)
	if _, err := os.Stat(src); err != nil {
		// Flat layout fallback.
		src = filepath.Join(d.root, info.Name)
		dst = filepath.Join(destDir, info.Name)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("module %q not in %s: %w", info.Name, d.root, domain.ErrNotFound)
		}
	}
	if err := copyTree(src, dst); err != nil {
		return fmt.Errorf("copy %s: %w", info.Name, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, domain.DirectoryPermissions)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), domain.DirectoryPermissions); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ ports.ModuleRepository = (*DirRepository)(nil)
