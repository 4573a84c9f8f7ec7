package repository_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/cache"
	"github.com/doeshing/psenv/internal/infrastructure/repository"
)

// scriptRuntime satisfies the runtime surface the gallery client touches and
// records every script it is asked to run.
type scriptRuntime struct {
	stdout  string
	stderr  string
	err     error
	scripts []string
}

func (s *scriptRuntime) SearchPath() domain.SearchPathSnapshot { return domain.SearchPathSnapshot{} }
func (s *scriptRuntime) SetSearchPath(string) error            { return nil }
func (s *scriptRuntime) UnsetSearchPath() error                { return nil }
func (s *scriptRuntime) SystemModuleDirs(context.Context) ([]string, error) {
	return nil, nil
}
func (s *scriptRuntime) Version(context.Context) (string, error) { return "7.4.0", nil }
func (s *scriptRuntime) LoadedAssemblies(context.Context) ([]domain.LoadedAssembly, error) {
	return nil, nil
}
func (s *scriptRuntime) ImportModule(context.Context, string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Ran: true}, nil
}
func (s *scriptRuntime) RunScript(_ context.Context, script string) (domain.ExecutionResult, error) {
	s.scripts = append(s.scripts, script)
	if s.err != nil {
		return domain.ExecutionResult{ExitCode: 1, Stderr: s.stderr}, s.err
	}
	return domain.ExecutionResult{Ran: true, Stdout: s.stdout}, nil
}
func (s *scriptRuntime) StartSession(context.Context, string, map[string]string) (int, error) {
	return 0, nil
}

func TestGalleryFindParsesModuleInfo(t *testing.T) {
	rt := &scriptRuntime{stdout: `{"name":"Pester","version":"5.5.0","repository":"PSGallery","description":"test framework"}`}
	client := repository.NewGalleryClient(rt, nil, nil, "")

	info, err := client.Find(context.Background(), "Pester", "", "")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if info.Name != "Pester" || info.Version != "5.5.0" {
		t.Errorf("info %+v", info)
	}
	if len(rt.scripts) != 1 || !strings.Contains(rt.scripts[0], "Find-Module -Name 'Pester'") {
		t.Errorf("script %q", rt.scripts)
	}
	if !strings.Contains(rt.scripts[0], "-Repository 'PSGallery'") {
		t.Errorf("default repository missing from script %q", rt.scripts[0])
	}
}

func TestGalleryFindEmptyOutputIsNotFound(t *testing.T) {
	client := repository.NewGalleryClient(&scriptRuntime{stdout: "\n"}, nil, nil, "PSGallery")

	_, err := client.Find(context.Background(), "Ghost", "", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestGalleryFindCorruptOutput(t *testing.T) {
	client := repository.NewGalleryClient(&scriptRuntime{stdout: "<<<garbage>>>"}, nil, nil, "PSGallery")

	_, err := client.Find(context.Background(), "Pester", "", "")
	if !errors.Is(err, domain.ErrCorrupted) {
		t.Fatalf("got %v, want ErrCorrupted", err)
	}
}

func TestGalleryFindRuntimeFailure(t *testing.T) {
	rt := &scriptRuntime{err: fmt.Errorf("host exploded"), stderr: "kaboom"}
	client := repository.NewGalleryClient(rt, nil, nil, "PSGallery")

	_, err := client.Find(context.Background(), "Pester", "", "")
	var opErr *domain.ExternalOperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("got %v, want ExternalOperationError", err)
	}
	if opErr.Stderr != "kaboom" {
		t.Errorf("stderr %q not preserved", opErr.Stderr)
	}
}

func TestGalleryFindUsesCache(t *testing.T) {
	t.Setenv("PSENV_HOME", t.TempDir())
	store := cache.NewFileCache(0, 0)

	rt := &scriptRuntime{stdout: `{"name":"Pester","version":"5.5.0","repository":"PSGallery"}`}
	client := repository.NewGalleryClient(rt, store, nil, "PSGallery")

	if _, err := client.Find(context.Background(), "Pester", "5.5.0", ""); err != nil {
		t.Fatalf("first Find error: %v", err)
	}
	if _, err := client.Find(context.Background(), "Pester", "5.5.0", ""); err != nil {
		t.Fatalf("second Find error: %v", err)
	}
	if len(rt.scripts) != 1 {
		t.Errorf("runtime hit %d times, want 1 (cache miss only)", len(rt.scripts))
	}

	// A different version is a different key.
	if _, err := client.Find(context.Background(), "Pester", "5.4.0", ""); err != nil {
		t.Fatalf("third Find error: %v", err)
	}
	if len(rt.scripts) != 2 {
		t.Errorf("runtime hit %d times, want 2", len(rt.scripts))
	}
}

func TestGallerySaveBuildsScript(t *testing.T) {
	rt := &scriptRuntime{}
	client := repository.NewGalleryClient(rt, nil, nil, "PSGallery")
	dest := t.TempDir()

	info := domain.ModuleInfo{Name: "Pester", Version: "5.5.0", Repository: "PSGallery"}
	if err := client.Save(context.Background(), info, dest, true); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	script := rt.scripts[0]
	for _, want := range []string{"Save-Module -Name 'Pester'", "-RequiredVersion '5.5.0'", "-AcceptLicense", "-Path '" + dest + "'"} {
		if !strings.Contains(script, want) {
			t.Errorf("script %q missing %q", script, want)
		}
	}
}

func TestGallerySaveFailure(t *testing.T) {
	rt := &scriptRuntime{err: fmt.Errorf("download refused"), stderr: "403"}
	client := repository.NewGalleryClient(rt, nil, nil, "PSGallery")

	err := client.Save(context.Background(), domain.ModuleInfo{Name: "Pester"}, t.TempDir(), false)
	var opErr *domain.ExternalOperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("got %v, want ExternalOperationError", err)
	}
}

func TestGalleryQuotesSingleQuotes(t *testing.T) {
	rt := &scriptRuntime{stdout: `{"name":"O'Brien.Tools","version":"1.0.0"}`}
	client := repository.NewGalleryClient(rt, nil, nil, "PSGallery")

	if _, err := client.Find(context.Background(), "O'Brien.Tools", "", ""); err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if !strings.Contains(rt.scripts[0], "'O''Brien.Tools'") {
		t.Errorf("quote escaping missing: %q", rt.scripts[0])
	}
}
