// Package shell manages the marker block psenv writes to the PowerShell
// profile for global-scope activation.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

const (
	blockStart = "# >>> psenv integration >>>"
	blockEnd   = "# <<< psenv integration <<<"
)

// Installer rewrites the host profile idempotently: one managed block,
// replaced in place, with a backup of the pre-edit file.
type Installer struct {
	host   ports.HostRuntime
	logger ports.Logger

	// ProfileOverride pins the profile path instead of asking the host.
	ProfileOverride string
}

// NewInstaller builds a profile installer. host may be nil; the conventional
// profile location is used when the host cannot be asked.
func NewInstaller(host ports.HostRuntime, logger ports.Logger) *Installer {
	return &Installer{host: host, logger: logger}
}

// Install implements ports.ProfileIntegrator. The managed block pins the
// search path for every future host session until Uninstall.
func (i *Installer) Install(envName, searchPath string, force bool) (domain.ProfileInstallResult, error) {
	path := i.profilePath()
	block := renderBlock(envName, searchPath)

	contents, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.ProfileInstallResult{}, err
	}
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
			return domain.ProfileInstallResult{}, err
		}
		if err := os.WriteFile(path, []byte(block+"\n"), 0o644); err != nil {
			return domain.ProfileInstallResult{}, err
		}
		return domain.ProfileInstallResult{ProfilePath: path, ProfileUpdated: true}, nil
	}

	stripped, hadBlock := stripBlock(string(contents))
	if hadBlock && !force {
		if current, _ := extractBlock(string(contents)); current == block {
			return domain.ProfileInstallResult{ProfilePath: path, ProfileUpdated: false}, nil
		}
	}

	backup := path + ".psenv.bak"
	if err := os.WriteFile(backup, contents, 0o644); err != nil {
		return domain.ProfileInstallResult{}, fmt.Errorf("back up profile: %w", err)
	}

	final := stripped
	if final != "" && !strings.HasSuffix(final, "\n") {
		final += "\n"
	}
	final += block + "\n"
	if err := os.WriteFile(path, []byte(final), 0o644); err != nil {
		return domain.ProfileInstallResult{}, err
	}
	return domain.ProfileInstallResult{ProfilePath: path, BackupPath: backup, ProfileUpdated: true}, nil
}

// Uninstall implements ports.ProfileIntegrator. Removing an absent block is
// a no-op.
func (i *Installer) Uninstall() (domain.ProfileInstallResult, error) {
	path := i.profilePath()
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ProfileInstallResult{ProfilePath: path, ProfileUpdated: false}, nil
		}
		return domain.ProfileInstallResult{}, err
	}

	stripped, hadBlock := stripBlock(string(contents))
	if !hadBlock {
		return domain.ProfileInstallResult{ProfilePath: path, ProfileUpdated: false}, nil
	}

	backup := path + ".psenv.bak"
	if err := os.WriteFile(backup, contents, 0o644); err != nil {
		return domain.ProfileInstallResult{}, fmt.Errorf("back up profile: %w", err)
	}
	if err := os.WriteFile(path, []byte(stripped), 0o644); err != nil {
		return domain.ProfileInstallResult{}, err
	}
	return domain.ProfileInstallResult{ProfilePath: path, BackupPath: backup, ProfileUpdated: true}, nil
}

// Status implements ports.ProfileIntegrator.
func (i *Installer) Status() domain.ProfileStatus {
	path := i.profilePath()
	status := domain.ProfileStatus{ProfilePath: path}

	contents, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			status.Error = err.Error()
		}
		return status
	}
	status.ProfileExists = true

	block, present := extractBlock(string(contents))
	status.BlockPresent = present
	if present {
		status.Environment = blockEnvironment(block)
	}
	return status
}

// profilePath asks the host for $PROFILE and falls back to the conventional
// location when the host is unavailable.
func (i *Installer) profilePath() string {
	if i.ProfileOverride != "" {
		return i.ProfileOverride
	}
	if i.host != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if res, err := i.host.RunScript(ctx, "$PROFILE.CurrentUserCurrentHost"); err == nil {
			if p := strings.TrimSpace(res.Stdout); p != "" {
				return p
			}
		}
	}
	return defaultProfilePath()
}

func defaultProfilePath() string {
	home := filesystem.UserHomeDir()
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "Documents", "PowerShell", "Microsoft.PowerShell_profile.ps1")
	}
	return filepath.Join(home, ".config", "powershell", "Microsoft.PowerShell_profile.ps1")
}

func renderBlock(envName, searchPath string) string {
	var b strings.Builder
	b.WriteString(blockStart + "\n")
	b.WriteString("# Managed by psenv. Manual edits inside this block are overwritten.\n")
	b.WriteString(fmt.Sprintf("$env:PSModulePath = '%s'\n", psQuote(searchPath)))
	b.WriteString(fmt.Sprintf("$env:PSENV_ACTIVE = '%s'\n", psQuote(envName)))
	b.WriteString(blockEnd)
	return b.String()
}

// stripBlock removes the managed block, reporting whether one was present.
func stripBlock(content string) (string, bool) {
	start := strings.Index(content, blockStart)
	if start < 0 {
		return content, false
	}
	end := strings.Index(content[start:], blockEnd)
	if end < 0 {
		// Open block without a closing marker: cut to the end.
		return strings.TrimRight(content[:start], "\n") + "\n", true
	}
	after := content[start+end+len(blockEnd):]
	after = strings.TrimPrefix(after, "\n")
	before := content[:start]
	return before + after, true
}

func extractBlock(content string) (string, bool) {
	start := strings.Index(content, blockStart)
	if start < 0 {
		return "", false
	}
	end := strings.Index(content[start:], blockEnd)
	if end < 0 {
		return content[start:], true
	}
	return content[start : start+end+len(blockEnd)], true
}

func blockEnvironment(block string) string {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "$env:PSENV_ACTIVE = '"); ok {
			return strings.TrimSuffix(rest, "'")
		}
	}
	return ""
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var _ ports.ProfileIntegrator = (*Installer)(nil)
