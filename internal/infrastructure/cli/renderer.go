package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/searchpath"
	"github.com/doeshing/psenv/internal/services"
)

// Rendering is plain ASCII tables and indented lines, matching what the rest
// of the CLI prints. Anything fancier belongs in the caller's terminal theme.

func renderEnvironments(out io.Writer, envs []domain.Environment, active string) {
	if len(envs) == 0 {
		fmt.Fprintln(out, "No environments yet. Create one with: psenv create <name>")
		return
	}
	fmt.Fprintf(out, "  %-20s %-8s %-15s %s\n", "NAME", "MODULES", "LAST USED", "ROOT")
	for _, env := range envs {
		marker := " "
		if env.Name == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-20s %-8d %-15s %s\n",
			marker, env.Name, len(env.Modules), lastUsed(env.LastUsedAt), env.Root)
	}
	if active != "" {
		fmt.Fprintf(out, "\n* active: %s\n", active)
	}
}

func renderEnvironmentsDetailed(out io.Writer, envs []domain.Environment, active string) {
	if len(envs) == 0 {
		fmt.Fprintln(out, "No environments yet. Create one with: psenv create <name>")
		return
	}
	for i, env := range envs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		name := env.Name
		if env.Name == active {
			name += " (active)"
		}
		fmt.Fprintln(out, name)
		if env.Description != "" {
			fmt.Fprintf(out, "  Description: %s\n", env.Description)
		}
		fmt.Fprintf(out, "  Root:        %s\n", env.Root)
		if env.RuntimeVersion != "" {
			fmt.Fprintf(out, "  Runtime:     %s\n", env.RuntimeVersion)
		}
		fmt.Fprintf(out, "  Created:     %s\n", env.CreatedAt.Format(domain.TimestampFormat))
		fmt.Fprintf(out, "  Last used:   %s\n", lastUsed(env.LastUsedAt))
		fmt.Fprintf(out, "  Modules:     %d\n", len(env.Modules))
	}
}

func lastUsed(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func renderActivation(out io.Writer, session domain.ActiveSession) {
	fmt.Fprintf(out, "Activated environment %s (%s scope)\n", session.EnvironmentName, session.Scope)
	fmt.Fprintf(out, "  Modules: %s\n", firstPathElement(session.ProtectedSearchPath))
	fmt.Fprintln(out, "Starting shell. Exit it to deactivate.")
}

// firstPathElement trims a composed search path down to its leading entry,
// which is always the environment's own module directory.
func firstPathElement(searchPath string) string {
	if idx := strings.Index(searchPath, searchpath.Separator); idx >= 0 {
		return searchPath[:idx]
	}
	return searchPath
}

func renderStatus(out io.Writer, report domain.StatusReport) {
	if report.Session.Active() {
		fmt.Fprintf(out, "Active environment: %s (%s scope)\n", report.Session.EnvironmentName, report.Session.Scope)
		fmt.Fprintf(out, "  Root: %s\n", report.Session.EnvironmentRoot)
		if !report.Session.ActivatedAt.IsZero() {
			fmt.Fprintf(out, "  Activated: %s\n", humanize.Time(report.Session.ActivatedAt))
		}
	} else {
		fmt.Fprintln(out, "No active environment.")
	}

	switch report.Guard.State {
	case domain.GuardArmed:
		fmt.Fprintf(out, "Guard: armed (%d restorations)\n", report.Guard.Restorations)
		fmt.Fprintf(out, "  Protected path: %s\n", report.Guard.ProtectedPath)
		if !report.Guard.LastRestore.IsZero() {
			fmt.Fprintf(out, "  Last restore: %s\n", humanize.Time(report.Guard.LastRestore))
		}
	case domain.GuardBypass:
		fmt.Fprintf(out, "Guard: bypass until %s\n", report.Guard.BypassUntil.Format("15:04:05"))
	default:
		fmt.Fprintln(out, "Guard: inactive")
	}

	if report.LiveSearchPath != "" {
		fmt.Fprintf(out, "Search path: %s\n", report.LiveSearchPath)
	}
	if report.Profile.BlockPresent {
		fmt.Fprintf(out, "Profile: activation block for %s in %s\n", report.Profile.Environment, report.Profile.ProfilePath)
	} else {
		fmt.Fprintln(out, "Profile: no activation block")
	}
	if report.RuntimeVersion != "" {
		fmt.Fprintf(out, "Runtime: %s\n", report.RuntimeVersion)
	}
}

func renderProfileStatus(out io.Writer, status domain.ProfileStatus) {
	if status.Error != "" {
		fmt.Fprintf(out, "Profile: unavailable (%s)\n", status.Error)
		return
	}
	fmt.Fprintf(out, "Profile: %s\n", status.ProfilePath)
	if !status.ProfileExists {
		fmt.Fprintln(out, "  The profile file does not exist yet.")
	}
	if status.BlockPresent {
		fmt.Fprintf(out, "  Activation block: present (environment %s)\n", status.Environment)
	} else {
		fmt.Fprintln(out, "  Activation block: none")
	}
}

func renderModuleListings(out io.Writer, listings []domain.ModuleListing, allVersions bool) {
	if len(listings) == 0 {
		fmt.Fprintln(out, "No modules installed.")
		return
	}
	fmt.Fprintf(out, "%-25s %-12s %-12s %-10s %s\n", "NAME", "VERSION", "REPOSITORY", "SIZE", "INSTALLED")
	for _, listing := range listings {
		rec := listing.Record
		fmt.Fprintf(out, "%-25s %-12s %-12s %-10s %s\n",
			rec.Name, rec.Version, rec.Repository, moduleSize(rec.SizeBytes), humanize.Time(rec.InstalledAt))
		if len(listing.Versions) > 1 || (allVersions && len(listing.Versions) > 0) {
			fmt.Fprintf(out, "  on disk: %s\n", strings.Join(listing.Versions, ", "))
		}
	}
}

func moduleSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bytes))
}

func renderInstallResult(out io.Writer, res services.InstallResult) {
	fmt.Fprintf(out, "Installed %s %s", res.Record.Name, res.Record.Version)
	if res.Record.SizeBytes > 0 {
		fmt.Fprintf(out, " (%s)", humanize.Bytes(uint64(res.Record.SizeBytes)))
	}
	fmt.Fprintln(out)

	for _, u := range res.Resolve.Unresolved {
		fmt.Fprintf(out, "  warning: dependency %s not resolved (%s)\n", u.Name, u.Reason)
	}
	if len(res.Load.Loaded) > 0 {
		fmt.Fprintf(out, "  verified: %d module(s) imported\n", len(res.Load.Loaded))
	}
	for _, failure := range res.Load.Failures {
		fmt.Fprintf(out, "  warning: %s failed to import: %v\n", failure.Module, failure.Err)
	}
}

func renderUpdateSummary(out io.Writer, summary domain.UpdateSummary) {
	fmt.Fprintf(out, "Checked %d module(s): %d current, %d updated, %d failed\n",
		summary.Checked, summary.Current, len(summary.Updated), len(summary.Failures))
	for _, u := range summary.Updated {
		fmt.Fprintf(out, "  %s %s -> %s\n", u.Name, u.From, u.To)
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(out, "  %s: %v\n", f.Module, f.Err)
	}
}

func renderConflict(out io.Writer, conflict *domain.DependencyConflictError) {
	fmt.Fprintln(out, "\nNative assembly conflict: the module stays installed but was not loaded.")
	for _, hint := range conflict.Hints() {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

func renderHistory(out io.Writer, records []domain.OperationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No history recorded yet.")
		return
	}
	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "failed"
		}
		fmt.Fprintf(out, "%s | %-10s | %-15s | %-4s | %s\n",
			rec.Timestamp.Format(domain.TimestampFormat), rec.Verb, rec.Environment, status, rec.Subject)
		if rec.Detail != "" && !rec.Success {
			fmt.Fprintf(out, "  %s\n", rec.Detail)
		}
	}
}

func renderDoctorReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "[%s] %s - %s\n", strings.ToUpper(string(check.Status)), check.Name, check.Details)
	}
	if warns, errors := report.Count(domain.HealthWarn), report.Count(domain.HealthError); warns+errors > 0 {
		fmt.Fprintf(out, "\n%d warning(s), %d error(s)\n", warns, errors)
	}
}
