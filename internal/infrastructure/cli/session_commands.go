package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/psenv/internal/app"
	"github.com/doeshing/psenv/internal/domain"
)

func newActivateCommand(container *app.Container) *cobra.Command {
	var (
		scopeName string
		command   string
		noShell   bool
	)
	cmd := &cobra.Command{
		Use:   "activate <environment>",
		Short: "Activate an environment in a supervised shell",
		Long: "Activate replaces the module search path with the environment's own\n" +
			"modules, arms the watchdog that keeps it that way, and starts a shell\n" +
			"inside the protected session. Exiting the shell deactivates everything.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			if noShell && scope != domain.ScopeGlobal {
				return fmt.Errorf("--no-shell requires --scope Global; a session activation ends with this process")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			session, err := container.Controller.Activate(ctx, args[0], scope)
			if err != nil {
				return err
			}
			renderActivation(out, session)

			if noShell {
				// Leave the profile block in place; new shells inherit the
				// environment until `psenv deactivate --global`.
				fmt.Fprintln(out, "Profile updated. New shells start with this environment active.")
				return nil
			}

			exit, err := container.Controller.Run(ctx, command)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Environment %s deactivated.\n", session.EnvironmentName)
			if exit != 0 {
				// Propagate the child shell's exit code; teardown already ran.
				os.Exit(exit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", string(domain.ScopeSession), "Activation scope: Session or Global")
	cmd.Flags().StringVarP(&command, "command", "c", "", "Run a single command instead of an interactive shell")
	cmd.Flags().BoolVar(&noShell, "no-shell", false, "Persist the activation without starting a shell (Global scope only)")
	return cmd
}

func parseScope(name string) (domain.ActivationScope, error) {
	switch strings.ToLower(name) {
	case "", "session":
		return domain.ScopeSession, nil
	case "global":
		return domain.ScopeGlobal, nil
	default:
		return "", fmt.Errorf("unknown scope %q (expected Session or Global)", name)
	}
}

func newDeactivateCommand(container *app.Container) *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate the active environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if global {
				res, err := container.Profile.Uninstall()
				if err != nil {
					return err
				}
				if res.ProfileUpdated {
					fmt.Fprintf(out, "Removed activation block from %s\n", res.ProfilePath)
				} else {
					fmt.Fprintln(out, "No activation block found in the host profile.")
				}
				return nil
			}

			session := container.Controller.Current()
			if !session.Active() {
				fmt.Fprintln(out, "No active environment.")
				return nil
			}
			if os.Getenv(domain.EnvSessionID) != "" {
				// This process inherited the session from a supervising
				// `psenv activate`; only that process can tear it down.
				fmt.Fprintf(out, "Environment %s is active in this shell. Exit the shell to deactivate it.\n", session.EnvironmentName)
				return nil
			}
			return container.Controller.Deactivate(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&global, "global", "g", false, "Remove the host profile activation block")
	return cmd
}

func newStatusCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active environment and watchdog state",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := container.Controller.Status(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newInitCommand(container *app.Container) *cobra.Command {
	var (
		remove bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init [environment]",
		Short: "Manage the host profile integration block",
		Long: "Without arguments, init reports whether the host profile carries an\n" +
			"activation block. With an environment name it writes the block so new\n" +
			"shells start inside that environment; --remove deletes it again.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if remove {
				res, err := container.Profile.Uninstall()
				if err != nil {
					return err
				}
				if res.ProfileUpdated {
					fmt.Fprintf(out, "Removed activation block from %s\n", res.ProfilePath)
				} else {
					fmt.Fprintln(out, "No activation block found in the host profile.")
				}
				return nil
			}

			if len(args) == 0 {
				renderProfileStatus(out, container.Profile.Status())
				return nil
			}

			ctx := cmd.Context()
			env, err := container.Registry.Get(ctx, args[0])
			if err != nil {
				return err
			}
			protected, err := container.Paths.Compose(ctx, env)
			if err != nil {
				return err
			}
			res, err := container.Profile.Install(env.Name, protected, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote activation block for %s to %s\n", env.Name, res.ProfilePath)
			if res.BackupPath != "" {
				fmt.Fprintf(out, "  Backup: %s\n", res.BackupPath)
			}
			fmt.Fprintln(out, "New shells start with this environment active.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the activation block instead of writing one")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing activation block")
	return cmd
}
