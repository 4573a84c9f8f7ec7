package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/psenv/internal/app"
	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/services"
)

func newInstallCommand(container *app.Container) *cobra.Command {
	var (
		envName       string
		version       string
		repository    string
		acceptLicense bool
		force         bool
		noImport      bool
	)
	cmd := &cobra.Command{
		Use:   "install <module>",
		Short: "Install a module into an environment",
		Long: "Install downloads a module into the environment's own module directory.\n" +
			"The download runs under a temporary search path and the watchdog grants\n" +
			"it a bypass window, so the active session stays protected throughout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			stop := startSpinner(out)
			res, err := container.Modules.Install(cmd.Context(), services.InstallRequest{
				Environment:   envName,
				Name:          args[0],
				Version:       version,
				Repository:    repository,
				AcceptLicense: acceptLicense,
				Force:         force,
				SkipImport:    noImport,
			})
			stop()

			var conflict *domain.DependencyConflictError
			if errors.As(err, &conflict) {
				renderInstallResult(out, res)
				renderConflict(out, conflict)
				return err
			}
			if err != nil {
				return err
			}
			renderInstallResult(out, res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Target environment (default: the active one)")
	cmd.Flags().StringVarP(&version, "version", "v", "", "Exact module version (default: latest)")
	cmd.Flags().StringVarP(&repository, "repository", "r", "", "Module repository name (default from config)")
	cmd.Flags().BoolVar(&acceptLicense, "accept-license", false, "Accept the module license without prompting")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even if the module is already recorded")
	cmd.Flags().BoolVar(&noImport, "no-import", false, "Skip the verification import after install")
	return cmd
}

func newUninstallCommand(container *app.Container) *cobra.Command {
	var (
		envName string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "uninstall <module>",
		Short: "Remove a module from an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := container.Modules.Uninstall(cmd.Context(), envName, args[0], force)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed module %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Target environment (default: the active one)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

func newModulesCommand(container *app.Container) *cobra.Command {
	var (
		envName     string
		allVersions bool
	)
	cmd := &cobra.Command{
		Use:   "modules [pattern]",
		Short: "List modules installed in an environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			listings, err := container.Modules.List(cmd.Context(), envName, pattern)
			if err != nil {
				return err
			}
			renderModuleListings(cmd.OutOrStdout(), listings, allVersions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Target environment (default: the active one)")
	cmd.Flags().BoolVar(&allVersions, "all-versions", false, "List every version present on disk, not just the recorded one")
	return cmd
}

func newUpdateCommand(container *app.Container) *cobra.Command {
	var (
		envName       string
		acceptLicense bool
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "update [module]",
		Short: "Update installed modules to their latest versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := ""
			if len(args) == 1 {
				module = args[0]
			}
			out := cmd.OutOrStdout()
			stop := startSpinner(out)
			summary, err := container.Modules.Update(cmd.Context(), envName, module, acceptLicense, force)
			stop()
			if err != nil {
				return err
			}
			renderUpdateSummary(out, summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Target environment (default: the active one)")
	cmd.Flags().BoolVar(&acceptLicense, "accept-license", false, "Accept module licenses without prompting")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall modules even when already at the latest version")
	return cmd
}
