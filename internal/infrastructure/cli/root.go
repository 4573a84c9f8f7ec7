package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/doeshing/psenv/internal/app"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	container, err := app.BuildContainer(ctx, opts.Verbose)
	if err != nil {
		return nil, err
	}
	prompter := NewPrompter(nil, nil)
	container.Environments.Prompter = prompter
	container.Modules.Prompter = prompter

	activateCmd := newActivateCommand(container)

	root := &cobra.Command{
		Use:   "psenv [environment]",
		Short: "psenv - isolated PowerShell module environments",
		Long: "psenv keeps PowerShell module dependencies per project: each environment\n" +
			"owns its module directory, and while one is active a watchdog pins the\n" +
			"module search path so nothing outside the environment leaks in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			// `psenv webdev` is shorthand for `psenv activate webdev`.
			activateCmd.SetArgs(args)
			return activateCmd.ExecuteContext(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// The flag value is read by main before the container is built; the
	// registration here keeps it visible in help and out of the args.
	root.PersistentFlags().Bool("verbose", opts.Verbose, "Enable debug logging")

	root.AddCommand(activateCmd)
	root.AddCommand(newInitCommand(container))
	root.AddCommand(newCreateCommand(container))
	root.AddCommand(newRemoveCommand(container))
	root.AddCommand(newListCommand(container))
	root.AddCommand(newDeactivateCommand(container))
	root.AddCommand(newStatusCommand(container))
	root.AddCommand(newInstallCommand(container))
	root.AddCommand(newUninstallCommand(container))
	root.AddCommand(newModulesCommand(container))
	root.AddCommand(newUpdateCommand(container))
	root.AddCommand(newConfigCommand(container))
	root.AddCommand(newHistoryCommand(container))
	root.AddCommand(newCacheCommand(container))
	root.AddCommand(newDoctorCommand(container))
	root.AddCommand(newVersionCommand())
	return root, nil
}
