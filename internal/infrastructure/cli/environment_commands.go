package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/psenv/internal/app"
	"github.com/doeshing/psenv/internal/services"
)

func newCreateCommand(container *app.Container) *cobra.Command {
	var (
		path        string
		description string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := container.Environments.Create(cmd.Context(), services.CreateRequest{
				Name:        args[0],
				Path:        path,
				Description: description,
				Force:       force,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created environment %s\n", env.Name)
			fmt.Fprintf(out, "  Root: %s\n", env.Root)
			if env.RuntimeVersion != "" {
				fmt.Fprintf(out, "  Runtime: %s\n", env.RuntimeVersion)
			}
			fmt.Fprintf(out, "\nActivate it with:\n  psenv activate %s\n", env.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Environment root (default: <envs_dir>/<name>)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description stored with the environment")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing environment with the same name")
	return cmd
}

func newRemoveCommand(container *app.Container) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an environment and its files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := container.Environments.Remove(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed environment %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

func newListCommand(container *app.Container) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:     "list [pattern]",
		Aliases: []string{"ls"},
		Short:   "List registered environments",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			envs, err := container.Environments.List(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			active := container.Controller.Current().EnvironmentName
			if detailed {
				renderEnvironmentsDetailed(cmd.OutOrStdout(), envs, active)
				return nil
			}
			renderEnvironments(cmd.OutOrStdout(), envs, active)
			return nil
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show description, runtime and creation time per environment")
	return cmd
}
