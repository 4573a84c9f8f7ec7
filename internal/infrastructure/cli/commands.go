package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/psenv/internal/app"
	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/infrastructure/config"
	"github.com/doeshing/psenv/internal/version"
)

func newConfigCommand(container *app.Container) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect psenv configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show full configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}

	var key string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get a specific configuration value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			return runConfigGet(cmd.Context(), cmd.OutOrStdout(), container, key)
		},
	}
	getCmd.Flags().StringVar(&key, "key", "", "Key path (e.g., guard.interval_ms)")

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value (value accepts YAML syntax)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := strings.Join(args[1:], " ")
			return runConfigSet(cmd.Context(), container, key, value)
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit configuration in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigEdit(container)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := container.ConfigProvider.Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.ValidateConsistency(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset configuration to defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := configLoader(container)
			if err != nil {
				return err
			}
			if err := loader.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration reset at %s\n", loader.Path())
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := configLoader(container)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
			return nil
		},
	}

	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Show settings that differ from the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := container.ConfigProvider.Load(cmd.Context())
			if err != nil {
				return err
			}
			diff := cmp.Diff(config.DefaultConfig(), cfg)
			if diff == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No differences from default configuration.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), diff)
			return nil
		},
	}

	configCmd.AddCommand(showCmd, getCmd, setCmd, editCmd, validateCmd, resetCmd, pathCmd, diffCmd)
	return configCmd
}

func runConfigShow(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigGet(ctx context.Context, out io.Writer, container *app.Container, key string) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	value, ok := traverseKey(generic, strings.Split(key, "."))
	if !ok {
		return fmt.Errorf("key %s not found", key)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))
	return nil
}

func traverseKey(data interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return data, true
	}
	switch node := data.(type) {
	case map[string]interface{}:
		next, ok := node[path[0]]
		if !ok {
			return nil, false
		}
		return traverseKey(next, path[1:])
	default:
		return nil, false
	}
}

func runConfigSet(ctx context.Context, container *app.Container, key, value string) error {
	loader, err := configLoader(container)
	if err != nil {
		return err
	}
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return err
	}
	cfgMap := map[string]interface{}{}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, &cfgMap); err != nil {
		return err
	}

	parsedValue, err := parseValue(value)
	if err != nil {
		return err
	}
	if !setMapValue(cfgMap, strings.Split(key, "."), parsedValue) {
		return fmt.Errorf("unable to set key %s", key)
	}

	updatedRaw, err := yaml.Marshal(cfgMap)
	if err != nil {
		return err
	}

	var updated domain.Config
	if err := yaml.Unmarshal(updatedRaw, &updated); err != nil {
		return err
	}
	if err := updated.ValidateConsistency(); err != nil {
		return err
	}

	return loader.Save(updated)
}

func runConfigEdit(container *app.Container) error {
	loader, err := configLoader(container)
	if err != nil {
		return err
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.Command(editor, loader.Path())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func configLoader(container *app.Container) (*config.FileLoader, error) {
	if container.ConfigLoader == nil {
		return nil, fmt.Errorf("config loader unavailable")
	}
	return container.ConfigLoader, nil
}

func parseValue(input string) (interface{}, error) {
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(input), &parsed); err != nil {
		return input, nil
	}
	return parsed, nil
}

func setMapValue(root map[string]interface{}, path []string, value interface{}) bool {
	if len(path) == 0 {
		return false
	}
	current := root
	for i := 0; i < len(path)-1; i++ {
		key := path[i]
		next, ok := current[key]
		if !ok {
			newChild := map[string]interface{}{}
			current[key] = newChild
			current = newChild
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			current[key] = child
		}
		current = child
	}
	current[path[len(path)-1]] = value
	return true
}

func newHistoryCommand(container *app.Container) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded operations",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := container.HistoryStore
			if store == nil {
				return fmt.Errorf("history store unavailable")
			}
			records, err := store.Recent(limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "Max entries to show")

	var query string
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search operations for a keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := container.HistoryStore
			if store == nil {
				return fmt.Errorf("history store unavailable")
			}
			if query == "" {
				return fmt.Errorf("--query required")
			}
			records, err := store.Search(query, domain.DefaultHistorySearchLimit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	searchCmd.Flags().StringVar(&query, "query", "", "Search keyword")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear operation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.HistoryStore == nil {
				return fmt.Errorf("history store unavailable")
			}
			return container.HistoryStore.Clear()
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export history as JSON lines ('-' for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := container.HistoryStore
			if store == nil {
				return fmt.Errorf("history store unavailable")
			}
			if args[0] == "-" {
				return store.Export(cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return store.Export(f)
		},
	}

	historyCmd.AddCommand(listCmd, searchCmd, clearCmd, exportCmd)
	return historyCmd
}

func newCacheCommand(container *app.Container) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the repository metadata cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return fmt.Errorf("cache disabled")
			}
			entries, err := container.CacheStore.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cached lookups.")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %s\n",
					entry.Key, entry.Source, entry.CreatedAt.Format(domain.TimestampFormat))
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached lookups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return fmt.Errorf("cache disabled")
			}
			return container.CacheStore.Clear()
		},
	}

	sizeCmd := &cobra.Command{
		Use:   "size",
		Short: "Show cache size on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Cache == nil {
				return fmt.Errorf("cache disabled")
			}
			dir := container.Cache.Dir()
			var total int64
			filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err == nil {
					total += info.Size()
				}
				return nil
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Cache directory: %s\nSize: %d bytes\n", dir, total)
			return nil
		},
	}

	cacheCmd.AddCommand(listCmd, clearCmd, sizeCmd)
	return cacheCmd
}

func newDoctorCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the psenv installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.DoctorService == nil {
				return fmt.Errorf("doctor service unavailable")
			}
			report, err := container.DoctorService.Run(cmd.Context())
			renderDoctorReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show psenv version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "psenv version %s\n", version.Version)
			if version.Commit != "" {
				fmt.Fprintf(out, "Commit: %s\n", version.Commit)
			}
			if version.BuildDate != "" {
				fmt.Fprintf(out, "Built: %s\n", version.BuildDate)
			}
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			return nil
		},
	}
}
