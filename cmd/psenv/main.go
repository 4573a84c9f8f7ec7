package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/doeshing/psenv/internal/infrastructure/cli"
)

func main() {
	ctx := context.Background()
	opts := cli.Options{Verbose: isVerbose()}

	root, err := cli.NewRootCmd(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// isVerbose runs before flag parsing because the logger is built together
// with the rest of the container.
func isVerbose() bool {
	if strings.EqualFold(os.Getenv("PSENV_DEBUG"), "1") || strings.EqualFold(os.Getenv("PSENV_DEBUG"), "true") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if arg == "--verbose" {
			return true
		}
	}
	return false
}
