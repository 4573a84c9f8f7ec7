package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// LocalRunner executes external processes with captured output.
type LocalRunner struct{}

// NewLocalRunner builds a runner.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run implements ports.CommandRunner. extraEnv entries override inherited
// variables of the same name.
func (r *LocalRunner) Run(ctx context.Context, name string, args []string, extraEnv map[string]string) (domain.ExecutionResult, error) {
	c := exec.CommandContext(ctx, name, args...)
	c.Env = mergedEnv(extraEnv)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	duration := time.Since(start).Milliseconds()

	result := domain.ExecutionResult{
		Ran:        err == nil,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: duration,
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Err = err
		return result, err
	}
	if err != nil {
		result.Err = err
		return result, err
	}
	result.ExitCode = 0
	return result, nil
}

func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	out := make([]string, 0, len(env)+len(extra))
	for _, kv := range env {
		skip := false
		for key := range extra {
			if len(kv) > len(key) && kv[:len(key)] == key && kv[len(key)] == '=' {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	for key, value := range extra {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}

var _ ports.CommandRunner = (*LocalRunner)(nil)
