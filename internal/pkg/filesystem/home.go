package filesystem

import (
	"os"
	"path/filepath"
)

// UserHomeDir returns the current user's home directory.
// If the home directory cannot be determined, it returns "." as a fallback.
func UserHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// ToolHome returns the psenv state directory, ~/.psenv by default.
// PSENV_HOME overrides it for tests and portable setups.
func ToolHome() string {
	if custom := os.Getenv("PSENV_HOME"); custom != "" {
		return custom
	}
	return filepath.Join(UserHomeDir(), ".psenv")
}

// DefaultEnvsDir returns where environment roots are created unless the
// configuration overrides it.
func DefaultEnvsDir() string {
	return filepath.Join(ToolHome(), "envs")
}
