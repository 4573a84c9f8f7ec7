package runtime

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

// sharedModuleDirs lists machine-wide module locations beyond $PSHOME. These
// are candidates only; callers existence-filter them.
func sharedModuleDirs() []string {
	switch goruntime.GOOS {
	case "windows":
		var dirs []string
		if pf := os.Getenv("ProgramFiles"); pf != "" {
			dirs = append(dirs, filepath.Join(pf, "PowerShell", "Modules"))
			dirs = append(dirs, filepath.Join(pf, "WindowsPowerShell", "Modules"))
		}
		return dirs
	case "darwin":
		return []string{"/usr/local/share/powershell/Modules"}
	default:
		return []string{"/usr/local/share/powershell/Modules", "/opt/microsoft/powershell/7/Modules"}
	}
}
