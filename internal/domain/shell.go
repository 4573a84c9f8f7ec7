package domain

// ProfileInstallResult describes install/uninstall outcomes for the host
// profile integration block.
type ProfileInstallResult struct {
	ProfilePath    string
	BackupPath     string
	ProfileUpdated bool
}

// ProfileStatus captures current integration state.
type ProfileStatus struct {
	ProfilePath   string
	ProfileExists bool
	BlockPresent  bool
	Environment   string
	Error         string
}
