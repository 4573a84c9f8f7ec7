package assets

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded configuration template written by
// `psenv config reset` and shipped as reference.
//
//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

// ImportWorkerScript is the PowerShell driver an isolated import runs in a
// throwaway host process.
//
//go:embed defaults/import_worker.ps1
var ImportWorkerScript []byte
