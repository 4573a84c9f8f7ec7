// Package version carries build-time identification injected via ldflags.
package version

// Populated by the release build:
//
//	go build -ldflags "-X github.com/doeshing/psenv/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)
