package domain

import "time"

// OperationRecord captures one executed environment or module operation for
// the history store.
type OperationRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Verb        string    `json:"verb"`
	Subject     string    `json:"subject"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// Operation verbs recorded in history.
const (
	VerbCreate     = "create"
	VerbRemove     = "remove"
	VerbActivate   = "activate"
	VerbDeactivate = "deactivate"
	VerbInstall    = "install"
	VerbUninstall  = "uninstall"
	VerbUpdate     = "update"
)

// CacheEntry stores cached repository metadata.
type CacheEntry struct {
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
