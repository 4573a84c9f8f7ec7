package domain

// ExecutionResult wraps details from one host runtime invocation.
type ExecutionResult struct {
	Ran        bool
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Err        error
}

// SearchPathSnapshot preserves the module search path observed at a point in
// time so a later restore can reproduce it exactly. Present distinguishes an
// empty variable from an unset one.
type SearchPathSnapshot struct {
	Value   string
	Present bool
	TakenAt int64
}
