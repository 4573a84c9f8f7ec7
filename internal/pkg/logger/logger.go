package logger

import (
	"log"
	"os"
)

// StdLogger is a lightweight implementation backed by Go's log package.
// Debug and Info stay quiet unless verbose; Warn and Error always print
// because activation rollback problems surface as warnings.
type StdLogger struct {
	verbose bool
}

// NewStd creates a StdLogger. PSENV_DEBUG=1 forces verbose regardless of the
// flag so background sessions can be inspected after the fact.
func NewStd(verbose bool) *StdLogger {
	if os.Getenv("PSENV_DEBUG") == "1" {
		verbose = true
	}
	return &StdLogger{verbose: verbose}
}

func (l *StdLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.verbose {
		return
	}
	log.Println("[DEBUG]", msg, fields)
}

func (l *StdLogger) Info(msg string, fields map[string]interface{}) {
	if !l.verbose {
		return
	}
	log.Println("[INFO]", msg, fields)
}

func (l *StdLogger) Warn(msg string, fields map[string]interface{}) {
	log.Println("[WARN]", msg, fields)
}

func (l *StdLogger) Error(msg string, err error, fields map[string]interface{}) {
	log.Println("[ERROR]", msg, err, fields)
}
