// Package history persists the operations psenv has run: environment
// lifecycle and module changes, queryable from the CLI.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// Open returns the best available history store: SQLite when the database
// opens, otherwise the JSON-lines fallback with a logged warning.
func Open(retainDays int, log ports.Logger) ports.HistoryRepository {
	store, err := NewSQLiteStore(retainDays)
	if err != nil {
		if log != nil {
			log.Warn("history database unavailable, using file store", map[string]interface{}{"error": err.Error()})
		}
		return NewFileStore()
	}
	return store
}

// SQLiteStore persists operation records in ~/.psenv/history/history.db.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore opens (or creates) the history database and prunes records
// older than retainDays when positive.
func NewSQLiteStore(retainDays int) (*SQLiteStore, error) {
	path := filepath.Join(filesystem.ToolHome(), "history", "history.db")
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	if retainDays > 0 {
		store.prune(retainDays)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		timestamp TEXT,
		environment TEXT,
		verb TEXT,
		subject TEXT,
		success INTEGER,
		detail TEXT,
		duration_ms INTEGER
	);`)
	return err
}

func (s *SQLiteStore) prune(retainDays int) {
	cutoff := fmt.Sprintf("-%d days", retainDays)
	_, _ = s.db.Exec(`DELETE FROM operations WHERE datetime(timestamp) < datetime('now', ?)`, cutoff)
}

// Record implements ports.HistoryRepository.
func (s *SQLiteStore) Record(record domain.OperationRecord) error {
	record = withDefaults(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO operations
		(id, timestamp, environment, verb, subject, success, detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp.Format(time.RFC3339),
		record.Environment,
		record.Verb,
		record.Subject,
		boolToInt(record.Success),
		record.Detail,
		record.DurationMS,
	)
	return err
}

// Recent implements ports.HistoryRepository. limit <= 0 returns everything.
func (s *SQLiteStore) Recent(limit int) ([]domain.OperationRecord, error) {
	return s.query("", limit)
}

// Search implements ports.HistoryRepository.
func (s *SQLiteStore) Search(query string, limit int) ([]domain.OperationRecord, error) {
	return s.query(query, limit)
}

func (s *SQLiteStore) query(search string, limit int) ([]domain.OperationRecord, error) {
	var b strings.Builder
	b.WriteString("SELECT id, timestamp, environment, verb, subject, success, detail, duration_ms FROM operations")
	var args []interface{}
	if search != "" {
		b.WriteString(" WHERE environment LIKE ? OR verb LIKE ? OR subject LIKE ? OR detail LIKE ?")
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	b.WriteString(" ORDER BY datetime(timestamp) DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.OperationRecord
	for rows.Next() {
		var rec domain.OperationRecord
		var ts string
		var success int
		if err := rows.Scan(&rec.ID, &ts, &rec.Environment, &rec.Verb, &rec.Subject, &success, &rec.Detail, &rec.DurationMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.Timestamp = t
		}
		rec.Success = success == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear implements ports.HistoryRepository.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM operations")
	return err
}

// Export implements ports.HistoryRepository, writing JSON lines oldest
// first.
func (s *SQLiteStore) Export(w io.Writer) error {
	records, err := s.Recent(0)
	if err != nil {
		return err
	}
	for i := len(records) - 1; i >= 0; i-- {
		b, err := json.Marshal(records[i])
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func withDefaults(record domain.OperationRecord) domain.OperationRecord {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	return record
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.HistoryRepository = (*SQLiteStore)(nil)
