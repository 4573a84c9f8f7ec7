package history

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/pkg/filesystem"
	"github.com/doeshing/psenv/internal/ports"
)

// FileStore appends operation records to a JSON-lines file. It is the
// fallback when the SQLite database cannot be opened.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by ~/.psenv/history/history.jsonl.
func NewFileStore() *FileStore {
	return &FileStore{
		path: filepath.Join(filesystem.ToolHome(), "history", "history.jsonl"),
	}
}

// Record implements ports.HistoryRepository.
func (f *FileStore) Record(record domain.OperationRecord) error {
	record = withDefaults(record)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), domain.DirectoryPermissions); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

// Recent implements ports.HistoryRepository. limit <= 0 returns everything.
func (f *FileStore) Recent(limit int) ([]domain.OperationRecord, error) {
	records, err := f.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Search implements ports.HistoryRepository with a case-insensitive
// substring match.
func (f *FileStore) Search(query string, limit int) ([]domain.OperationRecord, error) {
	all, err := f.Recent(0)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var out []domain.OperationRecord
	for _, rec := range all {
		haystack := strings.ToLower(rec.Environment + " " + rec.Verb + " " + rec.Subject + " " + rec.Detail)
		if strings.Contains(haystack, needle) {
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Clear implements ports.HistoryRepository.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Export implements ports.HistoryRepository, writing JSON lines oldest
// first.
func (f *FileStore) Export(w io.Writer) error {
	records, err := f.load()
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() ([]domain.OperationRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	var records []domain.OperationRecord
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec domain.OperationRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

var _ ports.HistoryRepository = (*FileStore)(nil)
