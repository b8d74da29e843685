package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidewatch/chronocrawl/internal/models"
)

// JSONWriter appends records to a JSON array file, merged with whatever the
// file already holds and deduplicated by URL. The file is replaced atomically
// on every write so a crash never leaves it half-written.
type JSONWriter struct {
	mu      sync.Mutex
	path    string
	records []*models.WatchRecord
	byURL   map[string]int
}

func NewJSONWriter(path string) (*JSONWriter, error) {
	w := &JSONWriter{
		path:  path,
		byURL: make(map[string]int),
	}

	if err := w.load(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *JSONWriter) load() error {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &w.records); err != nil {
		return fmt.Errorf("parse output file %s: %w", w.path, err)
	}

	for i, r := range w.records {
		w.byURL[r.URL] = i
	}

	return nil
}

func (w *JSONWriter) Write(_ context.Context, record *models.WatchRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i, ok := w.byURL[record.URL]; ok {
		w.records[i] = record
	} else {
		w.byURL[record.URL] = len(w.records)
		w.records = append(w.records, record)
	}

	return w.save()
}

func (w *JSONWriter) Close(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.save()
}

// Len reports how many records the file holds.
func (w *JSONWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func (w *JSONWriter) save() error {
	data, err := json.MarshalIndent(w.records, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := w.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, w.path)
}
