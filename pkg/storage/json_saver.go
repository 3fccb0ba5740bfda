package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/models"
	"rule-crawler/pkg/utils"
)

// JSONSaver writes each record to its own file, <prefix>_<n>.json, with n
// counting up from 0 in save order. A failed save does not consume an index.
type JSONSaver struct {
	dir    string
	prefix string
	log    *logrus.Entry

	mu   sync.Mutex
	next int64
}

// NewJSONSaver creates a saver writing into dir, which must exist
func NewJSONSaver(dir, prefix string, log *logrus.Entry) *JSONSaver {
	return &JSONSaver{dir: dir, prefix: prefix, log: log}
}

// Save implements Saver
func (s *JSONSaver) Save(ctx context.Context, record *models.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSave, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // Keep <, > and & readable in extracted text
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("%w: %w: JSON encoding record for '%s': %w", utils.ErrSave, utils.ErrParsing, record.URL, err)
	}

	// Written under a temporary name so the slow part runs unlocked; the index
	// is claimed only when the file is complete
	tmp, err := s.writeTemp(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %w: writing record for '%s': %w", utils.ErrSave, utils.ErrFilesystem, record.URL, err)
	}

	path, err := s.claim(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w: naming record for '%s': %w", utils.ErrSave, utils.ErrFilesystem, record.URL, err)
	}

	s.log.WithFields(logrus.Fields{"url": record.URL, "file": path}).Debug("Record saved")
	return nil
}

func (s *JSONSaver) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, "."+s.prefix+"-*.tmp")
	if err != nil {
		return "", err
	}
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(f.Name(), 0644)
	}
	if werr != nil {
		_ = os.Remove(f.Name())
		return "", werr
	}
	return f.Name(), nil
}

// claim renames tmp to the next free index
func (s *JSONSaver) claim(tmp string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", s.prefix, s.next))
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	s.next++
	return path, nil
}

// Count returns how many records have been written
func (s *JSONSaver) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close implements Saver; each file is closed as it is written
func (s *JSONSaver) Close() error {
	return nil
}
