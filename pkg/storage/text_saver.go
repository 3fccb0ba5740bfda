package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/models"
	"rule-crawler/pkg/utils"
)

// TextSaver appends one human-readable block per record to <prefix>.txt.
// Fields appear in configuration order; multiple values are one per line.
type TextSaver struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	log    *logrus.Entry
}

// NewTextSaver opens (or creates) the output file in append mode
func NewTextSaver(dir, prefix string, log *logrus.Entry) (*TextSaver, error) {
	path := filepath.Join(dir, prefix+".txt")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: opening '%s': %w", utils.ErrSave, utils.ErrFilesystem, path, err)
	}
	return &TextSaver{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
		log:    log,
	}, nil
}

// Save implements Saver. The block is flushed before returning so a crash
// loses at most the record being written.
func (s *TextSaver) Save(ctx context.Context, record *models.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSave, err)
	}
	block := formatTextBlock(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("%w: text saver is closed", utils.ErrSave)
	}
	if _, err := s.writer.WriteString(block); err != nil {
		return fmt.Errorf("%w: %w: writing '%s': %w", utils.ErrSave, utils.ErrFilesystem, s.path, err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %w: flushing '%s': %w", utils.ErrSave, utils.ErrFilesystem, s.path, err)
	}
	return nil
}

func formatTextBlock(record *models.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\n", record.URL)
	fmt.Fprintf(&b, "crawled_at: %s\n", record.CrawledAt.Format(time.RFC3339))
	for _, field := range record.FieldOrder {
		values := record.Fields[field]
		switch len(values) {
		case 0:
			fmt.Fprintf(&b, "%s:\n", field)
		case 1:
			fmt.Fprintf(&b, "%s: %s\n", field, oneLine(values[0]))
		default:
			fmt.Fprintf(&b, "%s:\n", field)
			for _, v := range values {
				fmt.Fprintf(&b, "  - %s\n", oneLine(v))
			}
		}
	}
	b.WriteString("\n")
	return b.String()
}

// oneLine collapses internal whitespace so each value stays on its line
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Close implements Saver
func (s *TextSaver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	for _, err := range []error{flushErr, syncErr, closeErr} {
		if err != nil {
			s.log.Errorf("Error closing text output '%s': %v", s.path, err)
			return fmt.Errorf("%w: %w: closing '%s': %w", utils.ErrSave, utils.ErrFilesystem, s.path, err)
		}
	}
	return nil
}
