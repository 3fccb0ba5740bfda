package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/config"
	"rule-crawler/pkg/models"
	"rule-crawler/pkg/utils"
)

// Saver durably stores crawled records. Implementations are safe for
// concurrent use by all workers.
type Saver interface {
	// Save persists one record. Errors wrap utils.ErrSave.
	Save(ctx context.Context, record *models.Record) error

	// Close flushes and releases the underlying resources
	Close() error
}

// NewSaver resolves the configured format once and builds the matching saver.
// The save directory is created if missing.
func NewSaver(cfg config.SaveConfig, log *logrus.Entry) (Saver, error) {
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w: creating save_dir '%s': %w", utils.ErrSave, utils.ErrFilesystem, cfg.SaveDir, err)
	}

	switch cfg.SaveAs {
	case config.SaveFormatJSON, "":
		return NewJSONSaver(cfg.SaveDir, cfg.FilePrefix, log), nil
	case config.SaveFormatText:
		return NewTextSaver(cfg.SaveDir, cfg.FilePrefix, log)
	case config.SaveFormatBadger:
		return NewBadgerSaver(cfg.SaveDir, cfg.FilePrefix, log)
	default:
		return nil, fmt.Errorf("%w: %w: save_as %q", utils.ErrConfigValidation, utils.ErrUnsupportedFormat, cfg.SaveAs)
	}
}
