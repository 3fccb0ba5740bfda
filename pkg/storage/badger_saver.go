package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/log"
	"rule-crawler/pkg/models"
	"rule-crawler/pkg/utils"
)

const (
	recordKeyPrefix = "record:" // Prefix for record keys, followed by the page URL
	badgerDirSuffix = "_db"     // <save_dir>/<file_prefix>_db holds the Badger files
)

// BadgerSaver stores records in an embedded BadgerDB keyed by URL.
// Saving the same URL again overwrites the previous record.
type BadgerSaver struct {
	db       *badger.DB
	path     string
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) Count
}

// NewBadgerSaver opens (or creates) the database under dir. Existing records
// are kept, so repeated crawls into the same directory accumulate.
func NewBadgerSaver(dir, prefix string, logger *logrus.Entry) (*BadgerSaver, error) {
	dbPath := filepath.Join(dir, prefix+badgerDirSuffix)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w: creating %s: %w", utils.ErrSave, utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest record per URL

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: opening badger database at %s: %w", utils.ErrSave, utils.ErrDatabase, dbPath, err)
	}

	s := &BadgerSaver{db: db, path: dbPath, log: logger}
	count, err := s.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing records: %v", err)
	} else {
		s.keyCount.Store(int64(count))
	}
	logger.WithFields(logrus.Fields{"path": dbPath, "existing_records": count}).Info("Record database opened")
	return s, nil
}

// countKeys performs a one-time key-only scan at open
func (s *BadgerSaver) countKeys() (int, error) {
	count := 0
	prefix := []byte(recordKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerSaver) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Save implements Saver
func (s *BadgerSaver) Save(ctx context.Context, record *models.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSave, err)
	}
	if s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("%w: %w: database is closed", utils.ErrSave, utils.ErrDatabase)
	}

	key := []byte(recordKeyPrefix + record.URL)
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %w: JSON encoding record for '%s': %w", utils.ErrSave, utils.ErrParsing, record.URL, err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		isNew = false // Reset on conflict retry
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		} else if errGet != nil {
			return errGet
		}
		return txn.SetEntry(badger.NewEntry(key, value))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in Save: %v", err)
		return fmt.Errorf("%w: %w: writing key '%s': %w", utils.ErrSave, utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// Get returns the stored record for url, if any
func (s *BadgerSaver) Get(url string) (*models.Record, bool, error) {
	var record *models.Record
	key := []byte(recordKeyPrefix + url)

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.Record
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: JSON decoding record '%s': %w", utils.ErrParsing, url, errJSON)
			}
			record = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return record, record != nil, nil
}

// Count returns the number of stored records
func (s *BadgerSaver) Count() int {
	return int(s.keyCount.Load())
}

// ExportJSONL writes every stored record to w, one compact JSON object per
// line, in key (URL) order. Returns the number of records written.
func (s *BadgerSaver) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	writer := bufio.NewWriter(w)
	written := 0
	prefix := []byte(recordKeyPrefix)

	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				if _, err := writer.Write(val); err != nil {
					return err
				}
				return writer.WriteByte('\n')
			})
			if err != nil {
				return err
			}
			written++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && iterErr == nil {
		iterErr = flushErr
	}
	if iterErr != nil {
		if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
			return written, iterErr
		}
		return written, fmt.Errorf("%w: exporting records: %w", utils.ErrDatabase, iterErr)
	}
	s.log.Infof("Exported %d records", written)
	return written, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerSaver) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements Saver
func (s *BadgerSaver) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	s.log.Debug("Closing record database...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing record database: %v", err)
		return fmt.Errorf("%w: %w: closing database: %w", utils.ErrSave, utils.ErrDatabase, err)
	}
	return nil
}

// OpenBadgerForExport opens an existing record database without creating one.
// The caller must Close it.
func OpenBadgerForExport(saveDir, prefix string, logger *logrus.Entry) (*BadgerSaver, error) {
	dbPath := filepath.Join(saveDir, prefix+badgerDirSuffix)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: record database %s: %w", utils.ErrFilesystem, dbPath, err)
	}
	return NewBadgerSaver(saveDir, prefix, logger)
}
