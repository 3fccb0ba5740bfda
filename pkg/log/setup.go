package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimestampFormat is used for console and file output alike
const TimestampFormat = "15:04:05.000"

// Log file rotation: a new file every local midnight, or sooner once it
// reaches FileMaxSizeMB. FileBackups rotated files are kept.
const (
	FileMaxSizeMB = 100
	FileBackups   = 7
)

// Setup builds the process logger. An invalid level falls back to info with a
// warning. When file is set, entries are also written to a rotating log file;
// the returned closer stops rotation and releases the file. It is never nil.
func Setup(level, file string, console io.Writer) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: TimestampFormat})
	logger.SetOutput(console)
	logger.SetLevel(logrus.InfoLevel)

	closer := func() error { return nil }

	if file != "" {
		sink, err := openFileSink(file)
		if err != nil {
			return nil, closer, err
		}
		logger.SetOutput(io.MultiWriter(console, sink))
		closer = sink.Close
	}

	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", level, err)
		} else {
			logger.SetLevel(parsed)
		}
	}

	return logger, closer, nil
}

// fileSink is a lumberjack logger rotated at each local midnight
type fileSink struct {
	*lumberjack.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func openFileSink(file string) (*fileSink, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory for '%s': %w", file, err)
	}
	// lumberjack opens lazily; surface permission problems now
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file '%s': %w", file, err)
	}
	_ = f.Close()

	s := &fileSink{
		Logger: &lumberjack.Logger{
			Filename:   file,
			MaxSize:    FileMaxSizeMB,
			MaxBackups: FileBackups,
			LocalTime:  true,
		},
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.rotateDaily()
	return s, nil
}

func (s *fileSink) rotateDaily() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(time.Until(nextMidnight(time.Now())))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			if err := s.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed for '%s': %v\n", s.Filename, err)
			}
		}
	}
}

// Close stops the rotation loop, then closes the current file
func (s *fileSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.Logger.Close()
}

// nextMidnight returns the start of the local day after now
func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
