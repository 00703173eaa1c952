package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of old log files to keep.
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress"`
}

// DefaultRotationConfig returns the rotation settings used when none are configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  5,
		MaxBackups: 3,
		Compress:   false,
	}
}

// RotatingWriter is an io.WriteCloser over a single log file that rotates
// once the file would exceed the configured size. Backups are numbered
// .1 (newest) through .N (oldest). It is safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex
	wg sync.WaitGroup // pending compressions

	path       string
	limit      int64
	maxBackups int
	compress   bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		limit:      int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// newRotatingWriterBytes is used by tests to rotate at byte granularity.
func newRotatingWriterBytes(path string, limit int64, backups int, compress bool) (*RotatingWriter, error) {
	rw := &RotatingWriter{path: path, limit: limit, maxBackups: backups, compress: compress}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// open must be called with mu held (or before the writer is shared).
func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}

	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			// Keep logging to whatever file is open rather than dropping lines.
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
			if rw.file == nil {
				return 0, err
			}
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	first := rw.backup(1)
	if err := os.Rename(rw.path, first); err != nil {
		if openErr := rw.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if rw.compress && rw.maxBackups > 0 {
		rw.wg.Add(1)
		go func() {
			defer rw.wg.Done()
			gzipFile(first)
		}()
	}

	return rw.open()
}

// shiftBackups drops the oldest backup and renumbers the rest upward.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		_ = os.Remove(rw.backup(1))
		_ = os.Remove(rw.backup(1) + ".gz")
		return
	}

	oldest := rw.backup(rw.maxBackups)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")

	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := rw.backup(i), rw.backup(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			_ = os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// gzipFile replaces path with path.gz. The original is kept if anything fails.
func gzipFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file for compression %s: %v\n", path, err)
		return
	}
	defer src.Close()

	gzPath := path + ".gz"
	dst, err := os.Create(gzPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create compressed log file %s: %v\n", gzPath, err)
		return
	}

	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	closeErr := zw.Close()
	fileErr := dst.Close()
	if copyErr != nil || closeErr != nil || fileErr != nil {
		_ = os.Remove(gzPath)
		fmt.Fprintf(os.Stderr, "Warning: failed to compress log file %s\n", path)
		return
	}

	_ = os.Remove(path)
}

// Sync flushes the current file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the current file and waits for pending compressions.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer func() {
		rw.mu.Unlock()
		rw.wg.Wait()
	}()

	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil
	return nil
}

// Path returns the active log file path.
func (rw *RotatingWriter) Path() string {
	return rw.path
}

// Size returns the bytes written to the active file.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}
