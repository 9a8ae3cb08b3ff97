package sink

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/live-relay/backend/internal/metrics"
)

// ErrSinkWrite wraps every append failure.
var ErrSinkWrite = errors.New("sink write failed")

const lockStripes = 64

// Writer appends one delimiter-separated line per call to
// <prefix>_<category><ext>. Files are created on first write.
type Writer struct {
	format Format
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

func NewWriter(format Format, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		format: format,
		logger: logger.With("component", "sink"),
	}
}

func (w *Writer) Format() Format { return w.format }

// Path returns the record file for prefix and category.
func (w *Writer) Path(prefix string, category Category) string {
	return prefix + "_" + string(category) + w.format.Extension
}

// Line joins fields with the format delimiter and terminates the record.
// Fields are written as-is; delimiters inside fields are not escaped.
func (w *Writer) Line(fields []string) string {
	return strings.Join(fields, w.format.Delimiter) + "\n"
}

// Append writes one record. Failures are logged and counted here; the
// returned error is informational and callers must not abort on it.
func (w *Writer) Append(prefix string, category Category, fields []string) error {
	path := w.Path(prefix, category)
	line := w.Line(fields)

	start := time.Now()
	err := w.appendLine(path, line)
	metrics.SinkWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SinkWrites.WithLabelValues(string(category), "error").Inc()
		w.logger.Error("Failed to write record", "path", path, "category", category, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrSinkWrite, path, err)
	}
	metrics.SinkWrites.WithLabelValues(string(category), "ok").Inc()
	return nil
}

func (w *Writer) appendLine(path, line string) error {
	mu := w.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return mkErr
		}
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return err
	}

	// A single write on an O_APPEND descriptor keeps the line contiguous.
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) lockFor(path string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(path))
	return &w.locks[h.Sum32()%lockStripes]
}
