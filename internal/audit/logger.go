// Package audit keeps the append-only trail of executed commands.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hassbridge/internal/domain"
)

// TimeLayout is the timestamp format of each audit line.
const TimeLayout = "2006-01-02 15:04:05"

// FileLogger appends one "[timestamp] text" line per record. The file is
// opened and closed on every write so external rotation needs no signal.
type FileLogger struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewFileLogger(path string, logger *slog.Logger) *FileLogger {
	return &FileLogger{path: path, logger: logger}
}

func (l *FileLogger) Path() string { return l.path }

// Append writes rec in local time. A zero timestamp means now.
func (l *FileLogger) Append(ctx context.Context, rec domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := FormatLine(ts, rec.Text)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	l.logger.Debug("audit record written", "path", l.path, "text", rec.Text)
	return nil
}

// FormatLine renders one audit line. Line breaks inside text are flattened
// so every record stays on one line.
func FormatLine(ts time.Time, text string) string {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	return "[" + ts.Local().Format(TimeLayout) + "] " + text + "\n"
}

// CheckWritable makes sure the audit file can be created or appended to,
// without writing a record.
func CheckWritable(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit log not writable: %w", err)
	}
	return f.Close()
}
