package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	disabled = false
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off all logging
func Disable() {
	disabled = true
}

// Enable turns logging back on
func Enable() {
	disabled = false
}

// Info logs an info message
func Info(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Error logs an error message
func Error(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Warn logs a warning message
func Warn(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Debug logs a debug message (same as Info when not disabled)
func Debug(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Logger is a simple logger that can be embedded in structs
type Logger struct{}

// WithContext creates a new Logger (context is ignored, for API compatibility)
func WithContext(ctx context.Context) Logger {
	return Logger{}
}

// Info logs an info message
func (l Logger) Info(v ...any) {
	Info(v...)
}

// Infof logs a formatted info message
func (l Logger) Infof(format string, v ...any) {
	Infof(format, v...)
}

// Error logs an error message
func (l Logger) Error(v ...any) {
	Error(v...)
}

// Errorf logs a formatted error message
func (l Logger) Errorf(format string, v ...any) {
	Errorf(format, v...)
}

// Dumper writes one JSON file per observability event into its dir, or logs a
// truncated JSON line when dir is empty. It is the implementation of spec.md
// §9's "file-less mode logs truncated JSON lines". No command constructs a
// Dumper, so PROXY_DEBUG_DUMP_DIR is loaded into config but has no effect.
type Dumper struct {
	dir       string
	truncate  int
	seq       uint64
	enabled   bool
	fileCount atomic.Int64
}

// DefaultTruncateBytes is the default truncation limit for file-less dumps.
const DefaultTruncateBytes = 8192

// NewDumper creates a Dumper. dir == "" switches to the file-less mode.
func NewDumper(dir string, truncateBytes int) *Dumper {
	if truncateBytes <= 0 {
		truncateBytes = DefaultTruncateBytes
	}
	return &Dumper{dir: dir, truncate: truncateBytes, enabled: true}
}

// Disable silences the dumper entirely.
func (d *Dumper) Disable() {
	if d != nil {
		d.enabled = false
	}
}

// Dump records one observability event (e.g. "request", "guard_block").
func (d *Dumper) Dump(event string, payload any) {
	if d == nil || !d.enabled {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		Errorf("dump %s: marshal failed: %v", event, err)
		return
	}

	if d.dir == "" {
		if len(raw) > d.truncate {
			raw = append(raw[:d.truncate], []byte("...<truncated>")...)
		}
		Debugf("[dump:%s] %s", event, string(raw))
		return
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		Errorf("dump %s: mkdir failed: %v", event, err)
		return
	}
	n := d.fileCount.Add(1)
	name := fmt.Sprintf("%d-%s-%d-%s.json", time.Now().UnixMilli(), event, n, uuid.NewString()[:8])
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		Errorf("dump %s: write failed: %v", event, err)
	}
}
