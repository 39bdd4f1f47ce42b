// Package record persists the raw audio of finished sessions. Each dump is
// one file of 16-bit little-endian mono PCM named after the session's date,
// user, and time, so operators can replay exactly what a worker heard.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Patterns for the "<date>_<user>_<time>.pcm" dump file name, e.g.
// "2026-08-24_yc7764_13-05-07-123.pcm". %f is registered as the
// sub-second specifier below.
const (
	datePattern = "%Y-%m-%d"
	timePattern = "%H-%M-%S-%f"
)

// Recorder is a side-effect sink for per-session PCM dumps.
type Recorder interface {
	// Save writes the session's PCM buffer and returns the file path it was
	// written to. Implementations that discard the data return "" and nil.
	Save(username string, pcm []byte) (string, error)
}

// Discard is a Recorder that drops everything. Used when save_pcm is off.
type Discard struct{}

func (Discard) Save(string, []byte) (string, error) { return "", nil }

// FileRecorder writes one PCM file per session under Dir.
type FileRecorder struct {
	dir  string
	date *strftime.Strftime
	tod  *strftime.Strftime

	// now is replaceable in tests.
	now func() time.Time
}

// NewFileRecorder creates dir if needed and returns a FileRecorder writing
// into it.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("record: pcm path must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create pcm directory: %w", err)
	}
	date, err := strftime.New(datePattern)
	if err != nil {
		return nil, fmt.Errorf("record: compile date pattern: %w", err)
	}
	tod, err := strftime.New(timePattern, strftime.WithMilliseconds('f'))
	if err != nil {
		return nil, fmt.Errorf("record: compile time pattern: %w", err)
	}
	return &FileRecorder{dir: dir, date: date, tod: tod, now: time.Now}, nil
}

// Save writes pcm to <dir>/<date>_<user>_<time>.pcm. An empty buffer still
// produces a (zero-length) file so that every session leaves a trace.
func (r *FileRecorder) Save(username string, pcm []byte) (string, error) {
	now := r.now()
	name := fmt.Sprintf("%s_%s_%s.pcm",
		r.date.FormatString(now),
		sanitize(username),
		r.tod.FormatString(now),
	)
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, pcm, 0o644); err != nil {
		return "", fmt.Errorf("record: write %q: %w", path, err)
	}
	return path, nil
}

// sanitize keeps usernames from escaping the dump directory or producing
// unopenable file names.
func sanitize(username string) string {
	if username == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, username)
}
