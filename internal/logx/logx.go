// Package logx provides the server's file logging sink: a bounded queue in
// front of a daily-rotated log file with fixed retention.
//
// All goroutines publish rendered log records to the queue; a single listener
// goroutine owns the file handle, so session handlers and recognition workers
// never block on disk I/O. If the queue is ever full the record is dropped
// and counted rather than stalling the audio path.
package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/strftime"
)

// queueDepth bounds the number of in-flight log records.
const queueDepth = 4096

// datePattern produces the daily suffix of rotated files, e.g.
// "server.log.2026-08-24".
const datePattern = "%Y-%m-%d"

// Listener drains the log queue into a daily-rotated file. Create one with
// [NewListener], hand [Listener.Writer] to a slog handler, and Close it on
// shutdown to flush the queue.
type Listener struct {
	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Int64

	mu        sync.Mutex
	closeOnce sync.Once

	basePath  string
	retention time.Duration
	pattern   *strftime.Strftime

	f       *os.File
	curName string
}

// NewListener opens (or creates) the log file for the current day next to
// basePath and starts the drain goroutine. retentionDays controls how long
// rotated files are kept; files older than that are removed at rotation time.
func NewListener(basePath string, retentionDays int) (*Listener, error) {
	if basePath == "" {
		return nil, fmt.Errorf("logx: log path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
		return nil, fmt.Errorf("logx: create log directory: %w", err)
	}
	p, err := strftime.New(datePattern)
	if err != nil {
		return nil, fmt.Errorf("logx: compile date pattern: %w", err)
	}

	l := &Listener{
		queue:     make(chan []byte, queueDepth),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		basePath:  basePath,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		pattern:   p,
	}
	if err := l.rotate(time.Now()); err != nil {
		return nil, err
	}

	go l.drain()
	return l, nil
}

// Writer returns an io.Writer that enqueues each Write as one log record.
// Safe for concurrent use; intended as the target of a slog handler.
func (l *Listener) Writer() *QueueWriter { return &QueueWriter{l: l} }

// Dropped reports how many records were discarded because the queue was full.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Close stops accepting records, drains what is already queued, and closes
// the file. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		<-l.stopped
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *Listener) enqueue(p []byte) {
	// Copy: slog handlers reuse their buffers after Write returns.
	rec := make([]byte, len(p))
	copy(rec, p)
	select {
	case l.queue <- rec:
	default:
		l.dropped.Add(1)
	}
}

func (l *Listener) drain() {
	defer close(l.stopped)
	for {
		select {
		case rec := <-l.queue:
			l.write(rec)
		case <-l.done:
			// Flush whatever is left, then stop.
			for {
				select {
				case rec := <-l.queue:
					l.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Listener) write(rec []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if name := l.fileName(now); name != l.curName {
		if err := l.rotateLocked(now); err != nil {
			fmt.Fprintf(os.Stderr, "logx: rotate: %v\n", err)
			return
		}
	}
	if l.f == nil {
		return
	}
	if _, err := l.f.Write(rec); err != nil {
		fmt.Fprintf(os.Stderr, "logx: write: %v\n", err)
	}
}

func (l *Listener) fileName(now time.Time) string {
	return l.basePath + "." + l.pattern.FormatString(now)
}

func (l *Listener) rotate(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked(now)
}

func (l *Listener) rotateLocked(now time.Time) error {
	name := l.fileName(now)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logx: open %q: %w", name, err)
	}
	if l.f != nil {
		l.f.Close()
	}
	l.f = f
	l.curName = name

	l.pruneLocked(now)
	return nil
}

// pruneLocked removes rotated siblings older than the retention window.
func (l *Listener) pruneLocked(now time.Time) {
	if l.retention <= 0 {
		return
	}
	matches, err := filepath.Glob(l.basePath + ".*")
	if err != nil {
		return
	}
	cutoff := now.Add(-l.retention)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(m)
		}
	}
}

// QueueWriter adapts the listener queue to io.Writer.
type QueueWriter struct {
	l *Listener
}

// Write enqueues p as a single record. It never blocks and never fails.
func (w *QueueWriter) Write(p []byte) (int, error) {
	w.l.enqueue(p)
	return len(p), nil
}
