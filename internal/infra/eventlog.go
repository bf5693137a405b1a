package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rheahq/rhea/internal/domain"
)

const (
	eventBusFileName = "events.jsonl"
	daemonLogsFolder = "daemons"
	followInterval   = 500 * time.Millisecond
)

// JSONLEventLog implements domain.EventLog. Each entry is one
// newline-terminated JSON document written in a single call, to both the
// shared bus file and a per-daemon mirror.
type JSONLEventLog struct {
	logDir string

	mu  sync.Mutex
	bus *os.File
}

// NewJSONLEventLog creates an event log writing under workRoot/logs.
func NewJSONLEventLog(workRoot string) *JSONLEventLog {
	return NewJSONLEventLogWithDir(filepath.Join(workRoot, "logs"))
}

// NewJSONLEventLogWithDir creates an event log at a specific directory (for testing).
func NewJSONLEventLogWithDir(logDir string) *JSONLEventLog {
	return &JSONLEventLog{logDir: logDir}
}

// Path returns the shared bus file path.
func (l *JSONLEventLog) Path() string {
	return filepath.Join(l.logDir, eventBusFileName)
}

// Record appends the entry to the shared bus and the per-daemon mirror.
func (l *JSONLEventLog) Record(e domain.EventEntry) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bus == nil {
		if err := os.MkdirAll(l.logDir, 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open event bus: %w", err)
		}
		l.bus = f
	}
	if _, err := l.bus.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	// Per-daemon mirror; best effort, same entry shape.
	if e.Daemon != "" {
		mirrorDir := filepath.Join(l.logDir, daemonLogsFolder)
		if err := os.MkdirAll(mirrorDir, 0755); err == nil {
			mirror := filepath.Join(mirrorDir, strings.ToLower(e.Daemon)+".jsonl")
			if f, err := os.OpenFile(mirror, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
				_, _ = f.Write(line)
				_ = f.Close()
			}
		}
	}
	return nil
}

// Close releases the bus file handle.
func (l *JSONLEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bus == nil {
		return nil
	}
	err := l.bus.Close()
	l.bus = nil
	return err
}

// Entries reads the shared bus from the start in file order. Unparseable
// lines are skipped, never fatal.
func (l *JSONLEventLog) Entries(filter domain.EventFilter) ([]domain.EventEntry, error) {
	f, err := os.Open(l.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []domain.EventEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if e, ok := parseEventLine(scanner.Bytes(), filter); ok {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

// Follow polls the file for new lines until the context is canceled,
// delivering only entries appended after the call; existing entries come
// from Entries. A rotated or truncated file restarts from its beginning.
func (l *JSONLEventLog) Follow(ctx context.Context, filter domain.EventFilter, fn func(domain.EventEntry)) error {
	offset := l.currentSize()
	for {
		n, err := l.drainFrom(offset, filter, fn)
		if err != nil {
			return err
		}
		if n < offset {
			// File shrank (rotation); start over.
			offset = 0
		} else {
			offset = n
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(followInterval):
		}
	}
}

// currentSize reports the bus file size, zero when it does not exist yet.
func (l *JSONLEventLog) currentSize() int64 {
	info, err := os.Stat(l.Path())
	if err != nil {
		return 0
	}
	return info.Size()
}

// drainFrom reads entries starting at offset and returns the new offset.
func (l *JSONLEventLog) drainFrom(offset int64, filter domain.EventFilter, fn func(domain.EventEntry)) (int64, error) {
	f, err := os.Open(l.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		return info.Size(), nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(f)
	pos := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line: leave it for the next poll.
			return pos, nil
		}
		pos += int64(len(line))
		if e, ok := parseEventLine(line, filter); ok {
			fn(e)
		}
	}
}

// parseEventLine decodes one bus line and applies the substring filter.
func parseEventLine(line []byte, filter domain.EventFilter) (domain.EventEntry, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return domain.EventEntry{}, false
	}
	var e domain.EventEntry
	if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
		return domain.EventEntry{}, false
	}
	if filter.Daemon != "" && !strings.Contains(strings.ToLower(e.Daemon), strings.ToLower(filter.Daemon)) {
		return domain.EventEntry{}, false
	}
	if filter.Action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(filter.Action)) {
		return domain.EventEntry{}, false
	}
	return e, true
}

// Ensure JSONLEventLog implements domain.EventLog.
var _ domain.EventLog = (*JSONLEventLog)(nil)
