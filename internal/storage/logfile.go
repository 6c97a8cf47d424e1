package storage

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// LogFile is an append-only, line-oriented UTF-8 text file. Appends are
// serialized so concurrent writers never interleave lines.
type LogFile struct {
	path string
	mu   sync.Mutex
}

// NewLogFile returns a LogFile for path. The file is created on first append.
func NewLogFile(path string) *LogFile {
	return &LogFile{path: path}
}

// Path returns the file path.
func (l *LogFile) Path() string {
	return l.path
}

// Append writes line with trailing whitespace removed and a single newline added.
func (l *LogFile) Append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G302 G304 -- campaign-owned log
	if err != nil {
		return fmt.Errorf("opening %s: %w", l.path, err)
	}
	if _, err := f.WriteString(strings.TrimRight(line, " \t\r\n") + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to %s: %w", l.path, err)
	}
	return f.Close()
}

// Appendf formats according to a format specifier and appends the result.
func (l *LogFile) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}

// Lines returns the file content split into lines, without trailing newline.
func (l *LogFile) Lines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
