package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrMirrorClosed is returned by WriteLine after Close.
var ErrMirrorClosed = errors.New("output: mirror closed")

// Mirror appends lines to a file that is opened lazily on the first write,
// once per mirror. A Mirror belongs to one supervision unit and is shared by
// every relay of that unit across restarts.
type Mirror struct {
	path string

	mu      sync.Mutex
	f       *os.File
	openErr error
	opened  bool
	closed  bool
}

// NewMirror returns a Mirror for path, or nil when path is empty.
// A nil *Mirror is valid and discards writes.
func NewMirror(path string) *Mirror {
	if path == "" {
		return nil
	}
	return &Mirror{path: path}
}

// Path returns the mirror file path ("" for a nil Mirror).
func (m *Mirror) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

// WriteLine appends line and a newline. An open failure is reported once
// and sticks; the file is never reopened.
func (m *Mirror) WriteLine(line string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}
	if !m.opened {
		m.opened = true
		m.f, m.openErr = openAppend(m.path)
		if m.openErr != nil {
			return m.openErr
		}
	}
	if m.f == nil {
		return nil
	}
	if _, err := m.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing mirror %s: %w", m.path, err)
	}
	return nil
}

// Close closes the file. Safe to call more than once.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating mirror directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // operator-chosen path
	if err != nil {
		return nil, fmt.Errorf("opening mirror %s: %w", path, err)
	}
	return f, nil
}
