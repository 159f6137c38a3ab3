package output

import "sync"

// Buffer limits.
const (
	// DefaultHighWater is the line count above which eviction runs.
	DefaultHighWater = 10000

	// DefaultEvictBatch is how many of the oldest lines one eviction drops.
	DefaultEvictBatch = 1000
)

// Buffer is a bounded, ordered, append-only sequence of lines.
//
// Every line has an absolute offset that never changes. Eviction advances
// the base offset; readers asking for offsets below the base silently skip
// the evicted lines.
//
// Thread Safety: one writer and any number of readers may use a Buffer
// concurrently.
type Buffer struct {
	mu        sync.RWMutex
	lines     []string
	base      int
	highWater int
	batch     int
}

// NewBuffer returns a Buffer with the default limits.
func NewBuffer() *Buffer {
	return NewBufferSize(DefaultHighWater, DefaultEvictBatch)
}

// NewBufferSize returns a Buffer with custom limits.
func NewBufferSize(highWater, batch int) *Buffer {
	if highWater <= 0 {
		highWater = DefaultHighWater
	}
	if batch <= 0 || batch > highWater {
		batch = DefaultEvictBatch
		if batch > highWater {
			batch = highWater
		}
	}
	return &Buffer{highWater: highWater, batch: batch}
}

// Append adds a line, evicting the oldest batch once the high-water mark
// is exceeded.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.highWater {
		n := copy(b.lines, b.lines[b.batch:])
		clear(b.lines[n:])
		b.lines = b.lines[:n]
		b.base += b.batch
	}
}

// Read returns the lines from offset since to the end, plus the offset to
// pass on the next call. It never mutates the buffer.
func (b *Buffer) Read(since int) ([]string, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	end := b.base + len(b.lines)
	if since < b.base {
		since = b.base
	}
	if since >= end {
		return []string{}, end
	}
	out := make([]string, end-since)
	copy(out, b.lines[since-b.base:])
	return out, end
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Base returns the offset of the oldest retained line.
func (b *Buffer) Base() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.base
}

// End returns the offset one past the newest line.
func (b *Buffer) End() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.base + len(b.lines)
}
