package influxdb

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
)

// DefaultOutputInterval is how often per-unit line counts are written.
const DefaultOutputInterval = 10 * time.Second

// PointSink is the write surface Telemetry needs. *Client implements it.
type PointSink interface {
	WriteSpawn(registry, key string, pid int, at time.Time)
	WriteRestart(registry, key, reason string, at time.Time)
	WriteExit(registry, key, status string, exitCode *int, duration time.Duration, at time.Time)
	WriteOutputLines(registry, key string, lines int, at time.Time)
}

type unitKey struct {
	registry string
	key      string
}

// Telemetry turns supervision events into InfluxDB points. It is an
// events.Publisher and never blocks the publishing relay.
//
// Spawn, restart and exit events are written as they arrive. Line events
// are only counted; Run writes the counts every interval.
type Telemetry struct {
	sink PointSink

	mu      sync.Mutex
	lines   map[unitKey]int
	spawned map[unitKey]time.Time
}

// NewTelemetry creates a Telemetry writing to sink.
func NewTelemetry(sink PointSink) *Telemetry {
	return &Telemetry{
		sink:    sink,
		lines:   make(map[unitKey]int),
		spawned: make(map[unitKey]time.Time),
	}
}

// Publish implements events.Publisher.
func (t *Telemetry) Publish(ev events.Event) {
	k := unitKey{ev.Source, ev.Key}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Kind {
	case events.KindLine:
		t.mu.Lock()
		t.lines[k]++
		t.mu.Unlock()
	case events.KindSpawn:
		t.mu.Lock()
		if _, ok := t.spawned[k]; !ok {
			t.spawned[k] = at
		}
		t.mu.Unlock()
		t.sink.WriteSpawn(ev.Source, ev.Key, ev.PID, at)
	case events.KindRestart:
		t.sink.WriteRestart(ev.Source, ev.Key, ev.Reason, at)
	case events.KindExit:
		t.mu.Lock()
		started, ok := t.spawned[k]
		delete(t.spawned, k)
		t.mu.Unlock()
		var d time.Duration
		if ok {
			d = at.Sub(started)
		}
		t.sink.WriteExit(ev.Source, ev.Key, ev.Status, ev.ExitCode, d, at)
	case events.KindState:
		if ev.State == "stopped" {
			t.mu.Lock()
			delete(t.spawned, k)
			t.mu.Unlock()
		}
	}
}

// FlushLines writes and resets the per-unit line counts.
func (t *Telemetry) FlushLines(at time.Time) {
	t.mu.Lock()
	counts := t.lines
	t.lines = make(map[unitKey]int, len(counts))
	t.mu.Unlock()

	for k, n := range counts {
		t.sink.WriteOutputLines(k.registry, k.key, n, at)
	}
}

// Run flushes line counts every interval until ctx is cancelled, then
// flushes once more.
func (t *Telemetry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOutputInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.FlushLines(time.Now())
			return
		case now := <-ticker.C:
			t.FlushLines(now)
		}
	}
}
