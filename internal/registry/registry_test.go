//go:build unix

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/process"
	"github.com/nerrad567/droidpanel-core/internal/supervisor"
)

func sleeper(key string, spawns *atomic.Int32) supervisor.Config {
	return supervisor.Config{
		Key: key,
		Command: func(string) process.Command {
			if spawns != nil {
				spawns.Add(1)
			}
			return process.Command{
				Binary:          "/bin/sh",
				Args:            []string{"-c", "sleep 60"},
				GracefulTimeout: 300 * time.Millisecond,
			}
		},
	}
}

func newTestRegistry(t *testing.T, pub events.Publisher) *Registry {
	t.Helper()
	r := New(context.Background(), "test", pub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	r := newTestRegistry(t, nil)
	var spawns atomic.Int32

	if _, err := r.Start(context.Background(), sleeper("dev1", &spawns)); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	waitFor(t, "first spawn", func() bool { return spawns.Load() == 1 })

	_, err := r.Start(context.Background(), sleeper("dev1", &spawns))
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := spawns.Load(); got != 1 {
		t.Errorf("spawns = %d, want 1", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestStart_ConcurrentAdmission(t *testing.T) {
	r := newTestRegistry(t, nil)
	var spawns atomic.Int32

	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Start(context.Background(), sleeper("same", &spawns))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || conflicts.Load() != 9 {
		t.Errorf("ok=%d conflicts=%d, want 1 and 9", ok.Load(), conflicts.Load())
	}
	waitFor(t, "spawn", func() bool { return spawns.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", spawns.Load())
	}
}

func TestStop_TerminatesAndIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)

	if _, err := r.Start(context.Background(), sleeper("a", nil)); err != nil {
		t.Fatalf("Start(a) error: %v", err)
	}
	if _, err := r.Start(context.Background(), sleeper("b", nil)); err != nil {
		t.Fatalf("Start(b) error: %v", err)
	}
	waitFor(t, "pid", func() bool { return r.Query("a").PID != 0 })
	pid := r.Query("a").PID

	if got := r.Stop("a"); got != Stopped {
		t.Errorf("Stop(a) = %q, want %q", got, Stopped)
	}
	if st := r.Query("a"); st.Active {
		t.Errorf("Query(a).Active = true after Stop")
	}
	waitFor(t, "process exit", func() bool { return !process.Alive(pid) })

	if got := r.Stop("a"); got != NotRunning {
		t.Errorf("second Stop(a) = %q, want %q", got, NotRunning)
	}
	if got := r.Stop("never"); got != NotRunning {
		t.Errorf("Stop(never) = %q, want %q", got, NotRunning)
	}
	if st := r.Query("b"); !st.Active {
		t.Error("stopping a affected b")
	}
}

func TestStart_AfterStopSameKey(t *testing.T) {
	r := newTestRegistry(t, nil)
	if _, err := r.Start(context.Background(), sleeper("k", nil)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	r.Stop("k")
	if _, err := r.Start(context.Background(), sleeper("k", nil)); err != nil {
		t.Errorf("Start() after Stop error: %v", err)
	}
}

func TestDrainOutput(t *testing.T) {
	r := newTestRegistry(t, nil)

	lines, next := r.DrainOutput("unknown", 0)
	if len(lines) != 0 || next != 0 {
		t.Errorf("DrainOutput(unknown) = (%v, %d), want ([], 0)", lines, next)
	}

	cfg := supervisor.Config{
		Key: "echo",
		Command: func(string) process.Command {
			return process.Command{
				Binary: "/bin/sh",
				Args:   []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done; sleep 60"},
			}
		},
	}
	if _, err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "five lines", func() bool {
		_, n := r.DrainOutput("echo", 0)
		return n == 5
	})

	lines, next = r.DrainOutput("echo", 0)
	if len(lines) != 5 || next != 5 {
		t.Fatalf("DrainOutput(0) = (%d lines, %d), want (5, 5)", len(lines), next)
	}
	for i, l := range lines {
		if want := fmt.Sprintf("line%d", i+1); l != want {
			t.Errorf("line %d = %q, want %q", i, l, want)
		}
	}
	lines, next = r.DrainOutput("echo", 5)
	if len(lines) != 0 || next != 5 {
		t.Errorf("DrainOutput(5) = (%v, %d), want ([], 5)", lines, next)
	}
}

func TestOneShot_RemovesItself(t *testing.T) {
	var mu sync.Mutex
	var exits []events.Event
	pub := events.PublisherFunc(func(ev events.Event) {
		if ev.Kind == events.KindExit {
			mu.Lock()
			exits = append(exits, ev)
			mu.Unlock()
		}
	})
	r := newTestRegistry(t, pub)

	cfg := supervisor.Config{
		Key:          "run-1",
		Kind:         supervisor.KindOneShot,
		PollInterval: 10 * time.Millisecond,
		Command: func(string) process.Command {
			return process.Command{Binary: "/bin/sh", Args: []string{"-c", "echo done"}}
		},
	}
	if _, err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "self-removal", func() bool { return r.Len() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(exits))
	}
	if exits[0].Source != "test" || exits[0].Key != "run-1" || exits[0].Status != supervisor.ExitCompleted {
		t.Errorf("exit event = %+v", exits[0])
	}
}

func TestOneShot_SpawnFailureReleasesKey(t *testing.T) {
	r := newTestRegistry(t, nil)
	cfg := supervisor.Config{
		Key:  "run-bad",
		Kind: supervisor.KindOneShot,
		Command: func(string) process.Command {
			return process.Command{Binary: "/nonexistent/maestro"}
		},
	}
	_, err := r.Start(context.Background(), cfg)
	if !errors.Is(err, process.ErrSpawn) {
		t.Fatalf("Start() error = %v, want ErrSpawn", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after failed spawn, want 0", r.Len())
	}
}

func TestStart_PanicBecomesInternalError(t *testing.T) {
	r := newTestRegistry(t, nil)
	cfg := supervisor.Config{
		Key:  "boom",
		Kind: supervisor.KindOneShot,
		Command: func(string) process.Command {
			panic("bad command builder")
		},
	}
	_, err := r.Start(context.Background(), cfg)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Start() error = %v, want ErrInternal", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after panic, want 0", r.Len())
	}

	// The registry keeps working.
	if _, err := r.Start(context.Background(), sleeper("ok", nil)); err != nil {
		t.Errorf("Start() after panic error: %v", err)
	}
}

func TestShutdown_TerminatesAll(t *testing.T) {
	r := New(context.Background(), "test", nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Start(context.Background(), sleeper(fmt.Sprintf("u%d", i), nil)); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	}
	var pids []int
	waitFor(t, "pids", func() bool {
		pids = pids[:0]
		for _, st := range r.List() {
			if st.PID == 0 {
				return false
			}
			pids = append(pids, st.PID)
		}
		return len(pids) == 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	for _, pid := range pids {
		if process.Alive(pid) {
			t.Errorf("pid %d alive after Shutdown", pid)
		}
	}
	if _, err := r.Start(context.Background(), sleeper("late", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Shutdown = %v, want ErrClosed", err)
	}
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, nil)
	for _, k := range []string{"b", "a", "c"} {
		if _, err := r.Start(context.Background(), sleeper(k, nil)); err != nil {
			t.Fatalf("Start(%s) error: %v", k, err)
		}
	}
	list := r.List()
	if len(list) != 3 || list[0].Key != "a" || list[2].Key != "c" {
		t.Errorf("List() = %+v, want sorted a,b,c", list)
	}
}
