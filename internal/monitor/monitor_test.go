package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/process"
)

// scripted returns its resolutions in order, repeating the last one.
type scripted struct {
	mu    sync.Mutex
	seq   []Resolution
	errs  []error
	calls int
}

func (s *scripted) Resolve(_ context.Context, _ string) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	return s.seq[i], err
}

type fakeHandle struct {
	status atomic.Value
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{}
	h.status.Store(process.Status{State: process.StateRunning})
	return h
}

func (h *fakeHandle) Poll() process.Status { return h.status.Load().(process.Status) }

func (h *fakeHandle) exit(code int) {
	h.status.Store(process.Status{State: process.StateExited, ExitCode: code})
}

func TestCheck(t *testing.T) {
	running := newFakeHandle()
	exited := newFakeHandle()
	exited.exit(1)

	tests := []struct {
		name       string
		cfg        Config
		probe      Probe
		wantV      Verdict
		wantReason Reason
	}{
		{
			name:       "stop flag overrides everything",
			cfg:        Config{},
			probe:      Probe{Stopped: func() bool { return true }, Handle: exited},
			wantV:      Terminate,
			wantReason: ReasonStopRequested,
		},
		{
			name:       "no handle restarts",
			cfg:        Config{},
			probe:      Probe{},
			wantV:      Restart,
			wantReason: ReasonExited,
		},
		{
			name:       "exited handle restarts",
			cfg:        Config{},
			probe:      Probe{Handle: exited},
			wantV:      Restart,
			wantReason: ReasonExited,
		},
		{
			name:       "one-shot exit completes",
			cfg:        Config{OneShot: true},
			probe:      Probe{Handle: exited},
			wantV:      Terminate,
			wantReason: ReasonCompleted,
		},
		{
			name:  "filterless running is no-action",
			cfg:   Config{},
			probe: Probe{Handle: running},
			wantV: NoAction,
		},
		{
			name: "target missing restarts",
			cfg: Config{Target: "com.example.app", Resolver: &scripted{
				seq: []Resolution{{}},
			}},
			probe:      Probe{Handle: running, Identity: "1234"},
			wantV:      Restart,
			wantReason: ReasonTargetMissing,
		},
		{
			name: "stale target restarts",
			cfg: Config{Target: "com.example.app", Resolver: &scripted{
				seq: []Resolution{{Identity: "1234", Stale: true}},
			}},
			probe:      Probe{Handle: running, Identity: "1234"},
			wantV:      Restart,
			wantReason: ReasonTargetStale,
		},
		{
			name: "identity change restarts",
			cfg: Config{Target: "com.example.app", Resolver: &scripted{
				seq: []Resolution{{Identity: "5678"}},
			}},
			probe:      Probe{Handle: running, Identity: "1234"},
			wantV:      Restart,
			wantReason: ReasonIdentityChanged,
		},
		{
			name: "resolver error counts as absent",
			cfg: Config{Target: "com.example.app", Resolver: &scripted{
				seq:  []Resolution{{Identity: "1234"}},
				errs: []error{errors.New("adb: device offline")},
			}},
			probe:      Probe{Handle: running, Identity: "1234"},
			wantV:      Restart,
			wantReason: ReasonTargetMissing,
		},
		{
			name: "unchanged identity is no-action",
			cfg: Config{Target: "com.example.app", Resolver: &scripted{
				seq: []Resolution{{Identity: "1234"}},
			}},
			probe: Probe{Handle: running, Identity: "1234"},
			wantV: NoAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.cfg)
			d := m.Check(context.Background(), tt.probe)
			if d.Verdict != tt.wantV {
				t.Errorf("Verdict = %v, want %v", d.Verdict, tt.wantV)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestCheck_IdentitySequence(t *testing.T) {
	res := &scripted{seq: []Resolution{
		{Identity: "A"}, {Identity: "A"}, {Identity: "B"}, {Identity: "B"},
	}}
	m := New(Config{Target: "pkg", Resolver: res})
	h := newFakeHandle()

	// Sample 1: resolve before the first spawn.
	identity := m.Resolve(context.Background()).Identity
	if identity != "A" {
		t.Fatalf("first Resolve = %q, want A", identity)
	}

	restarts := 0
	for sample := 2; sample <= 3; sample++ {
		d := m.Check(context.Background(), Probe{Handle: h, Identity: identity})
		if d.Verdict == Restart {
			restarts++
			if sample != 3 {
				t.Errorf("restart at sample %d, want sample 3", sample)
			}
			// Sample 4: the supervisor re-resolves before respawning.
			identity = m.Resolve(context.Background()).Identity
		}
	}
	if restarts != 1 {
		t.Errorf("restarts = %d, want 1", restarts)
	}
	if identity != "B" {
		t.Errorf("respawn identity = %q, want B", identity)
	}
}

func TestWatch_ReturnsOnExit(t *testing.T) {
	m := New(Config{Interval: time.Hour, OneShot: true})
	h := newFakeHandle()
	exited := make(chan struct{})

	done := make(chan Decision, 1)
	go func() {
		done <- m.Watch(context.Background(), Probe{Handle: h, Exited: exited})
	}()

	h.exit(0)
	close(exited)

	select {
	case d := <-done:
		if d.Verdict != Terminate || d.Reason != ReasonCompleted {
			t.Errorf("decision = %+v, want terminate/completed", d)
		}
		if d.Status.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", d.Status.ExitCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not wake on exit")
	}
}

func TestWatch_Cancel(t *testing.T) {
	m := New(Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Decision, 1)
	go func() {
		done <- m.Watch(ctx, Probe{Handle: newFakeHandle()})
	}()
	cancel()

	select {
	case d := <-done:
		if d.Verdict != Terminate || d.Reason != ReasonStopRequested {
			t.Errorf("decision = %+v, want terminate/stop-requested", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_TicksUntilVerdict(t *testing.T) {
	res := &scripted{seq: []Resolution{{Identity: "1"}, {Identity: "1"}, {Identity: "2"}}}
	m := New(Config{Target: "pkg", Resolver: res, Interval: 10 * time.Millisecond})

	d := m.Watch(context.Background(), Probe{Handle: newFakeHandle(), Identity: "1"})
	if d.Verdict != Restart || d.Reason != ReasonIdentityChanged || d.Identity != "2" {
		t.Errorf("decision = %+v, want restart/identity-changed to 2", d)
	}
	if res.calls != 3 {
		t.Errorf("resolver calls = %d, want 3", res.calls)
	}
}

func TestVerdictString(t *testing.T) {
	if NoAction.String() != "no-action" || Restart.String() != "restart" || Terminate.String() != "terminate" {
		t.Error("unexpected Verdict strings")
	}
}
