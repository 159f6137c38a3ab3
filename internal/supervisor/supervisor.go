package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/monitor"
	"github.com/nerrad567/droidpanel-core/internal/output"
	"github.com/nerrad567/droidpanel-core/internal/process"
)

// Phase is the supervisor state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseResolving  Phase = "resolving"
	PhaseRunning    Phase = "running"
	PhaseRestarting Phase = "restarting"
	PhaseStopped    Phase = "stopped"
)

// TargetState describes the identity filter, distinct from liveness.
type TargetState string

const (
	TargetUnfiltered TargetState = "unfiltered"
	TargetSearching  TargetState = "searching"
	TargetFound      TargetState = "found"
	TargetNotFound   TargetState = "not-found"
)

// Exit describes how a one-shot unit ended.
type Exit struct {
	Status   string         `json:"status"`
	ExitCode int            `json:"exit_code"`
	Reason   monitor.Reason `json:"reason"`
	At       time.Time      `json:"at"`
}

// Exit statuses.
const (
	ExitCompleted = "completed"
	ExitFailed    = "failed"
	ExitStopped   = "stopped"
	ExitError     = "error"
)

// Snapshot is a point-in-time view of a supervisor.
type Snapshot struct {
	Key         string      `json:"key"`
	Kind        Kind        `json:"kind"`
	Phase       Phase       `json:"phase"`
	Target      string      `json:"target,omitempty"`
	TargetState TargetState `json:"target_state"`
	PID         int         `json:"pid,omitempty"`
	Identity    string      `json:"identity,omitempty"`
	Spawns      int         `json:"spawns"`
	Restarts    int         `json:"restarts"`
	StartedAt   time.Time   `json:"started_at"`
	SpawnedAt   time.Time   `json:"spawned_at,omitempty"`
	MirrorFile  string      `json:"mirror_file,omitempty"`
	ReadyValue  string      `json:"ready_value,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	Exit        *Exit       `json:"exit,omitempty"`
}

// Uptime returns how long the current process has been running.
func (s Snapshot) Uptime() time.Duration {
	if s.SpawnedAt.IsZero() || s.Phase != PhaseRunning {
		return 0
	}
	return time.Since(s.SpawnedAt)
}

// instance is one spawned process plus its relays.
type instance struct {
	handle   *process.Handle
	identity string
	relays   sync.WaitGroup
	cancel   context.CancelFunc
}

// drain waits for the relays to reach EOF, then force-closes the pipes.
func (in *instance) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		in.relays.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		in.cancel()
		<-done
	}
	in.cancel()
	in.handle.Release()
}

// Supervisor runs one supervision unit.
//
// Thread Safety: Start, Stop, Snapshot and Done are safe for concurrent use.
// The restart loop is the only goroutine that spawns processes.
type Supervisor struct {
	cfg    Config
	mon    *monitor.Monitor
	buffer *output.Buffer
	mirror *output.Mirror
	pub    events.Publisher
	logger Logger

	started atomic.Bool
	stopped atomic.Bool

	readyOnce sync.Once
	readyCh   chan string

	finishOnce sync.Once
	done       chan struct{}

	mu          sync.Mutex
	cancel      context.CancelFunc
	phase       Phase
	targetState TargetState
	current     *instance
	spawns      int
	restarts    int
	startedAt   time.Time
	spawnedAt   time.Time
	readyValue  string
	lastErr     error
	exit        *Exit
}

// New validates cfg and creates an idle Supervisor.
func New(cfg Config) (*Supervisor, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	monCfg := monitor.Config{
		Interval: cfg.PollInterval,
		OneShot:  cfg.Kind == KindOneShot,
	}
	if cfg.Target != "" {
		monCfg.Target = cfg.Target
		monCfg.Resolver = cfg.Resolver
	}
	mon := monitor.New(monCfg)
	mon.SetLogger(cfg.Logger)

	buf := cfg.Buffer
	if buf == nil {
		buf = output.NewBuffer()
	}

	ts := TargetUnfiltered
	if cfg.Target != "" {
		ts = TargetSearching
	}

	return &Supervisor{
		cfg:         cfg,
		mon:         mon,
		buffer:      buf,
		mirror:      output.NewMirror(cfg.MirrorPath),
		pub:         cfg.Publisher,
		logger:      cfg.Logger,
		readyCh:     make(chan string, 1),
		done:        make(chan struct{}),
		phase:       PhaseIdle,
		targetState: ts,
	}, nil
}

// Key returns the unit key.
func (s *Supervisor) Key() string { return s.cfg.Key }

// Kind returns the unit kind.
func (s *Supervisor) Kind() Kind { return s.cfg.Kind }

// Buffer returns the unit's output buffer.
func (s *Supervisor) Buffer() *output.Buffer { return s.buffer }

// MirrorFile returns the mirror path, "" when not mirrored.
func (s *Supervisor) MirrorFile() string { return s.mirror.Path() }

// Done is closed when the unit reaches PhaseStopped.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Stopping reports whether Stop was called.
func (s *Supervisor) Stopping() bool { return s.stopped.Load() }

// Start runs the unit until Stop is called or ctx is cancelled.
//
// ctx bounds the unit's whole lifetime, not just the call. One-shot units
// and units with a ReadyPattern spawn synchronously and return the spawn
// error; other long-lived units return immediately and retry spawn
// failures in the background. With a ReadyPattern, Start returns the first
// match, or terminates the process and returns ErrReadyTimeout.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	if !s.started.CompareAndSwap(false, true) {
		if s.stopped.Load() {
			return "", ErrStopped
		}
		return "", ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.stopped.Load() {
		s.finish()
		return "", ErrStopped
	}

	if s.cfg.Header != "" {
		s.buffer.Append(s.cfg.Header)
	}
	s.setPhase(PhaseResolving)

	synchronous := s.cfg.Kind == KindOneShot || s.cfg.ReadyPattern != nil
	var first *instance
	if synchronous {
		identity := ""
		if s.mon.Filtered() {
			res := s.resolve(loopCtx)
			if !res.Found() {
				s.recordErr(ErrTargetNotFound)
				s.finish()
				return "", fmt.Errorf("%w: %s", ErrTargetNotFound, s.cfg.Target)
			}
			identity = res.Identity
		}
		in, err := s.spawn(loopCtx, identity)
		if err != nil {
			s.recordErr(err)
			s.finish()
			return "", err
		}
		first = in
	}

	if s.cfg.Kind == KindOneShot {
		go s.runOneShot(loopCtx, first)
	} else {
		go s.runLongLived(loopCtx, first)
	}

	if s.cfg.ReadyPattern == nil {
		return "", nil
	}
	return s.awaitReady(ctx)
}

func (s *Supervisor) awaitReady(ctx context.Context) (string, error) {
	timer := time.NewTimer(s.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case v := <-s.readyCh:
		return v, nil
	case <-timer.C:
		s.logger.Warn("ready signal not seen, terminating",
			"key", s.cfg.Key,
			"timeout", s.cfg.ReadyTimeout,
		)
		s.Stop()
		<-s.done
		return "", ErrReadyTimeout
	case <-s.done:
		// A match may have raced with the exit.
		select {
		case v := <-s.readyCh:
			return v, nil
		default:
		}
		return "", ErrNotReady
	case <-ctx.Done():
		s.Stop()
		<-s.done
		return "", ctx.Err()
	}
}

// Stop sets the stop flag, cancels the loop and terminates the current
// process. It does not wait for the loop to exit; use Done for that.
// Stop is idempotent.
func (s *Supervisor) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	if s.started.CompareAndSwap(false, true) {
		// Never started: nothing to tear down.
		s.finish()
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	in := s.current
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if in != nil {
		in.handle.Terminate()
	}
}

// Wait blocks until the unit is stopped or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state without blocking on the loop.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Key:         s.cfg.Key,
		Kind:        s.cfg.Kind,
		Phase:       s.phase,
		Target:      s.cfg.Target,
		TargetState: s.targetState,
		Spawns:      s.spawns,
		Restarts:    s.restarts,
		StartedAt:   s.startedAt,
		SpawnedAt:   s.spawnedAt,
		MirrorFile:  s.mirror.Path(),
		ReadyValue:  s.readyValue,
	}
	if s.current != nil {
		snap.PID = s.current.handle.PID()
		snap.Identity = s.current.identity
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	if s.exit != nil {
		e := *s.exit
		snap.Exit = &e
	}
	return snap
}

// runLongLived is the restart loop for long-lived units.
func (s *Supervisor) runLongLived(ctx context.Context, in *instance) {
	defer s.finish()
	defer s.recoverLoop()

	attempt := 0
	for {
		if s.stopped.Load() || ctx.Err() != nil {
			if in != nil {
				s.teardown(in)
			}
			return
		}

		if in == nil {
			s.setPhase(PhaseResolving)
			identity := ""
			if s.mon.Filtered() {
				s.setTargetState(TargetSearching)
				res := s.resolve(ctx)
				if !res.Found() {
					s.setTargetState(TargetNotFound)
					s.logger.Debug("target not found, waiting",
						"key", s.cfg.Key,
						"target", s.cfg.Target,
						"stale", res.Stale,
					)
					if !s.sleep(ctx, s.cfg.NotFoundBackoff) {
						return
					}
					continue
				}
				identity = res.Identity
			}

			var err error
			in, err = s.spawn(ctx, identity)
			if err != nil {
				attempt++
				s.recordErr(err)
				if !process.IsRecoverable(err) {
					s.logger.Error("spawn failed permanently",
						"key", s.cfg.Key,
						"error", err,
					)
					return
				}
				delay := s.cfg.SpawnBackoff.Delay(attempt)
				s.logger.Warn("spawn failed, retrying",
					"key", s.cfg.Key,
					"attempt", attempt,
					"delay", delay,
					"error", err,
				)
				if !s.sleep(ctx, delay) {
					return
				}
				continue
			}
			attempt = 0
		}

		d := s.mon.Watch(ctx, monitor.Probe{
			Stopped:  s.stopped.Load,
			Handle:   in.handle,
			Identity: in.identity,
			Exited:   in.handle.Done(),
		})
		if d.Verdict == monitor.Terminate {
			s.teardown(in)
			return
		}

		s.setPhase(PhaseRestarting)
		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		s.logger.Info("restarting process",
			"key", s.cfg.Key,
			"reason", string(d.Reason),
			"old_identity", in.identity,
			"new_identity", d.Identity,
			"restarts", restarts,
		)
		s.pub.Publish(events.Event{
			Kind:   events.KindRestart,
			Key:    s.cfg.Key,
			Reason: string(d.Reason),
			Time:   time.Now(),
		})
		if s.cfg.OnRestart != nil {
			s.cfg.OnRestart(d.Reason)
		}

		// The old process is killed and dropped before a new one exists.
		s.teardown(in)
		in = nil

		if !s.mon.Filtered() && d.Reason == monitor.ReasonExited {
			if !s.sleep(ctx, s.cfg.RestartDelay) {
				return
			}
		}
	}
}

// runOneShot watches a one-shot unit until completion or stop.
func (s *Supervisor) runOneShot(ctx context.Context, in *instance) {
	defer s.finish()
	defer s.recoverLoop()

	d := s.mon.Watch(ctx, monitor.Probe{
		Stopped: s.stopped.Load,
		Handle:  in.handle,
		Exited:  in.handle.Done(),
	})

	if d.Reason == monitor.ReasonStopRequested {
		in.handle.Terminate()
	}
	// Drain before reporting so the exit event follows the last line.
	in.drain(s.cfg.DrainTimeout)
	// Reap children the run left behind.
	in.handle.Terminate()

	st := in.handle.Poll()
	exit := &Exit{ExitCode: st.ExitCode, Reason: d.Reason, At: time.Now()}
	switch {
	case d.Reason == monitor.ReasonStopRequested:
		exit.Status = ExitStopped
	case st.State == process.StateError:
		exit.Status = ExitError
	case st.ExitCode == 0:
		exit.Status = ExitCompleted
	default:
		exit.Status = ExitFailed
	}

	s.mu.Lock()
	s.exit = exit
	s.current = nil
	if st.Err != nil {
		s.lastErr = st.Err
	}
	s.mu.Unlock()

	s.logger.Info("run finished",
		"key", s.cfg.Key,
		"status", exit.Status,
		"exit_code", exit.ExitCode,
	)
	code := exit.ExitCode
	s.pub.Publish(events.Event{
		Kind:     events.KindExit,
		Key:      s.cfg.Key,
		ExitCode: &code,
		Status:   exit.Status,
		Reason:   string(d.Reason),
		Time:     exit.At,
	})
	if s.cfg.OnExit != nil {
		s.cfg.OnExit(st, d.Reason)
	}
}

// spawn starts one process and its relays and publishes it as current.
func (s *Supervisor) spawn(ctx context.Context, identity string) (*instance, error) {
	cmd := s.cfg.Command(identity)
	cmd.MergeStderr = !s.cfg.CaptureStderr
	if cmd.Name == "" {
		cmd.Name = s.cfg.Key
	}

	h, err := process.Spawn(ctx, cmd)
	if err != nil {
		return nil, err
	}

	relayCtx, cancel := context.WithCancel(ctx)
	in := &instance{handle: h, identity: identity, cancel: cancel}

	if stdout, err := h.TakeStdout(); err == nil {
		s.startRelay(relayCtx, in, output.StreamStdout, "", stdout)
	}
	if s.cfg.CaptureStderr {
		if stderr, err := h.TakeStderr(); err == nil {
			s.startRelay(relayCtx, in, output.StreamStderr, s.cfg.StderrPrefix, stderr)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.current = in
	s.spawns++
	s.spawnedAt = now
	if identity != "" {
		s.targetState = TargetFound
	}
	s.mu.Unlock()

	// A Stop that missed the handle above is caught here.
	if s.stopped.Load() {
		h.Terminate()
	}

	s.logger.Info("process started",
		"key", s.cfg.Key,
		"name", cmd.Name,
		"pid", h.PID(),
		"identity", identity,
	)
	s.pub.Publish(events.Event{
		Kind: events.KindSpawn,
		Key:  s.cfg.Key,
		PID:  h.PID(),
		Time: now,
	})
	if s.cfg.OnSpawn != nil {
		s.cfg.OnSpawn(h.PID(), identity)
	}
	s.setPhase(PhaseRunning)

	return in, nil
}

func (s *Supervisor) startRelay(ctx context.Context, in *instance, stream, prefix string, r io.ReadCloser) {
	rl := &output.Relay{
		Key:       s.cfg.Key,
		Stream:    stream,
		Prefix:    prefix,
		Buffer:    s.buffer,
		Mirror:    s.mirror,
		Publisher: s.pub,
		Logger:    s.logger,
	}
	if s.cfg.ReadyPattern != nil {
		rl.OnLine = s.watchReady
	}
	in.relays.Add(1)
	go func() {
		defer in.relays.Done()
		rl.Run(ctx, r)
	}()
}

// watchReady records the first line matching the ready pattern.
func (s *Supervisor) watchReady(_, line string) {
	m := s.cfg.ReadyPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	value := m[0]
	if len(m) > 1 {
		value = m[1]
	}
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.readyValue = value
		s.mu.Unlock()
		s.readyCh <- value
	})
}

// teardown terminates the instance, drains its relays and clears it.
func (s *Supervisor) teardown(in *instance) {
	in.handle.Terminate()
	in.drain(s.cfg.DrainTimeout)

	s.mu.Lock()
	if s.current == in {
		s.current = nil
	}
	s.mu.Unlock()

	st := in.handle.Poll()
	s.logger.Debug("process terminated",
		"key", s.cfg.Key,
		"pid", in.handle.PID(),
		"state", string(st.State),
		"exit_code", st.ExitCode,
	)
}

func (s *Supervisor) resolve(ctx context.Context) monitor.Resolution {
	s.setTargetState(TargetSearching)
	res := s.mon.Resolve(ctx)
	if res.Found() {
		s.setTargetState(TargetFound)
	} else {
		s.setTargetState(TargetNotFound)
	}
	return res
}

// sleep waits for d and reports false when the unit was stopped meanwhile.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return !s.stopped.Load()
	}
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase == PhaseStopped || s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()

	s.pub.Publish(events.Event{
		Kind:  events.KindState,
		Key:   s.cfg.Key,
		State: string(p),
		Time:  time.Now(),
	})
	if s.cfg.OnState != nil {
		s.cfg.OnState(p)
	}
}

func (s *Supervisor) setTargetState(ts TargetState) {
	if !s.mon.Filtered() {
		return
	}
	s.mu.Lock()
	s.targetState = ts
	s.mu.Unlock()
}

func (s *Supervisor) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// recoverLoop keeps a panicking hook or command builder from crashing the
// process. The unit's process is terminated and the unit stops.
func (s *Supervisor) recoverLoop() {
	rec := recover()
	if rec == nil {
		return
	}
	s.logger.Error("supervisor loop panicked",
		"key", s.cfg.Key,
		"panic", fmt.Sprint(rec),
	)
	s.recordErr(fmt.Errorf("%w: %v", ErrInternal, rec))

	s.mu.Lock()
	in := s.current
	s.mu.Unlock()
	if in != nil {
		in.handle.Terminate()
		in.cancel()
	}
}

// finish moves the unit to PhaseStopped exactly once.
func (s *Supervisor) finish() {
	s.finishOnce.Do(func() {
		s.stopped.Store(true)

		s.mu.Lock()
		cancel := s.cancel
		s.current = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if err := s.mirror.Close(); err != nil {
			s.logger.Warn("closing mirror failed", "key", s.cfg.Key, "error", err)
		}

		s.setPhase(PhaseStopped)
		close(s.done)
	})
}
