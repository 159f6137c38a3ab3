package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/supervisor"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StartResult is returned by a successful Start.
type StartResult struct {
	// ReadyValue is the ready-signal match for units that await one.
	ReadyValue string
}

// StopResult is the outcome of Stop.
type StopResult string

const (
	Stopped    StopResult = "stopped"
	NotRunning StopResult = "not_running"
)

// UnitStatus is a snapshot of one unit.
type UnitStatus struct {
	Key         string                 `json:"key"`
	Kind        supervisor.Kind        `json:"kind,omitempty"`
	Active      bool                   `json:"active"`
	MirrorFile  string                 `json:"mirror_file,omitempty"`
	Phase       supervisor.Phase       `json:"phase,omitempty"`
	Target      string                 `json:"target,omitempty"`
	TargetState supervisor.TargetState `json:"target_state,omitempty"`
	PID         int                    `json:"pid,omitempty"`
	Identity    string                 `json:"identity,omitempty"`
	Restarts    int                    `json:"restarts"`
	StartedAt   time.Time              `json:"started_at,omitzero"`
	UptimeSec   float64                `json:"uptime_seconds,omitempty"`
	ReadyValue  string                 `json:"ready_value,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	OutputEnd   int                    `json:"output_end"`
}

// Registry provides admission control and lookup for supervision units.
//
// All public methods are thread-safe. The mutex is never held while a
// process is spawned or terminated.
type Registry struct {
	name   string
	pub    events.Publisher
	logger Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	units  map[string]*supervisor.Supervisor
	closed bool
}

// New creates a registry named name (used as the event source). Units live
// until stopped, until ctx is cancelled or until Shutdown.
func New(ctx context.Context, name string, pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Discard
	}
	base, cancel := context.WithCancel(ctx)
	return &Registry{
		name:   name,
		pub:    pub,
		logger: noopLogger{},
		base:   base,
		cancel: cancel,
		units:  make(map[string]*supervisor.Supervisor),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Start admits a new unit under cfg.Key and starts it.
//
// The key is reserved before the supervisor spawns anything; the spawn
// itself runs outside the lock. If a synchronous start fails the key is
// released again. Cancelling ctx aborts a start that is still waiting for
// a ready signal; once Start returns the unit no longer depends on ctx.
func (r *Registry) Start(ctx context.Context, cfg supervisor.Config) (res StartResult, err error) {
	var admitted *supervisor.Supervisor
	defer func() {
		if rec := recover(); rec != nil {
			if admitted != nil {
				admitted.Stop()
				r.remove(admitted)
			}
			err = r.internalError("start", rec)
		}
	}()

	cfg.Publisher = events.Tagged(r.name, events.Multi(cfg.Publisher, r.pub))
	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	sup, err := supervisor.New(cfg)
	if err != nil {
		return StartResult{}, err
	}

	if err := r.admit(sup); err != nil {
		return StartResult{}, err
	}
	admitted = sup

	abort := context.AfterFunc(ctx, sup.Stop)
	ready, err := sup.Start(r.base)
	abort()
	if err != nil {
		r.remove(sup)
		return StartResult{}, err
	}

	go r.reap(sup)

	r.logger.Info("unit started",
		"registry", r.name,
		"key", sup.Key(),
		"kind", string(sup.Kind()),
	)
	return StartResult{ReadyValue: ready}, nil
}

func (r *Registry) admit(sup *supervisor.Supervisor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, exists := r.units[sup.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, sup.Key())
	}
	r.units[sup.Key()] = sup
	return nil
}

// remove deletes the entry only if it still belongs to sup.
func (r *Registry) remove(sup *supervisor.Supervisor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.units[sup.Key()]; ok && cur == sup {
		delete(r.units, sup.Key())
		return true
	}
	return false
}

// reap removes units whose loop ended on its own (one-shot completion or a
// permanent spawn failure).
func (r *Registry) reap(sup *supervisor.Supervisor) {
	<-sup.Done()
	if r.remove(sup) {
		r.logger.Info("unit finished",
			"registry", r.name,
			"key", sup.Key(),
		)
	}
}

// Stop removes the unit, sets its stop flag and terminates its process.
// Stopping an unknown key returns NotRunning; Stop never fails.
func (r *Registry) Stop(key string) (result StopResult) {
	defer func() {
		if rec := recover(); rec != nil {
			_ = r.internalError("stop", rec)
			result = Stopped
		}
	}()

	sup := r.take(key)
	if sup == nil {
		return NotRunning
	}
	sup.Stop()
	r.logger.Info("unit stopped", "registry", r.name, "key", key)
	return Stopped
}

func (r *Registry) take(key string) *supervisor.Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	sup, ok := r.units[key]
	if !ok {
		return nil
	}
	delete(r.units, key)
	return sup
}

func (r *Registry) get(key string) *supervisor.Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[key]
}

// Query returns the status of key without blocking on its loop.
func (r *Registry) Query(key string) UnitStatus {
	sup := r.get(key)
	if sup == nil {
		return UnitStatus{Key: key}
	}
	return statusOf(sup)
}

func statusOf(sup *supervisor.Supervisor) UnitStatus {
	snap := sup.Snapshot()
	return UnitStatus{
		Key:         snap.Key,
		Kind:        snap.Kind,
		Active:      snap.Phase != supervisor.PhaseStopped,
		MirrorFile:  snap.MirrorFile,
		Phase:       snap.Phase,
		Target:      snap.Target,
		TargetState: snap.TargetState,
		PID:         snap.PID,
		Identity:    snap.Identity,
		Restarts:    snap.Restarts,
		StartedAt:   snap.StartedAt,
		UptimeSec:   snap.Uptime().Seconds(),
		ReadyValue:  snap.ReadyValue,
		LastError:   snap.LastError,
		OutputEnd:   sup.Buffer().End(),
	}
}

// DrainOutput returns the unit's lines from offset since and the next
// offset. Unknown keys yield an empty slice and offset 0.
func (r *Registry) DrainOutput(key string, since int) ([]string, int) {
	sup := r.get(key)
	if sup == nil {
		return []string{}, 0
	}
	return sup.Buffer().Read(since)
}

// List returns the status of every unit, ordered by key.
func (r *Registry) List() []UnitStatus {
	r.mu.Lock()
	sups := make([]*supervisor.Supervisor, 0, len(r.units))
	for _, s := range r.units {
		sups = append(sups, s)
	}
	r.mu.Unlock()

	out := make([]UnitStatus, 0, len(sups))
	for _, s := range sups {
		out = append(out, statusOf(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// Shutdown stops every unit concurrently and waits for their loops to end
// or ctx to expire. Later Starts fail with ErrClosed.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sups := make([]*supervisor.Supervisor, 0, len(r.units))
	for key, s := range r.units {
		sups = append(sups, s)
		delete(r.units, key)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sups {
		s := s // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			s.Stop()
			if err := s.Wait(gctx); err != nil {
				return fmt.Errorf("waiting for %s/%s: %w", r.name, s.Key(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	r.cancel()

	r.logger.Info("registry shut down",
		"registry", r.name,
		"units", len(sups),
	)
	return err
}

// internalError logs a recovered panic and converts it into ErrInternal
// so one failing operation cannot crash the process.
func (r *Registry) internalError(op string, rec any) error {
	r.logger.Error("recovered panic in registry",
		"registry", r.name,
		"op", op,
		"panic", fmt.Sprint(rec),
	)
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, rec)
}
