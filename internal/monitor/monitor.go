package monitor

import (
	"context"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/process"
)

// DefaultInterval is the poll interval between checks.
const DefaultInterval = time.Second

// Verdict is the outcome of one check.
type Verdict int

const (
	NoAction Verdict = iota
	Restart
	Terminate
)

func (v Verdict) String() string {
	switch v {
	case NoAction:
		return "no-action"
	case Restart:
		return "restart"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Reason explains a Restart or Terminate verdict.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonExited          Reason = "exited"
	ReasonTargetMissing   Reason = "target-missing"
	ReasonTargetStale     Reason = "target-stale"
	ReasonIdentityChanged Reason = "identity-changed"
	ReasonStopRequested   Reason = "stop-requested"
	ReasonCompleted       Reason = "completed"
)

// Decision is a verdict plus the facts behind it.
type Decision struct {
	Verdict Verdict
	Reason  Reason

	// Identity is the freshly resolved identity when the check re-resolved.
	Identity string

	// Status is the process status observed by the check.
	Status process.Status
}

// Liveness is the part of a process handle the monitor needs.
type Liveness interface {
	Poll() process.Status
}

// Probe is the supervisor state a check samples.
type Probe struct {
	// Stopped reports the unit's stop flag. Nil means never stopped.
	Stopped func() bool

	// Handle is the current process, nil while none exists.
	Handle Liveness

	// Identity is the identity the current process was spawned with.
	Identity string

	// Exited, when set, wakes Watch as soon as the process exits.
	Exited <-chan struct{}
}

func (p Probe) stopped() bool {
	return p.Stopped != nil && p.Stopped()
}

// Config configures a Monitor.
type Config struct {
	// Target is the identity filter (e.g. an Android package name).
	// Empty means the unit is filterless and only liveness is checked.
	Target string

	// Resolver looks up the target's current identity. Required when
	// Target is set.
	Resolver Resolver

	// Interval between checks in Watch.
	Interval time.Duration

	// OneShot makes process exit a Terminate/completed verdict instead of
	// a Restart. Used to watch test runs for completion.
	OneShot bool
}

// Logger is the logging interface used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Monitor evaluates restart conditions for one supervision unit.
type Monitor struct {
	cfg    Config
	logger Logger
}

// New creates a Monitor. A zero Interval becomes DefaultInterval.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Monitor{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Filtered reports whether an identity filter is configured.
func (m *Monitor) Filtered() bool {
	return m.cfg.Target != "" && m.cfg.Resolver != nil
}

// Target returns the configured identity filter.
func (m *Monitor) Target() string { return m.cfg.Target }

// Interval returns the poll interval.
func (m *Monitor) Interval() time.Duration { return m.cfg.Interval }

// Resolve looks up the target once. Resolver errors count as "absent".
func (m *Monitor) Resolve(ctx context.Context) Resolution {
	if !m.Filtered() {
		return Resolution{}
	}
	res, err := m.cfg.Resolver.Resolve(ctx, m.cfg.Target)
	if err != nil {
		m.logger.Debug("target lookup failed, treating as absent",
			"target", m.cfg.Target,
			"error", err,
		)
		return Resolution{}
	}
	return res
}

// Check performs one poll tick.
//
// The stop flag overrides everything. Then a missing or exited process
// yields Restart (or Terminate for one-shot units). Finally a filtered unit
// re-resolves its target: absent, stale or changed identities yield Restart.
func (m *Monitor) Check(ctx context.Context, p Probe) Decision {
	if p.stopped() {
		return Decision{Verdict: Terminate, Reason: ReasonStopRequested}
	}

	if p.Handle == nil {
		if m.cfg.OneShot {
			return Decision{Verdict: Terminate, Reason: ReasonCompleted}
		}
		return Decision{Verdict: Restart, Reason: ReasonExited}
	}
	st := p.Handle.Poll()
	if !st.Running() {
		if m.cfg.OneShot {
			return Decision{Verdict: Terminate, Reason: ReasonCompleted, Status: st}
		}
		return Decision{Verdict: Restart, Reason: ReasonExited, Status: st}
	}

	if !m.Filtered() {
		return Decision{Verdict: NoAction, Status: st}
	}

	res := m.Resolve(ctx)
	// The lookup can be slow; honour a stop requested meanwhile.
	if p.stopped() {
		return Decision{Verdict: Terminate, Reason: ReasonStopRequested}
	}
	switch {
	case res.Identity == "":
		return Decision{Verdict: Restart, Reason: ReasonTargetMissing, Status: st}
	case res.Stale:
		return Decision{Verdict: Restart, Reason: ReasonTargetStale, Identity: res.Identity, Status: st}
	case res.Identity != p.Identity:
		return Decision{Verdict: Restart, Reason: ReasonIdentityChanged, Identity: res.Identity, Status: st}
	default:
		return Decision{Verdict: NoAction, Identity: res.Identity, Status: st}
	}
}

// Watch checks every interval until the verdict is not NoAction.
// Context cancellation yields Terminate/stop-requested.
func (m *Monitor) Watch(ctx context.Context, p Probe) Decision {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	exited := p.Exited
	for {
		if ctx.Err() != nil {
			return Decision{Verdict: Terminate, Reason: ReasonStopRequested}
		}
		if d := m.Check(ctx, p); d.Verdict != NoAction {
			return d
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-exited:
			// Closed channels stay ready; consume the wake-up once.
			exited = nil
		}
	}
}
