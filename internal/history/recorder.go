package history

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
)

// writeTimeout bounds each database write made by the recorder.
const writeTimeout = 5 * time.Second

// Logger is the logging surface of the recorder.
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

// Recorder writes supervision transitions to a Repository. Exit events
// from the runs registry also finish the matching run row.
type Recorder struct {
	repo       Repository
	runsSource string
	logger     Logger
}

// NewRecorder creates a recorder. runsSource is the registry name whose
// units are test runs.
func NewRecorder(repo Repository, runsSource string) *Recorder {
	return &Recorder{repo: repo, runsSource: runsSource, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Filter selects the events the recorder persists.
func Filter(ev events.Event) bool {
	switch ev.Kind {
	case events.KindSpawn, events.KindRestart, events.KindExit:
		return true
	}
	return false
}

// Run records events from sub until ctx is cancelled or the subscription
// closes.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			r.Record(ctx, ev)
		}
	}
}

// Record persists one event. Failures are logged, never returned; the
// history is best effort.
func (r *Recorder) Record(ctx context.Context, ev events.Event) {
	if !Filter(ev) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	row := &UnitEvent{
		Registry:  ev.Source,
		Key:       ev.Key,
		Kind:      string(ev.Kind),
		Reason:    ev.Reason,
		PID:       ev.PID,
		ExitCode:  ev.ExitCode,
		CreatedAt: at,
	}
	if err := r.repo.RecordEvent(ctx, row); err != nil {
		r.logger.Warn("recording unit event failed", "registry", ev.Source, "key", ev.Key, "kind", ev.Kind, "error", err)
	}

	if ev.Kind != events.KindExit || ev.Source != r.runsSource {
		return
	}
	err := r.repo.FinishRun(ctx, ev.Key, ev.Status, ev.ExitCode, at)
	switch {
	case errors.Is(err, ErrNotFound):
		r.logger.Debug("exit for unrecorded run", "run_id", ev.Key)
	case err != nil:
		r.logger.Warn("finishing run failed", "run_id", ev.Key, "error", err)
	}
}
