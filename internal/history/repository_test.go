package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/infrastructure/database"
	_ "github.com/nerrad567/droidpanel-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestStartAndFinishRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	run := &Run{
		ID:        "run-1",
		Device:    "emulator-5554",
		Binary:    "maestro",
		Args:      []string{"test", "flows/login.yaml"},
		OutputDir: "/tmp/out/run-1",
		StartedAt: started,
	}
	if err := repo.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != StatusRunning || got.FinishedAt != nil || got.ExitCode != nil {
		t.Errorf("running run = %+v", got)
	}
	if len(got.Args) != 2 || got.Args[1] != "flows/login.yaml" {
		t.Errorf("Args = %v", got.Args)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}

	code := 1
	finished := started.Add(90 * time.Second)
	if err := repo.FinishRun(ctx, "run-1", "failed", &code, finished); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	got, err = repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != "failed" || got.ExitCode == nil || *got.ExitCode != 1 {
		t.Errorf("finished run = %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestRunErrors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing id", repo.StartRun(ctx, &Run{Binary: "robot"}), ErrInvalidRun},
		{"missing binary", repo.StartRun(ctx, &Run{ID: "x"}), ErrInvalidRun},
		{"finish unknown", repo.FinishRun(ctx, "nope", "completed", nil, time.Now()), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if _, err := repo.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(unknown) error = %v, want ErrNotFound", err)
	}
	if err := repo.StartRun(ctx, &Run{ID: "dup", Binary: "robot"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if err := repo.StartRun(ctx, &Run{ID: "dup", Binary: "robot"}); err == nil {
		t.Error("StartRun() with duplicate id should fail")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Binary: "robot", StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.StartRun(ctx, run); err != nil {
			t.Fatalf("StartRun(%s) error = %v", id, err)
		}
	}

	runs, err := repo.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns(2) = %v", runs)
	}

	empty := newTestRepo(t)
	runs, err = empty.ListRuns(ctx, 0)
	if err != nil || runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns() on empty store = (%v, %v), want empty slice", runs, err)
	}
}

func TestRecordAndListEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	code := 0
	for _, ev := range []*UnitEvent{
		{Registry: "logcat", Key: "pixel", Kind: "spawn", PID: 10},
		{Registry: "logcat", Key: "pixel", Kind: "restart", Reason: "identity-changed"},
		{Registry: "logcat", Key: "other", Kind: "spawn", PID: 11},
		{Registry: "logcat", Key: "pixel", Kind: "exit", ExitCode: &code},
	} {
		if err := repo.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
		if ev.ID == 0 {
			t.Error("RecordEvent() did not set ID")
		}
	}

	got, err := repo.ListEvents(ctx, "logcat", "pixel", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListEvents() returned %d events, want 3", len(got))
	}
	if got[0].Kind != "exit" || got[0].ExitCode == nil || *got[0].ExitCode != 0 {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[1].Reason != "identity-changed" || got[2].PID != 10 {
		t.Errorf("events = %+v", got)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, defaultListLimit},
		{-3, defaultListLimit},
		{10, 10},
		{maxListLimit + 1, maxListLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInterruptRunning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"left-1", "left-2", "done"} {
		if err := repo.StartRun(ctx, &Run{ID: id, Binary: "robot"}); err != nil {
			t.Fatalf("StartRun(%s) error = %v", id, err)
		}
	}
	code := 0
	if err := repo.FinishRun(ctx, "done", "completed", &code, time.Now()); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	at := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	n, err := repo.InterruptRunning(ctx, at)
	if err != nil {
		t.Fatalf("InterruptRunning() error = %v", err)
	}
	if n != 2 {
		t.Errorf("InterruptRunning() = %d, want 2", n)
	}

	for _, id := range []string{"left-1", "left-2"} {
		got, err := repo.GetRun(ctx, id)
		if err != nil {
			t.Fatalf("GetRun(%s) error = %v", id, err)
		}
		if got.Status != StatusInterrupted || got.FinishedAt == nil || !got.FinishedAt.Equal(at) {
			t.Errorf("%s = %+v, want interrupted at %v", id, got, at)
		}
	}
	got, err := repo.GetRun(ctx, "done")
	if err != nil {
		t.Fatalf("GetRun(done) error = %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("finished run changed to %q", got.Status)
	}

	if n, err := repo.InterruptRunning(ctx, at); err != nil || n != 0 {
		t.Errorf("second InterruptRunning() = (%d, %v), want (0, nil)", n, err)
	}
}
