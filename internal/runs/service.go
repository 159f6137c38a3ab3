package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/droidpanel-core/internal/history"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
	"github.com/nerrad567/droidpanel-core/internal/process"
	"github.com/nerrad567/droidpanel-core/internal/registry"
	"github.com/nerrad567/droidpanel-core/internal/supervisor"
)

// MetadataFile is written into every run's output directory.
const MetadataFile = "metadata.json"

// Logger defines the logging interface used by the Service.
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

// Request describes a test run.
type Request struct {
	// RunID names the run; a UUID is generated when empty.
	RunID string `json:"run_id,omitempty"`

	// Binary is a tool name ("robot", "maestro", "maven") or an executable
	// from the allow list.
	Binary string   `json:"binary"`
	Args   []string `json:"args,omitempty"`
	Env    []string `json:"env,omitempty"`
	Dir    string   `json:"dir,omitempty"`

	// OutputDir overrides the default <runs.output_dir>/<run id>.
	OutputDir string `json:"output_dir,omitempty"`

	// Device is recorded in metadata and history only.
	Device string `json:"device,omitempty"`
}

// Started describes an accepted run.
type Started struct {
	RunID      string `json:"run_id"`
	OutputDir  string `json:"output_dir"`
	MirrorFile string `json:"mirror_file,omitempty"`
}

// Metadata is the content of metadata.json.
type Metadata struct {
	RunID      string   `json:"run_id"`
	Framework  string   `json:"framework"`
	Binary     string   `json:"binary"`
	Args       []string `json:"args"`
	DeviceUDID string   `json:"device_udid,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// Service starts and stops test runs on a registry.
type Service struct {
	reg    *registry.Registry
	repo   history.Repository
	tools  config.ToolsConfig
	cfg    config.RunsConfig
	logger Logger
	now    func() time.Time

	// pending holds run ids between admission and the registry start, so
	// side effects for an id happen at most once at a time.
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewService creates a run service backed by reg. repo may be nil.
func NewService(reg *registry.Registry, repo history.Repository, tools config.ToolsConfig, cfg config.RunsConfig) *Service {
	return &Service{
		reg:    reg,
		repo:   repo,
		tools:  tools,
		cfg:    cfg,
		logger:  noopLogger{},
		now:     time.Now,
		pending: make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches a run. The process is spawned before Start returns, so a
// missing executable is reported here rather than as an exit event.
//
// A run id is used once: ids of active runs fail with ErrAlreadyRunning
// and ids already in the history with ErrRunExists. The history row is
// written before metadata.json and the spawn; if it cannot be written
// nothing is started.
func (s *Service) Start(ctx context.Context, req Request) (Started, error) {
	binary, err := s.resolveBinary(req.Binary)
	if err != nil {
		return Started{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if !validRunID(runID) {
		return Started{}, fmt.Errorf("%w: run id %q", ErrInvalidRequest, runID)
	}
	if err := s.reserve(runID); err != nil {
		return Started{}, err
	}
	defer s.release(runID)

	if err := s.checkUnused(ctx, runID); err != nil {
		return Started{}, err
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Join(s.cfg.OutputDir, runID)
	}

	mirror := ""
	if s.cfg.OutputFile != "" {
		mirror = filepath.Join(outDir, s.cfg.OutputFile)
	}

	started := s.now().UTC()
	if err := s.recordStart(ctx, &history.Run{
		ID:         runID,
		Device:     req.Device,
		Binary:     binary,
		Args:       nonNil(req.Args),
		OutputDir:  outDir,
		MirrorFile: mirror,
		StartedAt:  started,
	}); err != nil {
		return Started{}, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		s.recordFailure(runID)
		return Started{}, fmt.Errorf("creating output dir: %w", err)
	}
	if s.cfg.WriteMetadata {
		meta := Metadata{
			RunID:      runID,
			Framework:  req.Binary,
			Binary:     binary,
			Args:       nonNil(req.Args),
			DeviceUDID: req.Device,
			WorkingDir: req.Dir,
			Timestamp:  started.Format(time.RFC3339),
		}
		if err := writeMetadata(outDir, meta); err != nil {
			s.recordFailure(runID)
			return Started{}, err
		}
	}

	env := append(defaultEnv(req.Binary), req.Env...)
	cfg := supervisor.Config{
		Key:  runID,
		Kind: supervisor.KindOneShot,
		Command: func(string) process.Command {
			return process.Command{
				Name:   req.Binary,
				Binary: binary,
				Args:   req.Args,
				Env:    env,
				Dir:    req.Dir,
			}
		},
		MirrorPath:    mirror,
		CaptureStderr: true,
		DrainTimeout:  time.Duration(s.cfg.DrainTimeout) * time.Second,
	}

	if _, err := s.reg.Start(ctx, cfg); err != nil {
		s.recordFailure(runID)
		return Started{}, fmt.Errorf("starting run %s: %w", runID, err)
	}

	s.logger.Info("run started",
		"run_id", runID,
		"binary", binary,
		"output_dir", outDir,
	)
	return Started{RunID: runID, OutputDir: outDir, MirrorFile: mirror}, nil
}

// resolveBinary maps a tool name or allowed executable to a path.
func (s *Service) resolveBinary(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: binary is required", ErrInvalidRequest)
	}
	if path, ok := s.tools.Lookup(name); ok {
		return path, nil
	}
	if slices.Contains(s.cfg.AllowedBinaries, name) {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotAllowed, name)
}

// reserve claims runID for the duration of a Start call.
func (s *Service) reserve(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[runID]; ok || s.reg.Query(runID).Active {
		return fmt.Errorf("%w: %s", registry.ErrAlreadyRunning, runID)
	}
	s.pending[runID] = struct{}{}
	return nil
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	delete(s.pending, runID)
	s.mu.Unlock()
}

// checkUnused rejects ids that already name a recorded run.
func (s *Service) checkUnused(ctx context.Context, runID string) error {
	if s.repo == nil {
		return nil
	}
	_, err := s.repo.GetRun(ctx, runID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrRunExists, runID)
	case errors.Is(err, history.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("checking run history: %w", err)
	}
}

func (s *Service) recordStart(ctx context.Context, run *history.Run) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.StartRun(ctx, run); err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Service) recordFailure(runID string) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.repo.FinishRun(ctx, runID, supervisor.ExitError, nil, s.now().UTC())
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		s.logger.Warn("recording run failure failed", "run_id", runID, "error", err)
	}
}

// Stop terminates a run.
func (s *Service) Stop(runID string) registry.StopResult {
	res := s.reg.Stop(runID)
	if res == registry.Stopped {
		s.logger.Info("run stopped", "run_id", runID)
	}
	return res
}

// Status returns the run's unit status.
func (s *Service) Status(runID string) registry.UnitStatus {
	return s.reg.Query(runID)
}

// Output returns the buffered lines from offset since.
func (s *Service) Output(runID string, since int) ([]string, int) {
	return s.reg.DrainOutput(runID, since)
}

// List returns the active runs.
func (s *Service) List() []registry.UnitStatus {
	return s.reg.List()
}

// History returns persisted runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Run, error) {
	if s.repo == nil {
		return []history.Run{}, nil
	}
	return s.repo.ListRuns(ctx, limit)
}

// HistoryRun returns one persisted run.
func (s *Service) HistoryRun(ctx context.Context, runID string) (*history.Run, error) {
	if s.repo == nil {
		return nil, history.ErrNotFound
	}
	return s.repo.GetRun(ctx, runID)
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// defaultEnv returns environment entries a tool needs for UTF-8 output.
func defaultEnv(tool string) []string {
	switch tool {
	case "robot":
		return []string{"PYTHONIOENCODING=utf-8", "PYTHONUTF8=1"}
	case "maestro", "maven", "mvn":
		return []string{"JAVA_TOOL_OPTIONS=-Dfile.encoding=UTF-8"}
	}
	return nil
}

// validRunID reports whether id is usable as a single path element.
func validRunID(id string) bool {
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return false
	}
	return strings.TrimSpace(id) == id
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
