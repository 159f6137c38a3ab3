package logcat

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nerrad567/droidpanel-core/internal/adb"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
	"github.com/nerrad567/droidpanel-core/internal/process"
	"github.com/nerrad567/droidpanel-core/internal/registry"
	"github.com/nerrad567/droidpanel-core/internal/supervisor"
)

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

// StartRequest describes a logcat capture.
type StartRequest struct {
	Device string `json:"-"`

	// Filter is an optional application package name.
	Filter string `json:"filter,omitempty"`

	// Level is a logcat priority ("V".."F", "S" or a full name).
	Level string `json:"level,omitempty"`

	// MirrorFile is an optional file that receives every line. Relative
	// names are placed under the configured mirror directory.
	MirrorFile string `json:"mirror_file,omitempty"`

	// Clear empties the device log buffer before capture starts.
	Clear bool `json:"clear,omitempty"`
}

// Service starts and stops logcat units on a registry.
type Service struct {
	reg    *registry.Registry
	adb    *adb.Client
	cfg    config.LogcatConfig
	logger Logger
}

// NewService creates a logcat service backed by reg.
func NewService(reg *registry.Registry, client *adb.Client, cfg config.LogcatConfig) *Service {
	return &Service{
		reg:    reg,
		adb:    client,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start begins capturing logcat for req.Device. It returns
// registry.ErrAlreadyRunning if the device already has a live unit.
func (s *Service) Start(ctx context.Context, req StartRequest) error {
	cfg, err := s.unitConfig(req)
	if err != nil {
		return err
	}

	if req.Clear || s.cfg.ClearOnStart {
		if s.reg.Query(req.Device).Active {
			return fmt.Errorf("%w: %s", registry.ErrAlreadyRunning, req.Device)
		}
		if err := s.adb.ClearLogcat(ctx, req.Device); err != nil {
			s.logger.Warn("logcat clear failed", "device", req.Device, "error", err)
		}
	}

	if _, err := s.reg.Start(ctx, cfg); err != nil {
		return fmt.Errorf("starting logcat for %s: %w", req.Device, err)
	}

	s.logger.Info("logcat started",
		"device", req.Device,
		"filter", req.Filter,
		"mirror", cfg.MirrorPath,
	)
	return nil
}

// unitConfig builds the supervisor configuration for req.
func (s *Service) unitConfig(req StartRequest) (supervisor.Config, error) {
	if req.Device == "" {
		return supervisor.Config{}, fmt.Errorf("%w: device is required", ErrInvalidRequest)
	}

	level := req.Level
	if level == "" {
		level = s.cfg.DefaultLevel
	}
	level, err := adb.NormalizeLevel(level)
	if err != nil {
		return supervisor.Config{}, err
	}

	device := req.Device
	cfg := supervisor.Config{
		Key:  device,
		Kind: supervisor.KindLongLived,
		Command: func(identity string) process.Command {
			return s.adb.LogcatCommand(device, identity, level)
		},
		MirrorPath:      s.mirrorPath(req.MirrorFile),
		PollInterval:    config.Millis(s.cfg.PollInterval),
		NotFoundBackoff: config.Millis(s.cfg.NotFoundBackoff),
		SpawnBackoff:    process.Fixed(config.Millis(s.cfg.SpawnRetry)),
		RestartDelay:    config.Millis(s.cfg.RestartDelay),
	}
	if req.Filter != "" {
		cfg.Target = req.Filter
		cfg.Resolver = s.adb.Resolver(device)
	}
	cfg.Header = Header(device, cfg.MirrorPath)
	return cfg, nil
}

func (s *Service) mirrorPath(name string) string {
	if name == "" || filepath.IsAbs(name) || s.cfg.MirrorDir == "" {
		return name
	}
	return filepath.Join(s.cfg.MirrorDir, name)
}

// Header is the first buffer line of a logcat unit.
func Header(device, mirror string) string {
	if mirror == "" {
		return fmt.Sprintf("--- Logcat started for device: %s ---", device)
	}
	return fmt.Sprintf("--- Logcat started for device: %s (Writing to %s) ---", device, mirror)
}

// Stop terminates the device's logcat unit.
func (s *Service) Stop(device string) registry.StopResult {
	res := s.reg.Stop(device)
	if res == registry.Stopped {
		s.logger.Info("logcat stopped", "device", device)
	}
	return res
}

// Status returns the device's unit status.
func (s *Service) Status(device string) registry.UnitStatus {
	return s.reg.Query(device)
}

// Output returns the buffered lines from offset since.
func (s *Service) Output(device string, since int) ([]string, int) {
	return s.reg.DrainOutput(device, since)
}

// List returns all live logcat units.
func (s *Service) List() []registry.UnitStatus {
	return s.reg.List()
}
