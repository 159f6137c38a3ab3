package services

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

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

// StartRequest starts a configured service.
type StartRequest struct {
	Name string `json:"-"`

	// Args replaces the configured arguments when not nil.
	Args []string `json:"args,omitempty"`

	// AwaitReady controls the ready wait for services with a ready
	// pattern. Nil means wait.
	AwaitReady *bool `json:"await_ready,omitempty"`
}

// Started describes a started service.
type Started struct {
	Name string `json:"name"`

	// ReadyValue is the ready pattern match, such as a tunnel URL.
	ReadyValue string `json:"ready_value,omitempty"`
}

// Service starts and stops configured services on a registry.
type Service struct {
	reg    *registry.Registry
	tools  config.ToolsConfig
	cfg    config.ServicesConfig
	logger Logger
}

// NewService creates a service manager backed by reg.
func NewService(reg *registry.Registry, tools config.ToolsConfig, cfg config.ServicesConfig) *Service {
	return &Service{
		reg:    reg,
		tools:  tools,
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

// Names returns the configured service names, sorted.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.cfg.Definitions))
	for name := range s.cfg.Definitions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start launches the named service.
func (s *Service) Start(ctx context.Context, req StartRequest) (Started, error) {
	cfg, err := s.unitConfig(req)
	if err != nil {
		return Started{}, err
	}

	res, err := s.reg.Start(ctx, cfg)
	if err != nil {
		return Started{}, fmt.Errorf("starting service %s: %w", req.Name, err)
	}

	s.logger.Info("service started", "service", req.Name, "ready_value", res.ReadyValue)
	return Started{Name: req.Name, ReadyValue: res.ReadyValue}, nil
}

func (s *Service) unitConfig(req StartRequest) (supervisor.Config, error) {
	def, ok := s.cfg.Definitions[req.Name]
	if !ok {
		return supervisor.Config{}, fmt.Errorf("%w: %q", ErrUnknownService, req.Name)
	}
	binary, ok := s.tools.Lookup(def.Tool)
	if !ok {
		return supervisor.Config{}, fmt.Errorf("%w: %s", ErrToolNotConfigured, def.Tool)
	}

	args := def.Args
	if req.Args != nil {
		args = req.Args
	}

	name := req.Name
	env := def.Env
	cfg := supervisor.Config{
		Key:  name,
		Kind: supervisor.KindLongLived,
		Command: func(string) process.Command {
			return process.Command{
				Name:   name,
				Binary: binary,
				Args:   args,
				Env:    env,
			}
		},
		MirrorPath:   def.MirrorFile,
		RestartDelay: config.Millis(s.cfg.RestartDelay),
	}

	await := req.AwaitReady == nil || *req.AwaitReady
	if def.ReadyPattern != "" && await {
		re, err := regexp.Compile(def.ReadyPattern)
		if err != nil {
			return supervisor.Config{}, fmt.Errorf("compiling ready pattern for %s: %w", name, err)
		}
		cfg.ReadyPattern = re
		cfg.ReadyTimeout = time.Duration(def.ReadyTimeout) * time.Second
	}
	return cfg, nil
}

// Stop terminates the named service.
func (s *Service) Stop(name string) registry.StopResult {
	res := s.reg.Stop(name)
	if res == registry.Stopped {
		s.logger.Info("service stopped", "service", name)
	}
	return res
}

// Status returns the service's unit status.
func (s *Service) Status(name string) registry.UnitStatus {
	return s.reg.Query(name)
}

// Output returns the buffered lines from offset since.
func (s *Service) Output(name string, since int) ([]string, int) {
	return s.reg.DrainOutput(name, since)
}

// List returns the running services.
func (s *Service) List() []registry.UnitStatus {
	return s.reg.List()
}
