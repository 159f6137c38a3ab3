// droidpanel - Android test-automation control panel
//
// This is the main entry point for the droidpanel core service. It
// supervises logcat captures, test runs and auxiliary services (Appium,
// ngrok) and exposes them over a REST and WebSocket API.
//
// Subcommands:
//
//	droidpanel                  run the panel (config from DROIDPANEL_CONFIG)
//	droidpanel hash-password    print an argon2id hash for security.operator.password_hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/droidpanel-core/migrations"

	"github.com/nerrad567/droidpanel-core/internal/adb"
	"github.com/nerrad567/droidpanel-core/internal/api"
	"github.com/nerrad567/droidpanel-core/internal/auth"
	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/history"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/database"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/logging"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpanel-core/internal/logcat"
	"github.com/nerrad567/droidpanel-core/internal/registry"
	"github.com/nerrad567/droidpanel-core/internal/runs"
	"github.com/nerrad567/droidpanel-core/internal/services"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when DROIDPANEL_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds registry teardown on exit.
	shutdownTimeout = 15 * time.Second

	// Bus queue sizes for the in-process consumers.
	historyQueueSize = 1024
	mqttQueueSize    = 4096
)

// Registry names. They double as event sources and MQTT topic segments.
const (
	registryLogcat   = "logcat"
	registryRuns     = "runs"
	registryServices = "services"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword prints the argon2id hash of the password given as the
// first argument, or read as one line from in.
func hashPassword(args []string, in io.Reader, out io.Writer) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting droidpanel",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := history.NewSQLiteRepository(db.DB)
	if n, sweepErr := repo.InterruptRunning(ctx, time.Now()); sweepErr != nil {
		log.Warn("marking interrupted runs failed", "error", sweepErr)
	} else if n > 0 {
		log.Info("runs left over from the last session marked interrupted", "count", n)
	}

	bus := events.NewBus()
	recorderDone := startHistory(ctx, bus, repo, log)
	defer closeHistory(bus, recorderDone, log)

	// InfluxDB is connected before the registries exist so telemetry
	// sees every event from the first spawn.
	var influxClient *influxdb.Client
	var telemetry *influxdb.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Panel.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxdb.NewTelemetry(influxClient)
		go telemetry.Run(ctx, influxdb.DefaultOutputInterval)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var pub events.Publisher = bus
	if telemetry != nil {
		pub = events.Multi(bus, telemetry)
	}

	regs := map[string]*registry.Registry{}
	for _, name := range []string{registryLogcat, registryRuns, registryServices} {
		r := registry.New(ctx, name, pub)
		r.SetLogger(log.With("registry", name))
		regs[name] = r
	}
	defer shutdownRegistries(regs, log)

	logcatSvc := logcat.NewService(regs[registryLogcat], adb.New(cfg.Tools.ADB), cfg.Logcat)
	logcatSvc.SetLogger(log)
	runsSvc := runs.NewService(regs[registryRuns], repo, cfg.Tools, cfg.Runs)
	runsSvc.SetLogger(log)
	servicesSvc := services.NewService(regs[registryServices], cfg.Tools, cfg.Services)
	servicesSvc.SetLogger(log)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startMQTT(ctx, cfg.MQTT, bus, regs, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	authn := auth.NewAuthenticator(cfg.Security, cfg.Panel.ID)
	if cfg.Security.Operator.PasswordHash == "" {
		log.Warn("operator password not set, login is disabled",
			"hint", "run 'droidpanel hash-password' and set security.operator.password_hash")
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Auth:     authn,
		Logcat:   logcatSvc,
		Runs:     runsSvc,
		Services: servicesSvc,
		Bus:      bus,
		History:  repo,
		DB:       db,
		MQTT:     mqttClient,
		Influx:   influxClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, MQTT, registries
	// (terminating every child process), InfluxDB, bus and history
	// recorder, database.
	return nil
}

// startHistory records bus events into repo. The recorder ignores the
// shutdown signal and drains until the bus is closed, so exit events from
// registry teardown still finish their runs. The returned channel closes
// when the recorder has stopped.
func startHistory(ctx context.Context, bus *events.Bus, repo history.Repository, log *logging.Logger) <-chan struct{} {
	recorder := history.NewRecorder(repo, registryRuns)
	recorder.SetLogger(log)
	sub := bus.Subscribe(historyQueueSize, history.Filter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		recorder.Run(context.WithoutCancel(ctx), sub)
	}()
	return done
}

// closeHistory closes the bus and waits for the recorder to drain.
func closeHistory(bus *events.Bus, recorderDone <-chan struct{}, log *logging.Logger) {
	bus.Close()
	select {
	case <-recorderDone:
	case <-time.After(shutdownTimeout):
		log.Warn("history recorder did not drain in time")
	}
}

// startMQTT connects to the broker, forwards bus events to it and
// routes remote stop commands to the registries.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, bus *events.Bus, regs map[string]*registry.Registry, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	var topics mqtt.Topics
	stop := mqtt.StopCommandHandler(func(name, key string) bool {
		r, ok := regs[name]
		if !ok {
			return false
		}
		log.Info("stop requested over MQTT", "registry", name, "key", key, "result", r.Stop(key))
		return true
	})
	if err := client.Subscribe(topics.AllStopCommands(), client.QoS(), stop); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to stop commands: %w", err)
	}

	bridge := mqtt.NewBridge(client, mqtt.BridgeConfig{
		QoS:          client.QoS(),
		PublishLines: cfg.PublishLines,
		LineRate:     cfg.LineRate,
		LineBurst:    cfg.LineBurst,
	})
	bridge.SetLogger(log)
	go bridge.Run(ctx, bus.Subscribe(mqttQueueSize, nil))

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"publish_lines", cfg.PublishLines,
	)
	return client, nil
}

// shutdownRegistries stops every unit, bounded by shutdownTimeout.
func shutdownRegistries(regs map[string]*registry.Registry, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for name, r := range regs {
		log.Info("stopping units", "registry", name, "count", r.Len())
		if err := r.Shutdown(ctx); err != nil {
			log.Error("registry shutdown incomplete", "registry", name, "error", err)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses DROIDPANEL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DROIDPANEL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
