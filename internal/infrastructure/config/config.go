package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for droidpanel.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Panel     PanelConfig     `yaml:"panel"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logcat    LogcatConfig    `yaml:"logcat"`
	Runs      RunsConfig      `yaml:"runs"`
	Services  ServicesConfig  `yaml:"services"`
	Security  SecurityConfig  `yaml:"security"`
}

// PanelConfig identifies this panel instance.
type PanelConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishLines mirrors every output line to MQTT (rate limited).
	PublishLines bool `yaml:"publish_lines"`

	// LineRate is the maximum number of line messages per second.
	LineRate int `yaml:"line_rate"`

	// LineBurst is the token bucket size for line messages.
	LineBurst int `yaml:"line_burst"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ToolsConfig holds the paths of the external executables droidpanel
// supervises. Bare names are resolved through PATH.
type ToolsConfig struct {
	ADB     string `yaml:"adb"`
	Appium  string `yaml:"appium"`
	Ngrok   string `yaml:"ngrok"`
	Maestro string `yaml:"maestro"`
	Maven   string `yaml:"maven"`
	Robot   string `yaml:"robot"`
}

// LogcatConfig configures logcat capture units.
type LogcatConfig struct {
	// PollInterval is the condition check interval in milliseconds.
	PollInterval int `yaml:"poll_interval"`

	// NotFoundBackoff is the wait before re-resolving a missing app (ms).
	NotFoundBackoff int `yaml:"not_found_backoff"`

	// SpawnRetry is the wait after a failed spawn (ms).
	SpawnRetry int `yaml:"spawn_retry"`

	// RestartDelay is the wait before respawning an unfiltered stream (ms).
	RestartDelay int `yaml:"restart_delay"`

	// DefaultLevel is the logcat priority when a start request has none.
	DefaultLevel string `yaml:"default_level"`

	// MirrorDir is where relative mirror file names are placed.
	MirrorDir string `yaml:"mirror_dir"`

	// ClearOnStart clears the device log buffer before capture starts.
	ClearOnStart bool `yaml:"clear_on_start"`
}

// RunsConfig configures one-shot test runs.
type RunsConfig struct {
	// OutputDir is the parent of per-run output directories.
	OutputDir string `yaml:"output_dir"`

	// OutputFile is the mirror file name inside a run's output directory.
	OutputFile string `yaml:"output_file"`

	// WriteMetadata writes metadata.json into each run's output directory.
	WriteMetadata bool `yaml:"write_metadata"`

	// DrainTimeout bounds the wait for trailing output after exit (seconds).
	DrainTimeout int `yaml:"drain_timeout"`

	// AllowedBinaries restricts which executables runs may launch.
	// Empty allows the configured tools only.
	AllowedBinaries []string `yaml:"allowed_binaries"`
}

// ServicesConfig configures the auxiliary long-lived services.
type ServicesConfig struct {
	// RestartDelay is the wait before respawning an exited service (ms).
	RestartDelay int `yaml:"restart_delay"`

	// Definitions maps a service name to its launch settings.
	Definitions map[string]ServiceConfig `yaml:"definitions"`
}

// ServiceConfig describes one auxiliary service.
type ServiceConfig struct {
	// Tool names the ToolsConfig entry providing the binary ("appium", "ngrok").
	Tool string   `yaml:"tool"`
	Args []string `yaml:"args"`
	Env  []string `yaml:"env"`

	// ReadyPattern, if set, makes start wait for a matching output line.
	// The first submatch is reported back (e.g. the tunnel URL).
	ReadyPattern string `yaml:"ready_pattern"`

	// ReadyTimeout is the ready wait cap in seconds.
	ReadyTimeout int `yaml:"ready_timeout"`

	// MirrorFile optionally mirrors service output to a file.
	MirrorFile string `yaml:"mirror_file"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Operator  OperatorConfig  `yaml:"operator"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig holds the single operator account of a desktop panel.
type OperatorConfig struct {
	Username string `yaml:"username"`

	// PasswordHash is an argon2id PHC string.
	PasswordHash string `yaml:"password_hash"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DROIDPANEL_SECTION_KEY
// For example: DROIDPANEL_DATABASE_PATH, DROIDPANEL_TOOLS_ADB
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			ID:   "panel-001",
			Name: "droidpanel",
		},
		Database: DatabaseConfig{
			Path:        "./data/droidpanel.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "droidpanel-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			LineRate:  50,
			LineBurst: 200,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tools: ToolsConfig{
			ADB:     "adb",
			Appium:  "appium",
			Ngrok:   "ngrok",
			Maestro: "maestro",
			Maven:   "mvn",
			Robot:   "robot",
		},
		Logcat: LogcatConfig{
			PollInterval:    1000,
			NotFoundBackoff: 1500,
			SpawnRetry:      2000,
			RestartDelay:    1000,
			DefaultLevel:    "V",
			MirrorDir:       "./data/logcat",
		},
		Runs: RunsConfig{
			OutputDir:     "./data/runs",
			OutputFile:    "output.log",
			WriteMetadata: true,
			DrainTimeout:  2,
		},
		Services: ServicesConfig{
			RestartDelay: 1000,
			Definitions: map[string]ServiceConfig{
				"appium": {
					Tool: "appium",
					Args: []string{"--port", "4723"},
				},
				"ngrok": {
					Tool:         "ngrok",
					Args:         []string{"http", "4723", "--log", "stdout"},
					ReadyPattern: `url=(\S+)`,
					ReadyTimeout: 10,
				},
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Operator: OperatorConfig{
				Username: "operator",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DROIDPANEL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DROIDPANEL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DROIDPANEL_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("DROIDPANEL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DROIDPANEL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DROIDPANEL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DROIDPANEL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DROIDPANEL_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	// InfluxDB
	if v := os.Getenv("DROIDPANEL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Tools
	if v := os.Getenv("DROIDPANEL_TOOLS_ADB"); v != "" {
		cfg.Tools.ADB = v
	}
	if v := os.Getenv("DROIDPANEL_TOOLS_APPIUM"); v != "" {
		cfg.Tools.Appium = v
	}
	if v := os.Getenv("DROIDPANEL_TOOLS_NGROK"); v != "" {
		cfg.Tools.Ngrok = v
	}

	// Security
	if v := os.Getenv("DROIDPANEL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("DROIDPANEL_OPERATOR_PASSWORD_HASH"); v != "" {
		cfg.Security.Operator.PasswordHash = v
	}
}

// Validate checks the configuration for errors and security issues.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Panel.ID == "" {
		errs = append(errs, "panel.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.PublishLines && c.MQTT.LineRate <= 0 {
		errs = append(errs, "mqtt.line_rate must be positive when publish_lines is set")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Tools.ADB == "" {
		errs = append(errs, "tools.adb is required")
	}

	if c.Logcat.PollInterval < 0 || c.Logcat.NotFoundBackoff < 0 || c.Logcat.SpawnRetry < 0 {
		errs = append(errs, "logcat intervals must not be negative")
	}

	if c.Runs.OutputDir == "" {
		errs = append(errs, "runs.output_dir is required")
	}

	for name, svc := range c.Services.Definitions {
		if _, ok := c.Tools.Lookup(svc.Tool); !ok {
			errs = append(errs, fmt.Sprintf("services.definitions.%s.tool %q is not a known tool", name, svc.Tool))
		}
		if svc.ReadyPattern != "" {
			if _, err := regexp.Compile(svc.ReadyPattern); err != nil {
				errs = append(errs, fmt.Sprintf("services.definitions.%s.ready_pattern: %v", name, err))
			}
		}
	}

	// The API can start arbitrary test commands; an empty or weak secret
	// would let anyone on the network forge tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set DROIDPANEL_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Lookup returns the executable configured for a tool name.
func (t ToolsConfig) Lookup(tool string) (string, bool) {
	switch tool {
	case "adb":
		return t.ADB, t.ADB != ""
	case "appium":
		return t.Appium, t.Appium != ""
	case "ngrok":
		return t.Ngrok, t.Ngrok != ""
	case "maestro":
		return t.Maestro, t.Maestro != ""
	case "maven", "mvn":
		return t.Maven, t.Maven != ""
	case "robot":
		return t.Robot, t.Robot != ""
	}
	return "", false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Millis converts a millisecond config value to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
