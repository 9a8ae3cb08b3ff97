package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort              = 8082
	DefaultWatchdogInterval  = 10 * time.Second
	DefaultStatisticInterval = 5 * time.Second
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Admission AdmissionConfig `yaml:"admission"`
	Sink      SinkConfig      `yaml:"sink"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Front     FrontConfig     `yaml:"front"`
	Provider  ProviderConfig  `yaml:"provider"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	// Credential is injected into every session's options as sessionId.
	// Never accepted from clients.
	Credential  string        `yaml:"credential"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type AdmissionConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxSessionsPerClient int     `yaml:"max_sessions_per_client"`
	RequestsPerMinute    float64 `yaml:"requests_per_minute"`
	Burst                int     `yaml:"burst"`
}

type SinkConfig struct {
	Dir            string `yaml:"dir"`
	Format         string `yaml:"format"` // "csv" or "legacy"
	UniquePrefixes bool   `yaml:"unique_prefixes"`
	// Disabled turns off durable records entirely (forward-only relay).
	Disabled bool `yaml:"disabled"`
}

type WatchdogConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Hosts        []string      `yaml:"hosts"`
	OnlinePolicy string        `yaml:"online_policy"` // "eager" or "confirmed"
}

type FrontConfig struct {
	StatisticInterval time.Duration `yaml:"statistic_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
}

type ProviderConfig struct {
	Kind      string        `yaml:"kind"` // "bridge" or "mock"
	BridgeURL string        `yaml:"bridge_url"`
	MockTick  time.Duration `yaml:"mock_tick"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides holds the process environment surface. Every field is read
// once at startup; empty values leave the file configuration untouched.
type envOverrides struct {
	SessionID       string `env:"SESSIONID"`
	EnableRateLimit string `env:"ENABLE_RATE_LIMIT"`
	Port            string `env:"PORT"`
	LogLevel        string `env:"LOG_LEVEL"`
	LogFormat       string `env:"LOG_FORMAT"`
	SinkDir         string `env:"SINK_DIR"`
	BridgeURL       string `env:"BRIDGE_URL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      DefaultPort,
			Host:      "0.0.0.0",
			StaticDir: "public",
		},
		Session: SessionConfig{
			OpenTimeout: 30 * time.Second,
		},
		Admission: AdmissionConfig{
			MaxSessionsPerClient: 5,
			RequestsPerMinute:    10,
			Burst:                5,
		},
		Sink: SinkConfig{
			Dir:    "log",
			Format: "csv",
		},
		Watchdog: WatchdogConfig{
			Interval:     DefaultWatchdogInterval,
			OnlinePolicy: "eager",
		},
		Front: FrontConfig{
			StatisticInterval: DefaultStatisticInterval,
			SendBuffer:        256,
		},
		Provider: ProviderConfig{
			Kind:     "bridge",
			MockTick: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. Environment overrides
// are not applied; see LoadWithEnv.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Override adjusts a loaded config, typically from command-line flags.
type Override func(*Config)

// LoadWithEnv loads the file (or defaults), then an optional .env file, then
// applies the environment overrides and any explicit overrides, and
// validates the result.
func LoadWithEnv(path string, overrides ...Override) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	var ov envOverrides
	if err := env.Load(&ov, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if err := cfg.applyEnv(ov); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(ov envOverrides) error {
	if ov.SessionID != "" {
		c.Session.Credential = ov.SessionID
	}
	// Any non-empty value enables admission control.
	if ov.EnableRateLimit != "" {
		c.Admission.Enabled = true
	}
	if ov.Port != "" {
		port, err := strconv.Atoi(ov.Port)
		if err != nil {
			return fmt.Errorf("PORT must be numeric: %w", err)
		}
		c.Server.Port = port
	}
	if ov.LogLevel != "" {
		c.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		c.Log.Format = ov.LogFormat
	}
	if ov.SinkDir != "" {
		c.Sink.Dir = ov.SinkDir
	}
	if ov.BridgeURL != "" {
		c.Provider.BridgeURL = ov.BridgeURL
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Sink.Format) {
	case "csv", "legacy":
	default:
		return fmt.Errorf("sink.format must be csv or legacy, got %q", c.Sink.Format)
	}
	switch strings.ToLower(c.Watchdog.OnlinePolicy) {
	case "eager", "confirmed":
	default:
		return fmt.Errorf("watchdog.online_policy must be eager or confirmed, got %q", c.Watchdog.OnlinePolicy)
	}
	switch c.Provider.Kind {
	case "bridge":
		if c.Provider.BridgeURL == "" {
			return errors.New("provider.bridge_url is required for the bridge provider")
		}
	case "mock":
	default:
		return fmt.Errorf("provider.kind must be bridge or mock, got %q", c.Provider.Kind)
	}
	if c.Watchdog.Interval <= 0 {
		return errors.New("watchdog.interval must be positive")
	}
	if c.Front.StatisticInterval <= 0 {
		return errors.New("front.statistic_interval must be positive")
	}
	return nil
}
