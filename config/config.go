// Package config defines the immutable benchmark configuration and loads it
// from defaults, an optional YAML file and HTTPBENCH_ environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variables that override the
// configuration. Nested keys are separated by a double underscore, e.g.
// HTTPBENCH_WARMUP__ITERATIONS=1.
const EnvPrefix = "HTTPBENCH_"

// Transport protocols understood by the server and client.
const (
	ProtocolHTTP1 = "http1"
	ProtocolH2C   = "h2c"
)

// Config is the full benchmark configuration. It is treated as immutable
// once a run has started.
type Config struct {
	// Forks is the number of child processes the benchmark is repeated in.
	// Zero runs the benchmark in the current process.
	Forks       int           `koanf:"forks" json:"forks"`
	Workers     int           `koanf:"workers" json:"workers"`
	Warmup      Phase         `koanf:"warmup" json:"warmup"`
	Measurement Phase         `koanf:"measurement" json:"measurement"`
	Server      ServerConfig  `koanf:"server" json:"server"`
	Client      ClientConfig  `koanf:"client" json:"client"`
	Logging     LoggingConfig `koanf:"logging" json:"logging"`
}

// Phase is a number of fixed-duration iterations.
type Phase struct {
	Iterations int           `koanf:"iterations" json:"iterations"`
	Duration   time.Duration `koanf:"duration" json:"duration"`
}

// Total returns the wall-clock time spent in the phase.
func (p Phase) Total() time.Duration {
	return time.Duration(p.Iterations) * p.Duration
}

// ServerConfig configures the server-under-test.
type ServerConfig struct {
	// Addr is host:port. Port 0 binds a free port.
	Addr            string        `koanf:"addr" json:"addr"`
	Protocol        string        `koanf:"protocol" json:"protocol"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	// FailAfter makes the server answer 500 from the FailAfter-th request
	// on. Zero disables fault injection.
	FailAfter int64 `koanf:"fail_after" json:"fail_after"`
}

// ClientConfig configures the shared HTTP client.
type ClientConfig struct {
	Timeout time.Duration `koanf:"timeout" json:"timeout"`
	// Protocol defaults to the server protocol when empty.
	Protocol string `koanf:"protocol" json:"protocol"`
	BasePath string `koanf:"base_path" json:"base_path"`
}

// LoggingConfig holds the log level.
type LoggingConfig struct {
	Level string `koanf:"level" json:"level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Forks:   1,
		Workers: 64,
		Warmup: Phase{
			Iterations: 2,
			Duration:   5 * time.Second,
		},
		Measurement: Phase{
			Iterations: 3,
			Duration:   5 * time.Second,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			Protocol:        ProtocolHTTP1,
			ShutdownTimeout: 5 * time.Second,
		},
		Client: ClientConfig{
			Timeout:  10 * time.Second,
			BasePath: "/",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaults() map[string]interface{} {
	d := Default()

	return map[string]interface{}{
		"forks":                   d.Forks,
		"workers":                 d.Workers,
		"warmup.iterations":       d.Warmup.Iterations,
		"warmup.duration":         d.Warmup.Duration.String(),
		"measurement.iterations":  d.Measurement.Iterations,
		"measurement.duration":    d.Measurement.Duration.String(),
		"server.addr":             d.Server.Addr,
		"server.protocol":         d.Server.Protocol,
		"server.shutdown_timeout": d.Server.ShutdownTimeout.String(),
		"server.fail_after":       d.Server.FailAfter,
		"client.timeout":          d.Client.Timeout.String(),
		"client.protocol":         d.Client.Protocol,
		"client.base_path":        d.Client.BasePath,
		"logging.level":           d.Logging.Level,
	}
}

// Load builds a Config from defaults, the YAML file at path (if path is
// non-empty) and HTTPBENCH_ environment variables, in increasing priority.
// The result is validated.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("access config file %s: %w", path, err)
		}

		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKey maps HTTPBENCH_SERVER__SHUTDOWN_TIMEOUT to server.shutdown_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Forks < 0 {
		return fmt.Errorf("forks must not be negative, got %d", c.Forks)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if c.Warmup.Iterations < 0 {
		return fmt.Errorf(
			"warmup iterations must not be negative, got %d",
			c.Warmup.Iterations,
		)
	}

	if c.Warmup.Iterations > 0 && c.Warmup.Duration <= 0 {
		return fmt.Errorf(
			"warmup duration must be positive, got %s", c.Warmup.Duration,
		)
	}

	if c.Measurement.Iterations < 1 {
		return fmt.Errorf(
			"measurement iterations must be at least 1, got %d",
			c.Measurement.Iterations,
		)
	}

	if c.Measurement.Duration <= 0 {
		return fmt.Errorf(
			"measurement duration must be positive, got %s",
			c.Measurement.Duration,
		)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server address must be set")
	}

	if err := checkProtocol(c.Server.Protocol); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if c.Client.Protocol != "" {
		if err := checkProtocol(c.Client.Protocol); err != nil {
			return fmt.Errorf("client: %w", err)
		}
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf(
			"server shutdown timeout must be positive, got %s",
			c.Server.ShutdownTimeout,
		)
	}

	if c.Server.FailAfter < 0 {
		return fmt.Errorf(
			"server fail_after must not be negative, got %d",
			c.Server.FailAfter,
		)
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf(
			"client timeout must be positive, got %s", c.Client.Timeout,
		)
	}

	if !strings.HasPrefix(c.Client.BasePath, "/") {
		return fmt.Errorf(
			"client base path must start with /, got %q", c.Client.BasePath,
		)
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

func checkProtocol(p string) error {
	switch p {
	case ProtocolHTTP1, ProtocolH2C:
		return nil
	default:
		return fmt.Errorf(
			"unknown protocol %q (must be %s or %s)",
			p, ProtocolHTTP1, ProtocolH2C,
		)
	}
}

// ClientProtocol returns the protocol the client speaks.
func (c Config) ClientProtocol() string {
	if c.Client.Protocol != "" {
		return c.Client.Protocol
	}

	return c.Server.Protocol
}

// RunTimeout bounds a single in-process run: every iteration plus server
// shutdown plus one request timeout per phase boundary, with a minute of
// slack for setup.
func (c Config) RunTimeout() time.Duration {
	iterations := c.Warmup.Iterations + c.Measurement.Iterations

	return c.Warmup.Total() + c.Measurement.Total() +
		c.Server.ShutdownTimeout +
		time.Duration(iterations)*c.Client.Timeout +
		time.Minute
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			level,
		)
	}
}
