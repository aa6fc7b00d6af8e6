package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "INSPECTOR_"

// DefaultPath is used when neither --config nor INSPECTOR_CONFIG is set.
const DefaultPath = "inspector.yaml"

// Config is the top-level application configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Launch    LaunchConfig    `yaml:"launch"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Stream    StreamConfig    `yaml:"stream"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// BackendConfig describes how the detection backend is reached over HTTP.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"` // inspection runs OCR, it is slower than frame fetches
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the optional circuit breaker around backend calls.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Launch modes.
const (
	LaunchAuto        = "auto"
	LaunchPackaged    = "packaged"
	LaunchDevelopment = "development"
	LaunchExternal    = "external"
)

// LaunchConfig selects how the backend process is started. Explicit paths
// override whatever the mode resolves.
type LaunchConfig struct {
	Mode        string        `yaml:"mode"`
	Executable  string        `yaml:"executable"`
	Script      string        `yaml:"script"`
	WorkDir     string        `yaml:"work_dir"`
	BackendRoot string        `yaml:"backend_root"` // packaged layout root, default <exe dir>/../py_backend
	ProjectRoot string        `yaml:"project_root"` // development layout root, default cwd
	Args        []string      `yaml:"args,omitempty"`
	Env         []string      `yaml:"env,omitempty"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	OutputMax   int           `yaml:"output_max"` // stderr tail kept for crash reports, bytes
}

// ReadinessConfig tunes startup probing.
type ReadinessConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StreamConfig tunes the frame loop.
type StreamConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// GatewayConfig holds operator gateway settings.
type GatewayConfig struct {
	Enabled        bool            `yaml:"enabled"`
	Addr           string          `yaml:"addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-client HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config matching the station's stock deployment.
func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:5000/api",
			RequestTimeout: 10 * time.Second,
			ProcessTimeout: 60 * time.Second,
			CloseTimeout:   2 * time.Second,
			Breaker: BreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		},
		Launch: LaunchConfig{
			Mode:        LaunchAuto,
			StopTimeout: 5 * time.Second,
			OutputMax:   64 * 1024,
		},
		Readiness: ReadinessConfig{
			InitialDelay: 2 * time.Second,
			Interval:     500 * time.Millisecond,
			Timeout:      90 * time.Second,
		},
		Stream: StreamConfig{
			FrameInterval: 33 * time.Millisecond,
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			Addr:           "127.0.0.1:8765",
			AllowedOrigins: []string{"http://127.0.0.1:8765", "http://localhost:8765"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             60,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// PathFromEnv returns the config path from INSPECTOR_CONFIG, or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads a YAML config file, applies env var overrides, and validates.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps INSPECTOR_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	envString("BACKEND_BASE_URL", &cfg.Backend.BaseURL)
	envDuration("BACKEND_REQUEST_TIMEOUT", &cfg.Backend.RequestTimeout)
	envDuration("BACKEND_PROCESS_TIMEOUT", &cfg.Backend.ProcessTimeout)
	envDuration("BACKEND_CLOSE_TIMEOUT", &cfg.Backend.CloseTimeout)
	envBool("BACKEND_BREAKER_ENABLED", &cfg.Backend.Breaker.Enabled)

	envString("LAUNCH_MODE", &cfg.Launch.Mode)
	envString("LAUNCH_EXECUTABLE", &cfg.Launch.Executable)
	envString("LAUNCH_SCRIPT", &cfg.Launch.Script)
	envString("LAUNCH_WORK_DIR", &cfg.Launch.WorkDir)
	envString("LAUNCH_BACKEND_ROOT", &cfg.Launch.BackendRoot)
	envString("LAUNCH_PROJECT_ROOT", &cfg.Launch.ProjectRoot)

	envDuration("READINESS_INITIAL_DELAY", &cfg.Readiness.InitialDelay)
	envDuration("READINESS_INTERVAL", &cfg.Readiness.Interval)
	envDuration("READINESS_TIMEOUT", &cfg.Readiness.Timeout)

	envDuration("STREAM_FRAME_INTERVAL", &cfg.Stream.FrameInterval)

	envBool("GATEWAY_ENABLED", &cfg.Gateway.Enabled)
	envString("GATEWAY_ADDR", &cfg.Gateway.Addr)
	if v := os.Getenv(EnvPrefix + "GATEWAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gateway.RateLimit.RequestsPerMinute = n
		}
	}

	envString("LOGGER_LEVEL", &cfg.Logger.Level)
	envString("LOGGER_FORMAT", &cfg.Logger.Format)
	envString("LOGGER_OUTPUT", &cfg.Logger.Output)
	envBool("TRACER_ENABLED", &cfg.Tracer.Enabled)
	envString("TRACER_EXPORTER", &cfg.Tracer.Exporter)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(EnvPrefix + key)) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
