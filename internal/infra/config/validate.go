package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBackend(cfg, ve)
	validateLaunch(cfg, ve)
	validateReadiness(cfg, ve)
	validateStream(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBackend(cfg *Config, ve *ValidationError) {
	b := cfg.Backend
	if b.BaseURL == "" {
		ve.Add("backend.base_url is required")
	} else if u, err := url.Parse(b.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("backend.base_url %q must be an absolute http(s) URL", b.BaseURL)
	}
	if b.RequestTimeout <= 0 {
		ve.Add("backend.request_timeout must be > 0")
	}
	if b.ProcessTimeout <= 0 {
		ve.Add("backend.process_timeout must be > 0")
	}
	if b.CloseTimeout <= 0 {
		ve.Add("backend.close_timeout must be > 0")
	}
	if b.Breaker.Enabled {
		if b.Breaker.MaxFailures == 0 {
			ve.Add("backend.breaker.max_failures must be > 0 when the breaker is enabled")
		}
		if b.Breaker.Timeout <= 0 {
			ve.Add("backend.breaker.timeout must be > 0 when the breaker is enabled")
		}
	}
}

var validLaunchModes = map[string]bool{
	LaunchAuto:        true,
	LaunchPackaged:    true,
	LaunchDevelopment: true,
	LaunchExternal:    true,
}

func validateLaunch(cfg *Config, ve *ValidationError) {
	l := cfg.Launch
	if !validLaunchModes[l.Mode] {
		ve.Add("launch.mode %q is invalid (want auto, packaged, development or external)", l.Mode)
	}
	if l.StopTimeout <= 0 {
		ve.Add("launch.stop_timeout must be > 0")
	}
	if l.OutputMax <= 0 {
		ve.Add("launch.output_max must be > 0")
	}
	for i, kv := range l.Env {
		if !strings.Contains(kv, "=") {
			ve.Add("launch.env[%d] %q must be KEY=VALUE", i, kv)
		}
	}
}

func validateReadiness(cfg *Config, ve *ValidationError) {
	r := cfg.Readiness
	if r.InitialDelay < 0 {
		ve.Add("readiness.initial_delay must be >= 0")
	}
	if r.Interval <= 0 {
		ve.Add("readiness.interval must be > 0")
	}
	if r.Timeout <= 0 {
		ve.Add("readiness.timeout must be > 0")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.FrameInterval <= 0 {
		ve.Add("stream.frame_interval must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	rl := cfg.Gateway.RateLimit
	if rl.Enabled {
		if rl.RequestsPerMinute <= 0 {
			ve.Add("gateway.rate_limit.requests_per_minute must be > 0 when enabled")
		}
		if rl.Burst <= 0 {
			ve.Add("gateway.rate_limit.burst must be > 0 when enabled")
		}
	}
}

var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Format != "" && !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{"": true, "noop": true, "stdout": true}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want noop or stdout)", cfg.Tracer.Exporter)
	}
}
