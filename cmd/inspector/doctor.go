package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"label-inspector/internal/infra/config"
	"label-inspector/internal/infra/launch"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// dialTimeout bounds the port checks.
const dialTimeout = 500 * time.Millisecond

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the config, the backend layout and the station ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor executes all health checks and reports results.
func runDoctor(out io.Writer) error {
	path := configPath()

	// Checks after the first one are skipped when the config does not load.
	cfg, cfgErr := config.Load(path)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(path, cfgErr)},
		{Name: "Backend executable", Fn: checkExecutable},
		{Name: "Backend script", Fn: checkScript},
		{Name: "Backend port", Fn: checkBackendPort},
		{Name: "Gateway port", Fn: checkGatewayPort},
	}

	fmt.Fprintln(out, "inspector doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(out, "\nFix the FAIL issues above before starting the station.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\nThe station should start, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed! The station is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func skipped() CheckResult {
	return CheckResult{Status: StatusWarn, Message: "skipped, config did not load"}
}

// checkConfigFile returns a check that verifies the config file loads. A
// missing file is only a warning: the station runs on defaults.
func checkConfigFile(path string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the YAML in %s and any INSPECTOR_* overrides", path),
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults", path),
				Fix:     "Create the file or pass --config to pin the station settings",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", path),
		}
	}
}

func checkExecutable(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	spec, err := launch.Resolve(cfg.Launch)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Set launch.mode or launch.backend_root"}
	}
	if spec.External() {
		return CheckResult{Status: StatusPass, Message: "external backend, nothing to launch"}
	}
	exe, err := exec.LookPath(spec.Executable)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s (%s mode): %v", spec.Executable, spec.Mode, err),
			Fix:     "Install the backend runtime or set launch.executable",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%s mode)", exe, spec.Mode)}
}

func checkScript(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	spec, err := launch.Resolve(cfg.Launch)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if spec.External() || spec.Script == "" {
		return CheckResult{Status: StatusPass, Message: "no script to run"}
	}
	if _, err := os.Stat(spec.Script); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %v", spec.Script, err),
			Fix:     "Set launch.script or launch.project_root",
		}
	}
	if spec.WorkDir != "" {
		if info, err := os.Stat(spec.WorkDir); err != nil || !info.IsDir() {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("script found, but work dir %s is not a directory", spec.WorkDir),
				Fix:     "Set launch.work_dir",
			}
		}
	}
	return CheckResult{Status: StatusPass, Message: spec.Script}
}

// checkBackendPort dials the backend address. A managed backend should find
// the port free; an external one should already be listening.
func checkBackendPort(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	addr, err := hostPort(cfg.Backend.BaseURL)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Fix backend.base_url"}
	}
	external := cfg.Launch.Mode == config.LaunchExternal

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err == nil {
		conn.Close()
		if external {
			return CheckResult{Status: StatusPass, Message: fmt.Sprintf("backend reachable at %s", addr)}
		}
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("something already listens on %s; the station will talk to it instead of its own backend", addr),
			Fix:     "Stop the other process or another station instance",
		}
	}
	if external {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("external backend not reachable at %s: %v", addr, err),
			Fix:     "Start the backend before the station",
		}
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("%s: %v", addr, err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is free", addr)}
}

func checkGatewayPort(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the other station instance or change gateway.addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is free", cfg.Gateway.Addr)}
}

// hostPort extracts host:port from a base URL, defaulting the port by scheme.
func hostPort(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
