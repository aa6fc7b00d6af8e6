// Package uxerror translates raw errors into operator-friendly messages with
// recovery hints.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"label-inspector/internal/adapter/tui/theme"
	"label-inspector/internal/domain"
)

// FriendlyError is an operator-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Backend Not Found"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text
}

// Render formats the FriendlyError as plain text.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinel errors (checked first so errors.Is works through wrapping).
	{
		match: isErr(domain.ErrExecutableNotFound),
		produce: constantError("Backend Not Found",
			"The detection backend executable could not be located.",
			[]string{"Check launch.executable and launch.backend_root in the config", "Run 'inspector doctor' to see the resolved paths"}),
	},
	{
		match: isErr(domain.ErrBackendModule),
		produce: constantError("Backend Module Missing",
			"The detection backend started but could not import a required module.",
			[]string{"Reinstall the backend dependencies", "In development mode, activate the backend's virtual environment"}),
	},
	{
		match: isErr(domain.ErrBackendSpawn),
		produce: constantError("Backend Failed To Start",
			"The detection backend process could not be started.",
			[]string{"Check that the executable has execute permission", "Check launch.work_dir exists"}),
	},
	{
		match: isErr(domain.ErrConfigLoad),
		produce: constantError("Configuration Error",
			"The configuration file could not be loaded.",
			[]string{"Run 'inspector doctor' to validate the config", "Check INSPECTOR_* environment overrides"}),
	},
	{
		match: isErr(domain.ErrCircuitOpen),
		produce: constantError("Backend Unavailable",
			"Too many backend calls failed; requests are paused for a while.",
			[]string{"Check the backend logs", "Wait for the breaker timeout and retry"}),
	},
	{
		match: isErr(domain.ErrBackendNotReady),
		produce: constantError("Backend Not Ready",
			"The detection backend did not answer readiness probes in time.",
			[]string{"Increase readiness.timeout for slow model loading", "Check that nothing else uses the backend port"}),
	},

	// Network / connectivity patterns (string matching for external errors).
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the detection backend.",
			[]string{"Check that the backend is running", "Verify backend.base_url in the config"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The backend took too long to answer.",
			[]string{"Check the camera connection", "Increase backend.request_timeout or backend.process_timeout"}),
	},
	{
		match: containsAny("address already in use"),
		produce: constantError("Port In Use", "Another process is listening on a port the station needs.",
			[]string{"Stop the other station instance", "Change gateway.addr in the config"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for more details"},
		Raw:     err.Error(),
	}
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
