// Package readiness waits for the detection backend to start listening.
package readiness

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"label-inspector/internal/infra/tracer"
)

// HealthCheck performs one reachability probe.
type HealthCheck func(ctx context.Context) error

// Config tunes the prober.
type Config struct {
	InitialDelay time.Duration // before the first attempt
	Interval     time.Duration // between refused attempts
}

// Outcome describes how probing ended.
type Outcome struct {
	Ready    bool
	Attempts int
	Err      error // the failure that made the prober give up, when not Ready
}

// Prober polls a health check until the backend answers. Only a refused
// connection is retried; any other failure ends probing optimistically so
// later operations can report their own errors.
type Prober struct {
	cfg       Config
	logger    *slog.Logger
	onAttempt func(attempt int, err error)
}

// New creates a Prober.
func New(cfg Config, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{cfg: cfg, logger: logger}
}

// OnAttempt registers a hook called after every attempt, e.g. to tick a spinner.
func (p *Prober) OnAttempt(fn func(attempt int, err error)) {
	p.onAttempt = fn
}

// WaitUntilReady runs check until it succeeds or fails with anything other
// than a refused connection. It only returns an error when ctx ends first.
func (p *Prober) WaitUntilReady(ctx context.Context, check HealthCheck) (Outcome, error) {
	ctx, span := tracer.StartSpan(ctx, "readiness.wait")
	defer span.End()

	if err := sleep(ctx, p.cfg.InitialDelay); err != nil {
		tracer.RecordError(span, err)
		return Outcome{}, err
	}

	var out Outcome
	for {
		out.Attempts++
		err := check(ctx)
		if p.onAttempt != nil {
			p.onAttempt(out.Attempts, err)
		}

		if err == nil {
			out.Ready = true
			p.logger.Info("backend is reachable", "attempts", out.Attempts)
			span.SetAttributes(tracer.IntAttr("attempts", out.Attempts))
			tracer.SetOK(span)
			return out, nil
		}

		if ctx.Err() != nil {
			tracer.RecordError(span, ctx.Err())
			return out, ctx.Err()
		}

		if !IsConnRefused(err) {
			out.Err = err
			p.logger.Warn("readiness check failed, continuing anyway", "attempts", out.Attempts, "error", err)
			span.SetAttributes(tracer.IntAttr("attempts", out.Attempts), tracer.BoolAttr("ready", false))
			tracer.SetOK(span)
			return out, nil
		}

		p.logger.Debug("waiting for backend to listen", "attempt", out.Attempts)
		if err := sleep(ctx, p.cfg.Interval); err != nil {
			tracer.RecordError(span, err)
			return out, err
		}
	}
}

// IsConnRefused reports whether err means nothing is listening yet.
func IsConnRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// Windows reports WSAECONNREFUSED, which syscall.ECONNREFUSED does not match.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
