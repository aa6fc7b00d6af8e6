package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerBackend wraps a domain.Backend with circuit breaker protection.
// When the backend keeps failing at the transport level the circuit opens and
// calls fail fast instead of piling 33ms frame requests onto a dead socket.
type BreakerBackend struct {
	inner   domain.Backend
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerBackend wraps inner with a circuit breaker.
// Zero-valued settings fall back to defaults.
func NewBreakerBackend(inner domain.Backend, cfg config.BreakerConfig, logger *slog.Logger) *BreakerBackend {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A rejection comes from a live backend and must not trip the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrBackendRejected)
		},
	})

	return &BreakerBackend{inner: inner, breaker: cb, logger: logger}
}

// execute runs fn through the breaker and restores the concrete result type.
func execute[T any](b *BreakerBackend, op string, fn func() (T, error)) (T, error) {
	var out T
	_, err := b.breaker.Execute(func() (any, error) {
		var innerErr error
		out, innerErr = fn()
		return nil, innerErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, domain.NewSubSystemError("backend", op, domain.ErrCircuitOpen, fmt.Sprint(err))
	}
	return out, err
}

// InitCamera implements domain.Backend.
func (b *BreakerBackend) InitCamera(ctx context.Context) (domain.CameraInit, error) {
	return execute(b, pathCameraInit, func() (domain.CameraInit, error) { return b.inner.InitCamera(ctx) })
}

// Frame implements domain.Backend.
func (b *BreakerBackend) Frame(ctx context.Context) (domain.Frame, error) {
	return execute(b, pathCameraFrame, func() (domain.Frame, error) { return b.inner.Frame(ctx) })
}

// Process implements domain.Backend.
func (b *BreakerBackend) Process(ctx context.Context) (domain.InspectionResult, error) {
	return execute(b, pathProcess, func() (domain.InspectionResult, error) { return b.inner.Process(ctx) })
}

// SetPlayPause implements domain.Backend.
func (b *BreakerBackend) SetPlayPause(ctx context.Context, playing bool) (domain.Ack, error) {
	return execute(b, pathPlayPause, func() (domain.Ack, error) { return b.inner.SetPlayPause(ctx, playing) })
}

// CloseCamera implements domain.Backend. It bypasses the breaker: shutdown
// should still reach a backend the circuit has given up on.
func (b *BreakerBackend) CloseCamera(ctx context.Context) error {
	return b.inner.CloseCamera(ctx)
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}

// Status reports the breaker state and its counts for the current interval.
func (b *BreakerBackend) Status() domain.BreakerStatus {
	counts := b.breaker.Counts()
	return domain.BreakerStatus{
		State:               b.breaker.State().String(),
		Requests:            counts.Requests,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
	}
}

var _ domain.Backend = (*BreakerBackend)(nil)
