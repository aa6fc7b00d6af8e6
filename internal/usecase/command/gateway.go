// Package command is the station's single entry point to the detection
// backend. Every operation returns a domain.Result and never an error.
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/tracer"
)

// Operation names, shared with the operator gateway's RPC methods.
const (
	OpInitCamera   = "camera.init"
	OpGetFrame     = "camera.frame"
	OpCloseCamera  = "camera.close"
	OpProcessImage = "inspection.process"
	OpSetPlayPause = "stream.play_pause"
	OpReportError  = "error.report"
)

// Config holds gateway tuning.
type Config struct {
	CloseTimeout time.Duration // bound on the fire-and-forget camera close (default: 2s)
}

// Gateway wraps a domain.Backend and turns every outcome, including panics,
// into a domain.Result.
type Gateway struct {
	backend  domain.Backend
	reporter domain.ErrorReporter
	bus      domain.EventBus
	config   Config
	logger   *slog.Logger
}

// New creates a Gateway. reporter and bus may be nil.
func New(backend domain.Backend, reporter domain.ErrorReporter, bus domain.EventBus, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		backend:  backend,
		reporter: reporter,
		bus:      bus,
		config:   cfg,
		logger:   logger,
	}
}

// InitCamera asks the backend to open the camera. A backend answer of
// success=false is a Failure carrying the backend's message.
func (g *Gateway) InitCamera(ctx context.Context) domain.Result[domain.CameraInit] {
	return invoke(ctx, g, OpInitCamera, g.backend.InitCamera)
}

// GetFrame fetches the latest camera frame.
func (g *Gateway) GetFrame(ctx context.Context) domain.Result[domain.Frame] {
	return invoke(ctx, g, OpGetFrame, g.backend.Frame)
}

// ProcessImage runs one inspection on the current frame.
func (g *Gateway) ProcessImage(ctx context.Context) domain.Result[domain.InspectionResult] {
	return invoke(ctx, g, OpProcessImage, g.backend.Process)
}

// SetPlayPause tells the backend whether the feed is playing.
func (g *Gateway) SetPlayPause(ctx context.Context, playing bool) domain.Result[domain.Ack] {
	return invoke(ctx, g, OpSetPlayPause, func(ctx context.Context) (domain.Ack, error) {
		return g.backend.SetPlayPause(ctx, playing)
	})
}

// ReportError shows an operator-visible error.
func (g *Gateway) ReportError(ctx context.Context, title, message string) domain.Result[domain.Ack] {
	return invoke(ctx, g, OpReportError, func(ctx context.Context) (domain.Ack, error) {
		if g.reporter == nil {
			return domain.Ack{}, errors.New("no error reporter attached")
		}
		g.reporter.ShowError(ctx, title, message)
		return domain.Ack{Success: true}, nil
	})
}

// CloseCamera releases the camera in the background and returns immediately.
// The returned channel is closed when the attempt ends; the attempt is
// bounded by Config.CloseTimeout and survives cancellation of ctx.
func (g *Gateway) CloseCamera(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.CloseTimeout)
	go func() {
		defer close(done)
		defer cancel()
		res := invoke(ctx, g, OpCloseCamera, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.backend.CloseCamera(ctx)
		})
		if !res.OK() {
			g.logger.Warn("camera close failed", "error", res.Message())
		}
	}()
	return done
}

// invoke runs one backend operation inside a span and converts its outcome
// into a Result. A panic in fn becomes a Failure.
func invoke[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context) (T, error)) (res domain.Result[T]) {
	ctx, span := tracer.StartSpan(ctx, "command."+op)
	defer span.End()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("command panicked", "op", op, "panic", r)
			res = domain.Failuref[T]("%s: internal error: %v", op, r)
		}

		elapsed := time.Since(start)
		span.SetAttributes(tracer.BoolAttr("command.ok", res.OK()), tracer.DurationAttr("command.duration", elapsed))
		if res.OK() {
			tracer.SetOK(span)
			g.logger.Debug("command completed", "op", op, "duration", elapsed)
		} else {
			tracer.RecordFailure(span, res.Message())
			g.logger.Warn("command failed", "op", op, "error", res.Message(), "duration", elapsed)
		}
		g.publish(ctx, domain.CommandPayload{
			Op:         op,
			OK:         res.OK(),
			Message:    res.Message(),
			DurationMs: elapsed.Milliseconds(),
		})
	}()

	v, err := fn(ctx)
	if err != nil {
		return domain.Failure[T](FailureMessage(err))
	}
	return domain.Success(v)
}

// FailureMessage renders err for an operator. A backend rejection shows the
// backend's own message; anything else shows the full error text.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *domain.DomainError
	if errors.Is(err, domain.ErrBackendRejected) && errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

func (g *Gateway) publish(ctx context.Context, payload domain.CommandPayload) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(ctx, domain.NewEvent(domain.EventCommandCompleted, "", payload))
}
