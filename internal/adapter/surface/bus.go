// Package surface renders by publishing domain events; the operator gateway
// and console subscribe to them.
package surface

import (
	"context"

	"label-inspector/internal/domain"
)

// BusSurface implements domain.Surface on top of an event bus.
type BusSurface struct {
	bus       domain.EventBus
	sessionID string
}

// NewBusSurface creates a surface that publishes to bus. sessionID tags every
// event, e.g. with the backend run ID.
func NewBusSurface(bus domain.EventBus, sessionID string) *BusSurface {
	return &BusSurface{bus: bus, sessionID: sessionID}
}

func (s *BusSurface) publish(ctx context.Context, t domain.EventType, payload any) {
	s.bus.Publish(ctx, domain.NewEvent(t, s.sessionID, payload))
}

// ShowFrame implements domain.Surface.
func (s *BusSurface) ShowFrame(ctx context.Context, frame domain.Frame) {
	s.publish(ctx, domain.EventFrameRendered, domain.FramePayload{Seq: frame.Seq, Image: frame.Image})
}

// ShowFallback implements domain.Surface.
func (s *BusSurface) ShowFallback(ctx context.Context, target domain.FallbackTarget, image domain.FallbackImage) {
	s.publish(ctx, domain.EventFallbackShown, domain.FallbackPayload{Target: target, Image: image})
}

// ShowError implements domain.Surface and domain.ErrorReporter.
func (s *BusSurface) ShowError(ctx context.Context, title, message string) {
	s.publish(ctx, domain.EventErrorSurfaced, domain.ErrorPayload{Title: title, Message: message})
}

// ShowFatal surfaces an error the station cannot recover from.
func (s *BusSurface) ShowFatal(ctx context.Context, title, message string) {
	s.publish(ctx, domain.EventErrorSurfaced, domain.ErrorPayload{Title: title, Message: message, Fatal: true})
}

// ShowInspectionPending implements domain.Surface.
func (s *BusSurface) ShowInspectionPending(ctx context.Context) {
	s.publish(ctx, domain.EventInspectionPending, nil)
}

// ShowInspection implements domain.Surface.
func (s *BusSurface) ShowInspection(ctx context.Context, result domain.InspectionResult) {
	s.publish(ctx, domain.EventInspectionCompleted, result)
}

// ShowInspectionFailed implements domain.Surface.
func (s *BusSurface) ShowInspectionFailed(ctx context.Context, message string) {
	s.publish(ctx, domain.EventInspectionFailed, domain.InspectionFailedPayload{Message: message})
}

// ShowPlayState implements domain.Surface.
func (s *BusSurface) ShowPlayState(ctx context.Context, playing bool) {
	s.publish(ctx, domain.EventPlayStateChanged, domain.PlayStatePayload{Playing: playing})
}

var (
	_ domain.Surface       = (*BusSurface)(nil)
	_ domain.ErrorReporter = (*BusSurface)(nil)
)
