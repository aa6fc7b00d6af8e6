package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Backend process lifecycle.
	EventBackendStarted EventType = "backend.started"
	EventBackendReady   EventType = "backend.ready"
	EventBackendExited  EventType = "backend.exited"
	EventBackendFatal   EventType = "backend.fatal"
	EventBackendStopped EventType = "backend.stopped"

	// Readiness probing.
	EventProbeAttempt EventType = "probe.attempt"

	// Command gateway.
	EventCommandCompleted EventType = "command.completed"

	// Operator surface.
	EventFrameRendered       EventType = "surface.frame"
	EventFallbackShown       EventType = "surface.fallback"
	EventErrorSurfaced       EventType = "surface.error"
	EventInspectionPending   EventType = "inspection.pending"
	EventInspectionCompleted EventType = "inspection.completed"
	EventInspectionFailed    EventType = "inspection.failed"
	EventPlayStateChanged    EventType = "stream.play_state"
	EventStreamStopped       EventType = "stream.stopped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.
// Payloads that fail to encode are dropped; the event itself is still delivered.
func NewEvent(t EventType, sessionID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// FramePayload is carried by EventFrameRendered.
type FramePayload struct {
	Seq   uint64 `json:"seq"`
	Image string `json:"image"`
}

// FallbackPayload is carried by EventFallbackShown.
type FallbackPayload struct {
	Target FallbackTarget `json:"target"`
	Image  FallbackImage  `json:"image"`
}

// ErrorPayload is carried by EventErrorSurfaced.
type ErrorPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// InspectionFailedPayload is carried by EventInspectionFailed.
type InspectionFailedPayload struct {
	Message string `json:"message"`
}

// PlayStatePayload is carried by EventPlayStateChanged.
type PlayStatePayload struct {
	Playing bool `json:"playing"`
}

// StreamStoppedPayload is carried by EventStreamStopped.
type StreamStoppedPayload struct {
	Generation uint64 `json:"generation"`
	Reason     string `json:"reason"`
	Frames     uint64 `json:"frames"`
}

// CommandPayload is carried by EventCommandCompleted.
type CommandPayload struct {
	Op         string `json:"op"`
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ProbePayload is carried by EventProbeAttempt.
type ProbePayload struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}
