// Package console implements the operator's terminal view of the station.
package console

import (
	"time"

	"label-inspector/internal/domain"
)

// EventBusMsg wraps a domain.Event from the EventBus subscription.
type EventBusMsg struct {
	Event domain.Event
}

// ActionDoneMsg carries the outcome of a key-triggered station action.
type ActionDoneMsg struct {
	Op      string
	OK      bool
	Message string
}

// tickMsg drives the fps meter and backend status refresh.
type tickMsg time.Time
