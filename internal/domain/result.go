package domain

import (
	"encoding/json"
	"fmt"
)

// unknownFailure replaces empty failure messages.
const unknownFailure = "unknown error"

// Result is the tagged outcome every gateway operation returns: either a
// payload or a human-readable failure message, never both.
type Result[T any] struct {
	payload T
	message string
	ok      bool
}

// Success wraps a payload.
func Success[T any](payload T) Result[T] {
	return Result[T]{payload: payload, ok: true}
}

// Failure wraps a message. An empty message is replaced so a failure always
// carries something an operator can read.
func Failure[T any](message string) Result[T] {
	if message == "" {
		message = unknownFailure
	}
	return Result[T]{message: message}
}

// Failuref is Failure with fmt.Sprintf formatting.
func Failuref[T any](format string, args ...any) Result[T] {
	return Failure[T](fmt.Sprintf(format, args...))
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool { return r.ok }

// Payload returns the payload. It is the zero value for failures.
func (r Result[T]) Payload() T { return r.payload }

// Message returns the failure message, or "" for successes.
func (r Result[T]) Message() string { return r.message }

// Get returns the payload and whether the result is a success.
func (r Result[T]) Get() (T, bool) { return r.payload, r.ok }

type resultJSON[T any] struct {
	OK      bool   `json:"ok"`
	Payload *T     `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// MarshalJSON encodes {"ok":true,"payload":...} or {"ok":false,"message":...}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{OK: r.ok}
	if r.ok {
		p := r.payload
		out.Payload = &p
	} else {
		out.Message = r.message
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the shape produced by MarshalJSON.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var in resultJSON[T]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.OK {
		var p T
		if in.Payload != nil {
			p = *in.Payload
		}
		*r = Success(p)
		return nil
	}
	*r = Failure[T](in.Message)
	return nil
}
