package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"label-inspector/internal/domain"
)

func TestTerminalOutput(t *testing.T) {
	for _, out := range []string{"", "stderr", "STDOUT"} {
		assert.True(t, terminalOutput(out), out)
	}
	assert.False(t, terminalOutput("/var/log/inspector.log"))
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://127.0.0.1:8765", "https://station.local", "localhost:*"})
	assert.Equal(t, []string{"127.0.0.1:8765", "station.local", "localhost:*"}, got)

	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a", "*"}))
	assert.Empty(t, originPatterns(nil))
}

func TestStationFailure_Unwraps(t *testing.T) {
	base := domain.NewSubSystemError("supervisor", "Supervisor.Start", domain.ErrExecutableNotFound, "python3")
	var err error = &stationFailure{err: base, stderrTail: "Traceback"}

	assert.True(t, errors.Is(err, domain.ErrExecutableNotFound))
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, base.Error(), err.Error())
}

func TestRenderFatal(t *testing.T) {
	err := fmt.Errorf("start: %w", domain.NewSubSystemError("backend", "Supervisor.Start", domain.ErrBackendModule, "ModuleNotFoundError: No module named 'cv2'"))
	out := renderFatal(err, "line 1\nModuleNotFoundError: No module named 'cv2'\n")

	assert.Contains(t, out, "Backend Module Missing")
	assert.Contains(t, out, "No module named 'cv2'")
	assert.Contains(t, out, "Backend output:")
}

func TestRenderFatal_TruncatesTail(t *testing.T) {
	tail := strings.Repeat("x", stderrTailReport*2) + "END"
	out := renderFatal(errors.New("boom"), tail)
	assert.Contains(t, out, "END")
	assert.Less(t, strings.Count(out, "x"), stderrTailReport*2)
}

func TestPrintFatal_NoTail(t *testing.T) {
	var buf bytes.Buffer
	printFatal(&buf, errors.New("listen tcp 127.0.0.1:8765: bind: address already in use"), "")
	assert.Contains(t, buf.String(), "Port In Use")
	assert.NotContains(t, buf.String(), "Backend output:")
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func TestAttemptHooks(t *testing.T) {
	bus := &recordingBus{}
	var calls []int
	hook := chainAttempts(publishAttempts(context.Background(), bus), func(n int, _ error) {
		calls = append(calls, n)
	})

	hook(1, errors.New("connection refused"))
	hook(2, nil)

	assert.Equal(t, []int{1, 2}, calls)
	if assert.Len(t, bus.events, 2) {
		assert.Equal(t, domain.EventProbeAttempt, bus.events[0].Type)
		assert.Contains(t, string(bus.events[0].Payload), "connection refused")
		assert.NotContains(t, string(bus.events[1].Payload), "error")
	}
}

func TestProbeSpinner_NilSafe(t *testing.T) {
	var s *probeSpinner
	s.Attempt(1, nil)
	s.Finish()

	var buf bytes.Buffer
	s = newProbeSpinner(&buf, "waiting")
	s.Attempt(1, nil)
	s.Finish()
	s.Finish()
	s.Attempt(2, nil)
}
