package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-inspector/internal/domain"
	"label-inspector/internal/usecase/readiness"
)

// TestHelperProcess is not a real test. The supervisor tests re-execute the
// test binary with GO_WANT_HELPER_PROCESS=1 to get a controllable backend.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "module-error":
		fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
		fmt.Fprintln(os.Stderr, `  File "detector.py", line 3, in <module>`)
		fmt.Fprintln(os.Stderr, "ModuleNotFoundError: No module named 'cv2'")
		time.Sleep(30 * time.Second)
	case "exit":
		fmt.Fprintln(os.Stderr, "ERROR: camera index out of range")
		os.Exit(3)
	case "serve":
		fmt.Fprintln(os.Stdout, " * Running on http://127.0.0.1:5000")
		time.Sleep(30 * time.Second)
	}
	os.Exit(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()               { return func() {} }
func (b *recordingBus) Close()                                                {}

func (b *recordingBus) Types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		types[i] = e.Type
	}
	return types
}

func helperSpec(t *testing.T, mode string) LaunchSpec {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return LaunchSpec{
		Executable: exe,
		Args:       []string{"-test.run=^TestHelperProcess$"},
		Env:        []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		Mode:       "development",
	}
}

func fastProber() *readiness.Prober {
	return readiness.New(readiness.Config{Interval: 10 * time.Millisecond}, newTestLogger())
}

func refused(context.Context) error {
	return fmt.Errorf("dial tcp 127.0.0.1:5000: %w", syscall.ECONNREFUSED)
}

func newTestSupervisor(t *testing.T, spec LaunchSpec, cfg Config, check readiness.HealthCheck, bus domain.EventBus) *Supervisor {
	t.Helper()
	s := New(spec, cfg, fastProber(), check, bus, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestStart_ExecutableNotFound(t *testing.T) {
	bus := &recordingBus{}
	spec := LaunchSpec{Executable: "definitely-not-a-python-interpreter", Script: "detector.py"}
	s := newTestSupervisor(t, spec, Config{}, refused, bus)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecutableNotFound)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.BackendStateFailed, s.Status().State)
	assert.Equal(t, []domain.EventType{domain.EventBackendFatal}, bus.Types())
}

func TestStart_ModuleErrorIsFatal(t *testing.T) {
	bus := &recordingBus{}
	s := newTestSupervisor(t, helperSpec(t, "module-error"), Config{ReadyTimeout: 10 * time.Second}, refused, bus)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendModule)
	assert.Contains(t, err.Error(), "No module named 'cv2'")

	select {
	case ferr := <-s.Fatal():
		assert.ErrorIs(t, ferr, domain.ErrBackendModule)
	case <-time.After(time.Second):
		t.Fatal("fatal channel did not fire")
	}

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("backend was not killed after module error")
	}
	st := s.Status()
	assert.Equal(t, domain.BackendStateFailed, st.State)
	assert.Contains(t, st.StderrTail, "ModuleNotFoundError")
	assert.GreaterOrEqual(t, st.StderrBytes, int64(len(st.StderrTail)))
	assert.Contains(t, bus.Types(), domain.EventBackendFatal)
}

func TestStart_ReadyAfterRefusals(t *testing.T) {
	bus := &recordingBus{}
	var calls atomic.Int32
	check := func(context.Context) error {
		if calls.Add(1) < 3 {
			return refused(context.Background())
		}
		return nil
	}
	s := newTestSupervisor(t, helperSpec(t, "serve"), Config{ReadyTimeout: 10 * time.Second}, check, bus)

	require.NoError(t, s.Start(context.Background()))
	st := s.Status()
	assert.Equal(t, domain.BackendStateReady, st.State)
	assert.NotEmpty(t, st.RunID)
	assert.NotZero(t, st.PID)
	assert.EqualValues(t, 3, calls.Load())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, domain.BackendStateStopped, s.Status().State)
	assert.Equal(t, []domain.EventType{
		domain.EventBackendStarted,
		domain.EventBackendReady,
		domain.EventBackendExited,
		domain.EventBackendStopped,
	}, bus.Types())
}

func TestStart_ReadinessTimeoutResolves(t *testing.T) {
	s := newTestSupervisor(t, helperSpec(t, "serve"), Config{ReadyTimeout: 100 * time.Millisecond}, refused, nil)

	start := time.Now()
	require.NoError(t, s.Start(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, domain.BackendStateRunning, s.Status().State)
}

func TestStart_ExitBeforeReadyResolves(t *testing.T) {
	bus := &recordingBus{}
	s := newTestSupervisor(t, helperSpec(t, "exit"), Config{}, refused, bus)

	require.NoError(t, s.Start(context.Background()))
	st := s.Status()
	assert.Equal(t, domain.BackendStateExited, st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 3, *st.ExitCode)
	assert.Contains(t, st.StderrTail, "camera index out of range")
	assert.Contains(t, bus.Types(), domain.EventBackendExited)
}

func TestStart_NonRefusedErrorContinues(t *testing.T) {
	check := func(context.Context) error { return errors.New("malformed backend response") }
	s := newTestSupervisor(t, helperSpec(t, "serve"), Config{ReadyTimeout: 10 * time.Second}, check, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, domain.BackendStateRunning, s.Status().State)
}

func TestStart_ContextCancelled(t *testing.T) {
	s := newTestSupervisor(t, helperSpec(t, "serve"), Config{}, refused, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStart_Twice(t *testing.T) {
	s := newTestSupervisor(t, LaunchSpec{Mode: "external"}, Config{}, func(context.Context) error { return nil }, nil)

	require.NoError(t, s.Start(context.Background()))
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestStart_ExternalProbesOnly(t *testing.T) {
	bus := &recordingBus{}
	s := newTestSupervisor(t, LaunchSpec{Mode: "external"}, Config{}, func(context.Context) error { return nil }, bus)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, domain.BackendStateReady, s.Status().State)
	assert.Nil(t, s.Done())
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []domain.EventType{domain.EventBackendReady}, bus.Types())
}

func TestStop_Idempotent(t *testing.T) {
	s := newTestSupervisor(t, helperSpec(t, "serve"), Config{ReadyTimeout: 50 * time.Millisecond}, refused, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, domain.BackendStateStopped, s.Status().State)
}

func TestStop_BeforeStart(t *testing.T) {
	s := New(LaunchSpec{Executable: "python3"}, Config{}, nil, nil, nil, newTestLogger())
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, domain.BackendStateIdle, s.Status().State)
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		line  string
		level slog.Level
		fatal bool
	}{
		{"ModuleNotFoundError: No module named 'easyocr'", slog.LevelError, true},
		{"ImportError: libGL.so.1: cannot open shared object file", slog.LevelError, true},
		{"[ERROR] camera read failed", slog.LevelError, false},
		{"CRITICAL: model missing", slog.LevelError, false},
		{"Traceback (most recent call last):", slog.LevelError, false},
		{"WARNING: This is a development server.", slog.LevelWarn, false},
		{"[WARN] low light", slog.LevelWarn, false},
		{`127.0.0.1 - - "GET /api/camera/frame HTTP/1.1" 200 -`, slog.LevelDebug, false},
	}
	for _, tt := range tests {
		level, fatal := classifyStderr(tt.line)
		if level != tt.level || fatal != tt.fatal {
			t.Errorf("classifyStderr(%q) = (%v, %v), want (%v, %v)", tt.line, level, fatal, tt.level, tt.fatal)
		}
	}
}
