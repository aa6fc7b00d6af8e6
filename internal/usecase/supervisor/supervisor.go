// Package supervisor launches the detection backend as a child process,
// watches its output and blocks startup until it is reachable.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/tracer"
	"label-inspector/internal/usecase/readiness"
)

// LaunchSpec is the resolved backend command line.
type LaunchSpec = domain.LaunchSpec

// stderrTailBytes is the amount of stderr reported in Status.
const stderrTailBytes = 2048

// Config holds supervisor tuning.
type Config struct {
	ReadyTimeout time.Duration // bound on the readiness wait; 0 waits until ctx ends
	StopTimeout  time.Duration // grace period between interrupt and kill (default: 5s)
	OutputMax    int           // max bytes of stderr kept (default: 64KiB)
}

// Supervisor owns the single backend process for the lifetime of the station.
// It never restarts the backend.
type Supervisor struct {
	spec   LaunchSpec
	config Config
	prober *readiness.Prober
	check  readiness.HealthCheck
	bus    domain.EventBus
	logger *slog.Logger

	mu      sync.Mutex
	status  domain.BackendStatus
	started bool
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  *lineWriter
	stderr  *lineWriter
	tail    *ringBuffer
	done    chan struct{}

	fatalOnce sync.Once
	fatalSig  chan struct{} // closed on the first fatal signal
	fatalCh   chan error    // carries the fatal error to the runtime
	fatalErr  error

	stopOnce sync.Once
}

// New creates a Supervisor for spec. check is the health check handed to the prober.
func New(spec LaunchSpec, cfg Config, prober *readiness.Prober, check readiness.HealthCheck, bus domain.EventBus, logger *slog.Logger) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.OutputMax <= 0 {
		cfg.OutputMax = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		spec:   spec,
		config: cfg,
		prober: prober,
		check:  check,
		bus:    bus,
		logger: logger,
		status: domain.BackendStatus{
			State:      domain.BackendStateIdle,
			Executable: spec.Executable,
			Script:     spec.Script,
			WorkDir:    spec.WorkDir,
		},
		tail:     newRingBuffer(cfg.OutputMax),
		fatalSig: make(chan struct{}),
		fatalCh:  make(chan error, 1),
	}
}

// Start launches the backend and waits until it answers the health check.
// It returns nil once the backend is reachable, once the readiness wait gives
// up, or when the backend exits before becoming ready. Fatal startup errors
// (missing executable, spawn failure, module import failure) are returned
// as-is and satisfy domain.IsFatal.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "supervisor.start")
	defer span.End()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return domain.NewSubSystemError("supervisor", "Supervisor.Start", domain.ErrConflict, "already started")
	}
	s.started = true

	if s.spec.External() {
		s.status.State = domain.BackendStateExternal
		s.mu.Unlock()
		span.SetAttributes(tracer.StringAttr("launch.mode", "external"))
		s.logger.Info("backend is managed externally, probing only")
		err := s.awaitReady(ctx, nil)
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
		return err
	}
	s.mu.Unlock()

	exe, err := exec.LookPath(s.spec.Executable)
	if err != nil {
		fatal := domain.NewSubSystemError("supervisor", "Supervisor.Start", domain.ErrExecutableNotFound,
			fmt.Sprintf("%s: %v", s.spec.Executable, err))
		s.triggerFatal(fatal)
		tracer.RecordError(span, fatal)
		return fatal
	}

	// The process outlives the Start call; only Stop or a fatal signal cancels it.
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, exe, s.spec.Argv()...)
	cmd.Dir = s.spec.WorkDir
	cmd.Env = append(os.Environ(), s.spec.Env...)
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.config.StopTimeout

	backendLog := s.logger.With("component", "backend")
	stdout := newLineWriter(func(line string) {
		backendLog.Info(line, "stream", "stdout")
	})
	stderr := newLineWriter(func(line string) {
		s.tail.Write([]byte(line + "\n"))
		level, fatal := classifyStderr(line)
		if fatal {
			s.triggerFatal(domain.NewSubSystemError("backend", "Supervisor.Start", domain.ErrBackendModule, line))
			return
		}
		backendLog.Log(context.Background(), level, line, "stream", "stderr")
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		fatal := domain.NewSubSystemError("supervisor", "Supervisor.Start", domain.ErrBackendSpawn, err.Error())
		s.triggerFatal(fatal)
		tracer.RecordError(span, fatal)
		return fatal
	}

	now := time.Now()
	s.mu.Lock()
	s.cmd = cmd
	s.cancel = cancel
	s.stdout = stdout
	s.stderr = stderr
	s.done = make(chan struct{})
	s.status.RunID = newRunID()
	s.status.PID = cmd.Process.Pid
	s.status.Executable = exe
	s.status.State = domain.BackendStateStarting
	s.status.StartedAt = &now
	done := s.done
	payload := s.lifecyclePayload()
	s.mu.Unlock()

	go s.wait()

	span.SetAttributes(
		tracer.StringAttr("backend.run_id", payload.RunID),
		tracer.IntAttr("backend.pid", payload.PID),
	)
	s.emit(ctx, domain.EventBackendStarted, payload)
	s.logger.Info("backend started", "run_id", payload.RunID, "pid", payload.PID,
		"executable", exe, "script", s.spec.Script, "workdir", s.spec.WorkDir)

	if err := s.awaitReady(ctx, done); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// awaitReady runs the prober until the backend answers, the readiness wait
// gives up, a fatal signal arrives, or the process exits. done is nil for an
// external backend.
func (s *Supervisor) awaitReady(ctx context.Context, done <-chan struct{}) error {
	if s.prober == nil || s.check == nil {
		s.setState(domain.BackendStateRunning)
		return nil
	}

	probeCtx := ctx
	cancel := func() {}
	if s.config.ReadyTimeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, s.config.ReadyTimeout)
	}
	defer cancel()

	type probeResult struct {
		out readiness.Outcome
		err error
	}
	results := make(chan probeResult, 1)
	go func() {
		out, err := s.prober.WaitUntilReady(probeCtx, s.check)
		results <- probeResult{out, err}
	}()

	select {
	case r := <-results:
		if err := s.Err(); err != nil {
			return err
		}
		switch {
		case r.err == nil && r.out.Ready:
			s.markReady(ctx)
			return nil
		case r.err == nil:
			s.setState(domain.BackendStateRunning)
			s.logger.Warn("backend readiness not confirmed, continuing", "attempts", r.out.Attempts, "error", r.out.Err)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.setState(domain.BackendStateRunning)
			s.logger.Warn("backend readiness wait timed out, continuing", "timeout", s.config.ReadyTimeout, "attempts", r.out.Attempts)
			return nil
		}
	case <-s.fatalSig:
		return s.Err()
	case <-done:
		if err := s.Err(); err != nil {
			return err
		}
		st := s.Status()
		s.logger.Warn("backend exited before becoming ready", "exit_code", exitCodeAttr(st.ExitCode), "stderr_tail", st.StderrTail)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) markReady(ctx context.Context) {
	s.mu.Lock()
	if s.status.State == domain.BackendStateStarting || s.status.State == domain.BackendStateExternal {
		s.status.State = domain.BackendStateReady
	}
	payload := s.lifecyclePayload()
	s.mu.Unlock()
	s.emit(ctx, domain.EventBackendReady, payload)
}

// triggerFatal records the first fatal error, kills the process and notifies
// the runtime. Later calls are ignored.
func (s *Supervisor) triggerFatal(err error) {
	s.fatalOnce.Do(func() {
		s.mu.Lock()
		s.fatalErr = err
		s.status.State = domain.BackendStateFailed
		s.status.Error = err.Error()
		cancel := s.cancel
		payload := s.lifecyclePayload()
		s.mu.Unlock()

		close(s.fatalSig)
		s.fatalCh <- err

		s.logger.Error("backend fatal error", "error", err)
		s.emit(context.Background(), domain.EventBackendFatal, payload)
		if cancel != nil {
			cancel()
		}
	})
}

// wait blocks until the process ends and records how it ended.
func (s *Supervisor) wait() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	stdout, stderr := s.stdout, s.stderr
	s.mu.Unlock()

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	now := time.Now()
	s.mu.Lock()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	s.status.ExitCode = &code
	s.status.EndedAt = &now
	state := s.status.State
	if state.Alive() {
		s.status.State = domain.BackendStateExited
		if err != nil {
			s.status.Error = err.Error()
		}
	}
	payload := s.lifecyclePayload()
	s.mu.Unlock()

	s.emit(context.Background(), domain.EventBackendExited, payload)
	close(done)

	switch {
	case state == domain.BackendStateStopped:
		s.logger.Info("backend stopped", "run_id", payload.RunID, "exit_code", code)
	case state == domain.BackendStateFailed:
		s.logger.Info("backend terminated after fatal error", "run_id", payload.RunID, "exit_code", code)
	case err != nil:
		s.logger.Error("backend crashed", "run_id", payload.RunID, "exit_code", code,
			"error", err, "stderr_tail", s.tail.Tail(stderrTailBytes))
	default:
		s.logger.Warn("backend exited", "run_id", payload.RunID, "exit_code", code)
	}
}

// Stop terminates the backend if it is running and waits for it to exit or
// for ctx to end. It is safe to call more than once.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	wasAlive := s.status.State.Alive()
	if wasAlive {
		// Set before cancel so wait() reports a shutdown, not a crash.
		s.status.State = domain.BackendStateStopped
	}
	payload := s.lifecyclePayload()
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = domain.WrapOp("Supervisor.Stop", ctx.Err())
			return
		}
		if wasAlive {
			s.emit(ctx, domain.EventBackendStopped, payload)
		}
	})
	return err
}

// Status returns a snapshot of the backend process.
func (s *Supervisor) Status() domain.BackendStatus {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.StderrTail = s.tail.Tail(stderrTailBytes)
	st.StderrBytes = s.tail.TotalWritten()
	return st
}

// Fatal delivers the fatal error raised after Start returned, e.g. a module
// import failure logged late by the backend. It fires at most once.
func (s *Supervisor) Fatal() <-chan error { return s.fatalCh }

// Err returns the recorded fatal error, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Done is closed when the backend process has exited. It is nil before Start
// and for an external backend.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// StderrTail returns up to n trailing bytes of backend stderr.
func (s *Supervisor) StderrTail(n int) string { return s.tail.Tail(n) }

func (s *Supervisor) setState(state domain.BackendState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == domain.BackendStateStarting {
		s.status.State = state
	}
}

// lifecyclePayload must be called with s.mu held.
func (s *Supervisor) lifecyclePayload() domain.BackendLifecyclePayload {
	return domain.BackendLifecyclePayload{
		RunID:    s.status.RunID,
		PID:      s.status.PID,
		ExitCode: s.status.ExitCode,
		Error:    s.status.Error,
	}
}

func (s *Supervisor) emit(ctx context.Context, t domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(t, "", payload))
}

// classifyStderr maps a backend stderr line to a log level and reports
// whether it is a fatal module import failure.
func classifyStderr(line string) (slog.Level, bool) {
	if strings.Contains(line, "ModuleNotFoundError") || strings.Contains(line, "ImportError") {
		return slog.LevelError, true
	}
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR"), strings.Contains(upper, "CRITICAL"), strings.HasPrefix(line, "Traceback"):
		return slog.LevelError, false
	case strings.Contains(upper, "WARNING"), strings.Contains(upper, "[WARN]"):
		return slog.LevelWarn, false
	}
	return slog.LevelDebug, false
}

func exitCodeAttr(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

func newRunID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
