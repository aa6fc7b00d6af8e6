package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"label-inspector/internal/domain"
	"label-inspector/internal/infra/logger"
	"label-inspector/internal/infra/tracer"
	"label-inspector/internal/usecase/eventbus"
)

// consoleLogPath receives the log while the console owns the terminal.
const consoleLogPath = "inspector.log"

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 10 * time.Second

// runOptions are the flags shared by the root command and "run".
type runOptions struct {
	console bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the backend, the frame stream and the operator gateway (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStation(cmd.Context(), runOpts)
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runOpts.console, "console", false, "show the operator console in this terminal")
}

// runStation runs the station until ctx ends, the backend fails fatally, or
// the operator quits the console.
func runStation(ctx context.Context, opts runOptions) error {
	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.console && terminalOutput(cfg.Logger.Output) {
		cfg.Logger.Output = consoleLogPath
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// The console quitting cancels the run like a signal does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 3. Event bus
	bus := eventbus.New(logger.Component(log, "eventbus"))
	defer bus.Close()

	// 4. Backend (launch spec, prober, HTTP client, supervisor)
	backend, err := initBackend(cfg, bus, log)
	if err != nil {
		return err
	}

	// 5. Station (surface, command gateway, frame loop, orchestrator)
	st := initStation(cfg, backend.Backend, bus, log)

	// 6. Operator gateway
	gw, err := initGateway(ctx, cfg, st, backend, bus, log)
	if err != nil {
		return err
	}
	gwErr := make(chan error, 1)
	if gw != nil {
		go func() { gwErr <- gw.Server.Start(ctx) }()
		select {
		case <-gw.Server.Ready():
		case err := <-gwErr:
			return err
		}
	}

	// 7. Console and readiness feedback
	attempts := publishAttempts(ctx, bus)
	var spin *probeSpinner
	var con *consoleRunner
	if opts.console {
		con = startConsole(ctx, cancel, st, backend, bus, log)
	} else {
		spin = newProbeSpinner(os.Stderr, "Waiting for detection backend")
		attempts = chainAttempts(attempts, spin.Attempt)
	}
	backend.Prober.OnAttempt(attempts)

	log.Info("inspector starting",
		"version", Version,
		"launch_mode", backend.Spec.Mode,
		"backend", backend.Client.BaseURL(),
		"gateway", gatewayAddr(gw),
		"console", opts.console,
		"breaker", cfg.Backend.Breaker.Enabled,
	)

	// 8. Backend start and readiness
	startErr := backend.Supervisor.Start(ctx)
	spin.Finish()
	if startErr != nil {
		shutdown(st, backend, gw, con, log)
		if ctx.Err() != nil && !domain.IsFatal(startErr) {
			return nil
		}
		return &stationFailure{err: startErr, stderrTail: backend.Supervisor.StderrTail(stderrTailReport)}
	}

	// 9. Camera init and frame loop
	if res := st.Station.Init(ctx); res.OK() {
		log.Info("frame stream started", "session_id", st.SessionID)
	}

	// 10. Wait
	var failure error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested", "console_closed", con.closed())
	case err := <-backend.Supervisor.Fatal():
		st.Surface.ShowFatal(ctx, "Backend Error", err.Error())
		failure = &stationFailure{err: err, stderrTail: backend.Supervisor.StderrTail(stderrTailReport)}
	case err := <-gwErr:
		failure = err
	}

	// 11. Graceful shutdown
	shutdown(st, backend, gw, con, log)
	if con != nil && con.err != nil && failure == nil {
		failure = fmt.Errorf("console: %w", con.err)
	}
	return failure
}

// shutdown stops the loop, releases the camera, stops the backend and then
// the gateway, in that order. Each step is bounded.
func shutdown(st *stationComponents, backend *backendComponents, gw *gatewayComponents, con *consoleRunner, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := st.Station.Shutdown(ctx); err != nil {
		log.Error("station shutdown", "error", err)
	}
	if err := backend.Supervisor.Stop(ctx); err != nil {
		log.Error("backend stop", "error", err)
	}
	if gw != nil {
		gw.Metrics.Unsubscribe()
		if err := gw.Server.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("gateway stop", "error", err)
		}
	}
	con.stop()
	log.Info("inspector stopped")
}

func terminalOutput(output string) bool {
	switch strings.ToLower(output) {
	case "", "stdout", "stderr":
		return true
	}
	return false
}

func gatewayAddr(gw *gatewayComponents) string {
	if gw == nil {
		return "disabled"
	}
	return gw.Server.BoundAddr()
}

// stationFailure carries the backend stderr tail along with a fatal error.
type stationFailure struct {
	err        error
	stderrTail string
}

func (f *stationFailure) Error() string { return f.err.Error() }
func (f *stationFailure) Unwrap() error { return f.err }
