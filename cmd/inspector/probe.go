package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"label-inspector/internal/adapter/backend"
	"label-inspector/internal/domain"
	"label-inspector/internal/infra/logger"
	"label-inspector/internal/usecase/readiness"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Wait until the detection backend answers, without starting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	client := backend.NewClient(cfg.Backend, logger.Component(log, "backend-client"))
	prober := readiness.New(readiness.Config{Interval: cfg.Readiness.Interval}, logger.Component(log, "readiness"))

	spin := newProbeSpinner(os.Stderr, "Probing "+client.BaseURL())
	prober.OnAttempt(spin.Attempt)

	if cfg.Readiness.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Readiness.Timeout)
		defer cancel()
	}
	outcome, err := prober.WaitUntilReady(ctx, client.Probe)
	spin.Finish()
	if err != nil {
		return domain.NewSubSystemError("readiness", "probe", domain.ErrBackendNotReady,
			fmt.Sprintf("no answer from %s after %d attempts: %v", client.BaseURL(), outcome.Attempts, err))
	}
	if !outcome.Ready {
		fmt.Fprintf(out, "backend at %s answered unexpectedly after %d attempt(s): %v\n", client.BaseURL(), outcome.Attempts, outcome.Err)
		return nil
	}
	fmt.Fprintf(out, "backend ready at %s after %d attempt(s)\n", client.BaseURL(), outcome.Attempts)
	return nil
}

// probeSpinner renders readiness attempts as an indeterminate progress bar.
// A nil *probeSpinner is a no-op.
type probeSpinner struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done bool
}

func newProbeSpinner(w io.Writer, description string) *probeSpinner {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return &probeSpinner{bar: bar}
}

// Attempt advances the spinner; it matches readiness.Prober.OnAttempt.
func (s *probeSpinner) Attempt(attempt int, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.bar.Add(1)
}

// Finish clears the spinner. Later attempts are ignored.
func (s *probeSpinner) Finish() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.bar.Finish()
}

// publishAttempts reports every readiness attempt on the bus.
func publishAttempts(ctx context.Context, bus domain.EventBus) func(int, error) {
	return func(attempt int, err error) {
		payload := domain.ProbePayload{Attempt: attempt}
		if err != nil {
			payload.Error = err.Error()
		}
		bus.Publish(ctx, domain.NewEvent(domain.EventProbeAttempt, "", payload))
	}
}

// chainAttempts calls each hook in order.
func chainAttempts(hooks ...func(int, error)) func(int, error) {
	return func(attempt int, err error) {
		for _, h := range hooks {
			h(attempt, err)
		}
	}
}
