package main

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"label-inspector/internal/adapter/tui/console"
	"label-inspector/internal/domain"
)

// consoleRunner runs the operator console alongside the station.
type consoleRunner struct {
	program *tea.Program
	model   *console.Model
	exited  chan struct{}

	// Set before exited is closed.
	err        error
	byOperator bool
}

// startConsole starts the console program. Quitting it calls cancel.
func startConsole(ctx context.Context, cancel context.CancelFunc, st *stationComponents, b *backendComponents, bus domain.EventBus, log *slog.Logger) *consoleRunner {
	model := console.New(console.Deps{
		Ctx:     ctx,
		Bus:     bus,
		Station: st.Station,
		Backend: b.Supervisor,
		Title:   "Label Inspector " + Version,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	model.SetProgramSender(p.Send)

	r := &consoleRunner{program: p, model: model, exited: make(chan struct{})}
	go func() {
		_, err := p.Run()
		if err != nil {
			log.Error("console exited", "error", err)
		}
		r.err = err
		r.byOperator = model.Quitting()
		close(r.exited)
		cancel()
	}()
	return r
}

// closed reports whether the operator quit the console.
func (r *consoleRunner) closed() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.exited:
		return r.byOperator
	default:
		return false
	}
}

// stop quits the console and waits for the terminal to be restored.
func (r *consoleRunner) stop() {
	if r == nil {
		return
	}
	r.program.Quit()
	<-r.exited
	r.model.Detach()
}
