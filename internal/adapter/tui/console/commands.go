package console

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = time.Second

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// toggleCmd flips play/pause off the UI goroutine.
func toggleCmd(ctx context.Context, st Actions) tea.Cmd {
	return func() tea.Msg {
		res := st.Toggle(ctx)
		return ActionDoneMsg{Op: "toggle", OK: res.OK(), Message: res.Message()}
	}
}

// processCmd runs one inspection off the UI goroutine. The result itself
// arrives through the bus like any other surface update.
func processCmd(ctx context.Context, st Actions) tea.Cmd {
	return func() tea.Msg {
		res := st.Process(ctx)
		return ActionDoneMsg{Op: "process", OK: res.OK(), Message: res.Message()}
	}
}
