package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"label-inspector/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

var defaultHints = []KeyHint{
	{Key: "space", Desc: "play/pause"},
	{Key: "p", Desc: "process"},
	{Key: "esc", Desc: "dismiss"},
	{Key: "q", Desc: "quit"},
}

// statusBar renders key hints on the left and transient status on the right.
type statusBar struct {
	hints []KeyHint
	extra string
	width int
}

func (m statusBar) View() string {
	var hints []string
	for _, h := range m.hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right string
	if m.extra != "" {
		right = theme.TextInfo.Render(m.extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
