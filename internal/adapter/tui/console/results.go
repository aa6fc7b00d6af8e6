package console

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"label-inspector/internal/adapter/tui/theme"
	"label-inspector/internal/domain"
)

// resultTable renders matched or defect records.
type resultTable struct {
	title   string
	reasons bool // show the Reason column
	records []domain.Record
	table   table.Model
	width   int
}

func newResultTable(title string, reasons bool) resultTable {
	rt := resultTable{title: title, reasons: reasons, width: 60}
	rt.rebuild()
	return rt
}

func (rt *resultTable) SetRecords(records []domain.Record) {
	rt.records = records
	rt.rebuild()
}

func (rt *resultTable) SetWidth(w int) {
	rt.width = theme.Clamp(w, 40, theme.MaxContentWidth)
	rt.rebuild()
}

func (rt *resultTable) Len() int { return len(rt.records) }

func (rt *resultTable) rebuild() {
	itemW := 16
	valueW := (rt.width - itemW - 8) / 2
	var columns []table.Column
	if rt.reasons {
		reasonW := 14
		valueW = (rt.width - itemW - reasonW - 10) / 2
		columns = []table.Column{
			{Title: "Item", Width: itemW},
			{Title: "Reason", Width: reasonW},
			{Title: "Database", Width: valueW},
			{Title: "OCR", Width: valueW},
		}
	} else {
		columns = []table.Column{
			{Title: "Item", Width: itemW},
			{Title: "Database", Width: valueW},
			{Title: "OCR", Width: valueW},
		}
	}

	rows := make([]table.Row, 0, len(rt.records))
	for _, r := range rt.records {
		if rt.reasons {
			rows = append(rows, table.Row{r.Item, r.Reason, r.DBValue, r.OCRValue})
		} else {
			rows = append(rows, table.Row{r.Item, r.DBValue, r.OCRValue})
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(theme.Clamp(len(rows)+3, 3, 12)), // header takes two lines
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	rt.table = t
}

func (rt resultTable) View() string {
	title := theme.PanelTitle.Render(rt.title)
	if len(rt.records) == 0 {
		return theme.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, theme.TextMuted.Render("No items to display.")))
	}
	return theme.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, rt.table.View()))
}
