package watch

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// StreamRow is one subscription as listed by GET /streams.
type StreamRow struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

func newStreamsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "Name", Width: 32},
			{Title: "Data", Width: 30},
		}),
		table.WithHeight(6),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#E5C07B")).Bold(false)
	t.SetStyles(styles)
	return t
}

func streamRows(streams []StreamRow) []table.Row {
	sorted := append([]StreamRow(nil), streams...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rows := make([]table.Row, 0, len(sorted))
	for _, s := range sorted {
		data := "{}"
		if len(s.Data) > 0 {
			if b, err := json.Marshal(s.Data); err == nil {
				data = string(b)
			}
		}
		rows = append(rows, table.Row{s.ID, s.Name, data})
	}
	return rows
}

func renderStreams(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("STREAMS (%d)", count))
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No active subscriptions"),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
