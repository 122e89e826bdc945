package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/voxbridge/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TopicEngineLaunched:
		typeStyle = theme.StatusOK
	case events.TopicEngineExited, events.TopicRequestFailed:
		typeStyle = theme.StatusFailed
	case events.TopicEngineRestarting:
		typeStyle = theme.StatusRunning
	case events.TopicGraphRebuilt, events.TopicNotification:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc picks the interesting fields of a payload for one line.
func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["run_id"].(string); ok && id != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(id)))
	}
	if typ, ok := data["type"].(string); ok {
		parts = append(parts, typ)
	}
	if kind, ok := data["error"].(string); ok && kind != "" {
		parts = append(parts, kind)
	}
	if ev, ok := data["event"].(string); ok {
		parts = append(parts, ev)
	}
	if stream, ok := data["stream"].(string); ok {
		parts = append(parts, stream)
	}
	if code, ok := data["code"].(float64); ok {
		parts = append(parts, fmt.Sprintf("code=%d", int(code)))
	}
	if nodes, ok := data["nodes"].(float64); ok {
		parts = append(parts, fmt.Sprintf("nodes=%d", int(nodes)))
	}
	if msg, ok := data["message"].(string); ok {
		parts = append(parts, fmt.Sprintf("%q", msg))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
