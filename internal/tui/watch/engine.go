package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/voxbridge/internal/events"
)

// EngineState is the engine panel, folded from hub events.
type EngineState struct {
	RunID       string
	PID         int
	Status      string
	Launches    int
	Exits       int
	LastExit    *int
	LastKilled  bool
	Failures    int
	LastFailure string
	GraphNodes  int
	Fingerprint string
	Notice      string
}

func updateEngineState(st *EngineState, e events.Event) {
	var data map[string]any
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case events.TopicEngineLaunched:
		st.Launches++
		st.Status = "running"
		st.RunID, _ = data["run_id"].(string)
		st.PID = intField(data, "pid")
	case events.TopicEngineExited:
		st.Exits++
		code := intField(data, "code")
		st.LastExit = &code
		st.LastKilled, _ = data["killed"].(bool)
		st.Status = "exited"
		if st.LastKilled {
			st.Status = "killed"
		}
		st.PID = 0
	case events.TopicEngineRestarting:
		st.Status = "restarting"
	case events.TopicEngineStopped:
		st.Status = "stopped"
	case events.TopicRequestFailed:
		st.Failures++
		typ, _ := data["type"].(string)
		kind, _ := data["error"].(string)
		st.LastFailure = strings.TrimSpace(typ + " " + kind)
	case events.TopicGraphRebuilt:
		st.GraphNodes = intField(data, "nodes")
		st.Fingerprint, _ = data["fingerprint"].(string)
	case events.TopicNotification:
		st.Notice, _ = data["message"].(string)
	}
}

func intField(data map[string]any, key string) int {
	if v, ok := data[key].(float64); ok {
		return int(v)
	}
	return 0
}

func renderEngine(st EngineState, theme Theme, width int) string {
	innerWidth := width - 4

	status := st.Status
	if status == "" {
		status = "unknown"
	}
	var statusStyle lipgloss.Style
	switch status {
	case "running":
		statusStyle = theme.StatusOK
	case "restarting":
		statusStyle = theme.StatusRunning
	case "exited", "killed":
		statusStyle = theme.StatusFailed
	default:
		statusStyle = theme.StatusIdle
	}

	run := "-"
	if st.RunID != "" {
		run = shortID(st.RunID)
	}
	exit := "-"
	if st.LastExit != nil {
		exit = fmt.Sprintf("%d", *st.LastExit)
		if st.LastKilled {
			exit += " (killed)"
		}
	}
	fp := "-"
	if st.Fingerprint != "" {
		fp = shortID(st.Fingerprint)
	}

	lines := []string{
		theme.Title.Render("SPEECH ENGINE"),
		fmt.Sprintf(" %s  run %s  pid %d  launches %d  exits %d  last exit %s",
			statusStyle.Render(strings.ToUpper(status)), run, st.PID, st.Launches, st.Exits, exit),
		fmt.Sprintf(" graph %d nodes [%s]  failed requests %d", st.GraphNodes, fp, st.Failures),
	}
	if st.LastFailure != "" {
		lines = append(lines, theme.StatusFailed.Render(" last failure: "+st.LastFailure))
	}
	if st.Notice != "" {
		lines = append(lines, theme.Highlight.Render(" hud: "+st.Notice))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
