package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Engine        string
	Streams       int
	GraphNodes    int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, beat Heartbeat, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" VOXBRIDGE WATCH %s", theme.Highlight.Render(beat.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	engine := health.Engine
	if engine == "" {
		engine = "?"
	}
	statsLine := fmt.Sprintf(" %s  up %s  engine %s  streams %d  graph %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		engine,
		health.Streams,
		health.GraphNodes,
	)
	activityLine := fmt.Sprintf(" Last event: %s  %s", lastEvent, activity.Render(theme))

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
