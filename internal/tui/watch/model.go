package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/voxbridge/internal/events"
)

const (
	maxEventLog     = 50
	healthInterval  = 5 * time.Second
	streamsInterval = 2 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *client

	width  int
	height int

	health      HealthState
	engine      EngineState
	streams     table.Model
	streamCount int
	eventLog    []events.Event

	beat     Heartbeat
	activity Activity
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a new watch TUI model for the admin API at apiURL.
func New(apiURL, apiKey string) *Model {
	streams := newStreamsTable()
	streams.Focus()
	return &Model{
		client:    newClient(apiURL, apiKey),
		streams:   streams,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		beat:      NewHeartbeat(),
		activity:  NewActivity(10),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribeToEvents(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchStreams,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.streams, cmd = m.streams.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.beat.Tick()
		m.activity.Advance(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.Record(time.Now())
		updateEngineState(&m.engine, e)
		if e.Type == events.TopicGraphRebuilt {
			m.health.GraphNodes = m.engine.GraphNodes
		}
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Engine = msg.Engine
		m.health.Streams = msg.Streams
		m.health.GraphNodes = msg.GraphNodes
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		if m.engine.Status == "" {
			m.engine.Status = msg.Engine
		}
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case streamsMsg:
		m.streams.SetRows(streamRows(msg))
		m.streamCount = len(msg)
		return m, tea.Tick(streamsInterval, func(time.Time) tea.Msg { return m.client.fetchStreams() })

	case streamsErrMsg:
		m.lastError = msg.err.Error()
		return m, tea.Tick(streamsInterval, func(time.Time) tea.Msg { return m.client.fetchStreams() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribeToEvents(m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to voxbridge..."
	}

	parts := []string{
		renderHeader(m.health, m.beat, m.activity, m.theme, m.width),
		renderEngine(m.engine, m.theme, m.width),
		renderStreams(m.streams, m.streamCount, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll streams"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey)).Run()
	return err
}
