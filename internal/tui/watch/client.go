package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/voxbridge/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Engine        string `json:"engine"`
	Streams       int    `json:"streams"`
	GraphNodes    int    `json:"graph_nodes"`
}

type streamsMsg []StreamRow

type streamsErrMsg struct{ err error }

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to the bridge admin API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 2 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *client) newRequest(path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *client) getJSON(path string, v any) error {
	req, err := c.newRequest(path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// subscribeToEvents feeds /events into ch until the connection drops.
func (c *client) subscribeToEvents(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest("/events")
		if err != nil {
			return errMsg(err)
		}
		resp, err := c.stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a text/event-stream body, calling emit per complete event.
// Multiple data lines of one event are joined with newlines; an event still
// pending when the body ends is emitted too.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur events.Event
	var data []string
	flush := func() {
		if len(data) > 0 {
			cur.Data = []byte(strings.Join(data, "\n"))
			if cur.At.IsZero() {
				cur.At = time.Now()
			}
			emit(cur)
		}
		cur = events.Event{}
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch {
		case line == "":
			flush()
		case field == "":
			// comment / keep-alive
		case field == "id":
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.ID = id
			}
		case field == "event":
			cur.Type = value
		case field == "data":
			data = append(data, value)
		}
	}
	flush()
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func (c *client) fetchHealth() tea.Msg {
	var h healthMsg
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

func (c *client) fetchStreams() tea.Msg {
	var resp struct {
		Streams []StreamRow `json:"streams"`
	}
	if err := c.getJSON("/streams", &resp); err != nil {
		return streamsErrMsg{err}
	}
	return streamsMsg(resp.Streams)
}
