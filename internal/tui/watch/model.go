package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tether/internal/api"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
)

// Model is the BubbleTea model for the watch view.
type Model struct {
	client *api.Client

	width  int
	height int

	health      HealthState
	requests    []journal.Entry
	eventLog    []events.Event
	lastEventID int64
	lastEventAt time.Time

	table   table.Model
	spinner spinner.Model
	theme   Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model that talks to the API through client.
func New(client *api.Client) *Model {
	return &Model{
		client:    client,
		eventLog:  make([]events.Event, 0),
		table:     newRequestTable(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStatus(m.client) },
		func() tea.Msg { return fetchHistory(m.client) },
		m.spinner.Tick,
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
		case "r":
			return m, func() tea.Msg { return fetchHistory(m.client) }
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case tickMsg:
		// Redraws the clock and ages.
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case statusMsg:
		m.health.Status = api.StatusResponse(msg)
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchStatus(m.client)
		})

	case historyMsg:
		m.requests = nil
		for i := len(msg) - 1; i >= 0; i-- {
			m.requests = prependRequest(m.requests, msg[i])
		}
		m.table.SetRows(requestRows(m.requests))

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.lastEventID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchStatus(m.client)
		})
	}

	return m, nil
}

// applyEvent folds one streamed event into the model.
func (m *Model) applyEvent(e events.Event) {
	if e.ID > 0 && e.ID <= m.lastEventID {
		return
	}
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}
	m.lastEventAt = time.Now()
	m.health.Connected = true
	m.lastError = ""

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case events.TypeHealthChanged:
		var h bridge.Health
		if err := json.Unmarshal(e.Data, &h); err == nil {
			m.health.Status.Health = h
			if h.State == bridge.HealthUnhealthy {
				m.health.Status.Running = false
				m.health.Status.WorkerPID = 0
			}
		}
	case events.TypeRequestCompleted:
		var o bridge.Outcome
		if err := json.Unmarshal(e.Data, &o); err == nil {
			m.requests = prependRequest(m.requests, entryFromOutcome(o))
			m.table.SetRows(requestRows(m.requests))
		}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to tether..."
	}

	header := renderHeader(m.health, m.spinner.View(), m.lastEventAt, m.theme, m.width)
	requests := renderRequests(m.table, len(m.requests), m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, requests, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Reload history • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
