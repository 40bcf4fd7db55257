package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tether/internal/api"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
)

// --- Message types ---

type eventMsg events.Event

type statusMsg api.StatusResponse

type historyMsg []journal.Entry

type tickMsg time.Time

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

const (
	pollInterval   = 5 * time.Second
	requestTimeout = 2 * time.Second
	historyLimit   = 20
)

// --- Commands ---

// subscribeToEvents streams /events into ch, resuming after lastID. It
// returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(client *api.Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = client.Events(context.Background(), lastID, func(ev events.Event) {
			ch <- ev
		})
		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchStatus(client *api.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return errMsg{err}
	}
	return statusMsg(st)
}

func fetchHistory(client *api.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	entries, err := client.History(ctx, historyLimit)
	if err != nil {
		return errMsg{err}
	}
	return historyMsg(entries)
}
