package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
)

const (
	maxEventLog = 50
	maxRequests = 50
)

func newRequestTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "At", Width: 8},
			{Title: "Type", Width: 9},
			{Title: "Status", Width: 8},
			{Title: "ms", Width: 6},
			{Title: "ID", Width: 8},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func requestRows(entries []journal.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			e.CompletedAt.Local().Format("15:04:05"),
			string(e.Type),
			e.Status,
			fmt.Sprintf("%d", e.DurationMS),
			id,
			e.Error,
		})
	}
	return rows
}

// entryFromOutcome converts a live request.completed payload into the
// journal's row shape so both sources share one table.
func entryFromOutcome(o bridge.Outcome) journal.Entry {
	return journal.Entry{
		ID:          o.ID,
		Type:        o.Kind,
		Status:      o.Status,
		Error:       o.Error,
		WorkerPID:   o.WorkerPID,
		StartedAt:   o.StartedAt,
		CompletedAt: o.CompletedAt,
		DurationMS:  o.Duration().Milliseconds(),
	}
}

// prependRequest adds e at the front unless its ID is already listed.
func prependRequest(entries []journal.Entry, e journal.Entry) []journal.Entry {
	for _, existing := range entries {
		if existing.ID == e.ID {
			return entries
		}
	}
	entries = append([]journal.Entry{e}, entries...)
	if len(entries) > maxRequests {
		entries = entries[:maxRequests]
	}
	return entries
}

func renderRequests(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No requests yet")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("RECENT REQUESTS"),
		body,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

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
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	typeName := theme.Header.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e, theme))
}

func describeEvent(e events.Event, theme Theme) string {
	switch e.Type {
	case events.TypeRequestCompleted:
		var o bridge.Outcome
		if err := json.Unmarshal(e.Data, &o); err == nil {
			desc := fmt.Sprintf("%s %s", o.Kind, theme.outcomeStyle(o.Status).Render(o.Status))
			if o.Error != "" {
				desc += " " + theme.Dim.Render(o.Error)
			}
			return desc
		}
	case events.TypeHealthChanged:
		var h bridge.Health
		if err := json.Unmarshal(e.Data, &h); err == nil {
			return fmt.Sprintf("%s %s", theme.healthStyle(string(h.State)).Render(string(h.State)), h.Message)
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
