package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tether/internal/api"
)

// HealthState is the last /status answer plus connection bookkeeping.
type HealthState struct {
	Status    api.StatusResponse
	Connected bool
	LastCheck time.Time
}

func renderHeader(h HealthState, spin string, lastEvent time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	state := string(h.Status.Health.State)
	stateText := theme.healthStyle(state).Render(strings.ToUpper(state))
	if !h.Connected {
		stateText = theme.StatusFailed.Render("CONNECTING")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " TETHER WATCH"
	if h.Connected && (h.Status.Health.State == "checking" || h.Status.Pending > 0) {
		titleText += " " + spin
	}

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	pid := "-"
	if h.Status.WorkerPID > 0 {
		pid = fmt.Sprintf("%d", h.Status.WorkerPID)
	}
	statsLine := fmt.Sprintf(" Worker: %s  PID: %s  Pending: %d", stateText, pid, h.Status.Pending)

	msg := h.Status.Health.Message
	if msg == "" {
		msg = "-"
	}
	if !h.Status.Health.Since.IsZero() {
		msg += theme.Dim.Render(fmt.Sprintf(" (for %s)", formatDuration(time.Since(h.Status.Health.Since))))
	}
	messageLine := " " + msg

	lastEventStr := "never"
	if !lastEvent.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(lastEvent).Round(time.Second))
	}
	activityLine := theme.Dim.Render(" Last event: " + lastEventStr)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		messageLine,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
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
