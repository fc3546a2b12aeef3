package tui

import (
	"strconv"
	"time"

	"github.com/agentuity/design-bridge/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
	connectedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00875F", Dark: "#5FD787"})
	idleStyle        = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#767676", Dark: "#8A8A8A"})
)

// Table renders rows with the standard border
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...).
		String()
}

// SessionTable renders a registry listing. now is used for the uptime column.
func SessionTable(sessions []session.Session, now time.Time) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		status := idleStyle.Render("waiting")
		if s.IsConnected {
			status = connectedStyle.Render("connected")
		}
		host, pid := "-", "-"
		if s.Host != "" {
			host = s.Host
		}
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		rows = append(rows, []string{
			s.ID,
			s.Name,
			strconv.Itoa(s.Port),
			host,
			pid,
			now.Sub(s.StartedAt).Truncate(time.Second).String(),
			status,
		})
	}
	return Table([]string{"SESSION", "NAME", "PORT", "HOST", "PID", "UPTIME", "PLUGIN"}, rows)
}
