package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerForegroundColor = lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"}
	bannerBorderColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerTitleColor      = lipgloss.AdaptiveColor{Light: "#00AAAA", Dark: "#00FFFF"}
	bannerMaxWidth        = 72
	bannerStyle           = lipgloss.NewStyle().
				Padding(1).
				AlignVertical(lipgloss.Top).
				AlignHorizontal(lipgloss.Left).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle  = lipgloss.NewStyle().Width(bannerMaxWidth).Foreground(bannerForegroundColor)
	bannerTitleStyle = lipgloss.NewStyle().AlignHorizontal(lipgloss.Center).Bold(true).Foreground(bannerTitleColor)
)

// Banner renders a bordered block with a title
func Banner(title string, body string) string {
	block := bannerTitleStyle.Render(title) + "\n\n" + bannerBodyStyle.Render(body)
	return bannerStyle.Render(block)
}

// ReadyBanner tells the user how to attach the plugin to a freshly started bridge
func ReadyBanner(sessionName, sessionID, url string, selection bool) string {
	var body strings.Builder
	fmt.Fprintf(&body, "Session %s (%s) is listening on %s\n\n", sessionName, sessionID, url)
	if selection {
		body.WriteString("Open the design plugin and pick this session from its session list.")
	} else {
		body.WriteString("Open the design plugin and connect it to this address.")
	}
	return Banner("Design Bridge", body.String())
}
