package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ubc-systopia/indaleko/internal/config"
)

var (
	bannerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("45"))
	bannerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
	bannerWarnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))
	bannerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2)
)

// printBanner shows the effective run setup before the first cycle.
func printBanner(w io.Writer, cfg *config.Config, fileOnly bool) {
	kv := func(key, value string) string {
		return bannerKeyStyle.Render(key+": ") + value
	}
	lines := []string{
		bannerTitleStyle.Render("indaleko " + Version),
		kv("volumes", strings.Join(cfg.Volumes, ", ")),
		kv("interval", cfg.Interval().String()),
		kv("duration", cfg.Duration().String()),
		kv("hot ttl", cfg.HotTTL().String()),
	}
	if fileOnly {
		lines = append(lines, bannerWarnStyle.Render("file-only mode: no database"))
	}
	fmt.Fprintln(w, bannerBoxStyle.Render(strings.Join(lines, "\n")))
}
