// Package cmd implements the hmdl subcommands.
package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/hmdl/internal/config"
	"grimm.is/hmdl/internal/i18n"
)

// Printer writes localized CLI output.
var Printer = i18n.NewCLIPrinter()

var (
	colorAccent = lipgloss.Color("#A8D8EA")
	colorMuted  = lipgloss.Color("#596E79")
	colorGood   = lipgloss.Color("#4ECDC4")
	colorWarn   = lipgloss.Color("#FFE66D")
	colorAlert  = lipgloss.Color("#FF6B6B")

	styleTitle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleLabel = lipgloss.NewStyle().Foreground(colorMuted).Width(10)
	styleGood  = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	styleBad   = lipgloss.NewStyle().Foreground(colorAlert).Bold(true)
	styleCard  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// installURL is the local install server address derived from cfg.
func installURL(cfg *config.Config) string {
	host := cfg.HTTP.ListenAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.HTTP.InstallPort))
}
