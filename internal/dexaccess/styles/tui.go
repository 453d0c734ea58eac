package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

var (
	Title    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).MarginLeft(2)
	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Spinner  = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	// Flags before and after a rewrite.
	Removed = lipgloss.NewStyle().Foreground(charmtone.Coral)
	Added   = lipgloss.NewStyle().Foreground(charmtone.Guac)
	Same    = lipgloss.NewStyle().Foreground(charmtone.Squid)

	Filtered = lipgloss.NewStyle().Foreground(charmtone.Charcoal).Italic(true)

	MenuBar = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)
)
