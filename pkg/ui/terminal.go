package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Banner is printed at the top of interactive runs
const Banner = `
 ┏━╸┏━┓┏┳┓┏━╸┏━┓╻ ╻┏━╸┏━┓╻ ╻
 ┣╸ ┣━┛┃┃┃┃  ┃┓┃┃ ┃┣╸ ┣┳┛┗┳┛
 ┗━╸╹  ╹ ╹┗━╸┗┻┛┗━┛┗━╸╹┗╸ ╹
 Europe PMC accession harvester
`

var (
	colorCyan    = lipgloss.Color("#00AFD7")
	colorYellow  = lipgloss.Color("#D7AF00")
	colorRed     = lipgloss.Color("#D70000")
	colorGreen   = lipgloss.Color("#00AF5F")
	colorMagenta = lipgloss.Color("#AF5FAF")
	colorDim     = lipgloss.Color("#808080")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)
)

// Output is where all terminal output goes
var Output io.Writer = os.Stdout

var noColor bool

// SetNoColor disables styling
func SetNoColor(disabled bool) {
	noColor = disabled
}

func style(color lipgloss.Color, bold bool) func(string) string {
	s := lipgloss.NewStyle().Foreground(color).Bold(bold)
	return func(text string) string {
		if noColor {
			return text
		}
		return s.Render(text)
	}
}

// Color functions for terminal output
var (
	Cyan    = style(colorCyan, false)
	Yellow  = style(colorYellow, false)
	Red     = style(colorRed, true)
	Green   = style(colorGreen, true)
	Magenta = style(colorMagenta, false)
	Dim     = style(colorDim, false)
)

// Panel draws text inside a rounded border
func Panel(text string) string {
	if noColor {
		return text
	}
	return panelStyle.Render(text)
}

// PrintBanner prints the banner
func PrintBanner() {
	fmt.Fprint(Output, Cyan(Banner))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(Output, Magenta(msg))
}
