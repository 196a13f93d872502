package cli

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used.
var colorsEnabled = os.Getenv("NO_COLOR") == ""

func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// printSetupStep prints a progress message for setup.
func printSetupStep(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup.
func printSetupSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s⚠%s %s\n", color(colorYellow), color(colorReset), msg)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s%s%s\n", color(colorBold), title, color(colorReset))
}
