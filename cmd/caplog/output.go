package main

import (
	"fmt"
	"io"
	"os"
)

// ANSI styles.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// stderr receives all human-facing messages; stdout stays for data.
var stderr io.Writer = os.Stderr

func colorize(style, text string) string {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return text
	}
	return style + text + colorReset
}

func notice(style, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { notice(colorCyan, "→", format, args...) }

// printStatus prints an indented "Label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
