package main

import (
	"fmt"
	"io"
	"strings"

	"label-inspector/internal/adapter/tui/theme"
	"label-inspector/internal/adapter/tui/uxerror"
)

// stderrTailReport is how much backend stderr a fatal report shows.
const stderrTailReport = 1500

// printFatal writes the operator-facing report for an error that ends the
// process. tail is the backend's stderr tail, if any.
func printFatal(w io.Writer, err error, tail string) {
	fmt.Fprintln(w, renderFatal(err, tail))
}

func renderFatal(err error, tail string) string {
	fe := uxerror.Humanize(err)

	var b strings.Builder
	b.WriteString(theme.TextError.Render(theme.SymbolError + " " + fe.Title))
	if fe.Message != "" && fe.Message != fe.Raw {
		b.WriteString("\n\n")
		b.WriteString(fe.Message)
	}
	if fe.Raw != "" {
		b.WriteString("\n\n")
		b.WriteString(theme.Dim.Render(fe.Raw))
	}
	if len(fe.Hints) > 0 {
		b.WriteString("\n")
		for _, h := range fe.Hints {
			b.WriteString("\n" + theme.SymbolBullet + " " + h)
		}
	}
	if tail = strings.TrimSpace(tail); tail != "" {
		if len(tail) > stderrTailReport {
			tail = theme.SymbolEllipsis + tail[len(tail)-stderrTailReport:]
		}
		b.WriteString("\n\n")
		b.WriteString(theme.Bold.Render("Backend output:"))
		b.WriteString("\n")
		b.WriteString(theme.Dim.Render(tail))
	}
	return theme.FatalBox.Render(b.String())
}
