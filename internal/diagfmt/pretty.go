// Package diagfmt renders diagnostics for terminals: location line,
// source snippet, caret underline, and notes.
package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/width"

	"capy/internal/diag"
	"capy/internal/source"
)

// Options controls rendering.
type Options struct {
	Color bool
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgCyan, color.Bold)
	posColor  = color.New(color.FgWhite, color.Bold)
)

// Print renders every diagnostic in the bag, sorted in source order.
func Print(w io.Writer, bag *diag.Bag, files *source.FileSet, opts Options) {
	bag.Sort()
	bag.Dedup()
	for _, d := range bag.Items() {
		printOne(w, d, files, opts)
	}
}

func printOne(w io.Writer, d diag.Diagnostic, files *source.FileSet, opts Options) {
	label := severityLabel(d.Severity, opts.Color)
	start, _ := files.Resolve(d.Primary)
	file := files.Get(d.Primary.File)

	pos := fmt.Sprintf("%s:%d:%d", file.Path, start.Line, start.Col)
	if opts.Color {
		pos = posColor.Sprint(pos)
	}
	fmt.Fprintf(w, "%s[%s] %s: %s\n", label, d.Code, pos, d.Message)

	printSnippet(w, d.Primary, files)
	for _, note := range d.Notes {
		nstart, _ := files.Resolve(note.Span)
		fmt.Fprintf(w, "  note: %s (line %d)\n", note.Msg, nstart.Line)
	}
}

func severityLabel(sev diag.Severity, colored bool) string {
	if !colored {
		return sev.String() + " "
	}
	switch sev {
	case diag.SevError:
		return errColor.Sprint(sev.String()) + " "
	case diag.SevWarning:
		return warnColor.Sprint(sev.String()) + " "
	default:
		return infoColor.Sprint(sev.String()) + " "
	}
}

func printSnippet(w io.Writer, sp source.Span, files *source.FileSet) {
	start, end := files.Resolve(sp)
	line := files.Line(sp.File, start.Line)
	if line == nil {
		return
	}
	fmt.Fprintf(w, "  %4d | %s\n", start.Line, line)

	// The caret must line up under the offending columns even when the
	// prefix holds tabs or wide runes.
	prefix := line
	if int(start.Col-1) <= len(line) {
		prefix = line[:start.Col-1]
	}
	pad := displayWidth(string(prefix))
	carets := 1
	if end.Line == start.Line && end.Col > start.Col {
		carets = int(end.Col - start.Col)
	}
	fmt.Fprintf(w, "       | %s%s\n", strings.Repeat(" ", pad), strings.Repeat("^", carets))
}

// displayWidth measures the on-screen width of a snippet prefix; East
// Asian wide runes count double, tabs round to 4.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		switch {
		case r == '\t':
			w += 4
		default:
			switch width.LookupRune(r).Kind() {
			case width.EastAsianWide, width.EastAsianFullwidth:
				w += 2
			default:
				w++
			}
		}
	}
	return w
}
