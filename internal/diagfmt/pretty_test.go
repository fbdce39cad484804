package diagfmt

import (
	"strings"
	"testing"

	"capy/internal/diag"
	"capy/internal/source"
)

func TestPrintSnippetWithCaret(t *testing.T) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte("x :: oops + 1\n"))
	bag := diag.NewBag(4)
	bag.Add(diag.NewError(diag.NameUnresolved,
		source.Span{File: id, Start: 5, End: 9}, `unresolved name "oops"`))

	var sb strings.Builder
	Print(&sb, bag, fs, Options{Color: false})
	out := sb.String()

	for _, want := range []string{
		"ERROR",
		"CAPY3001",
		"test.capy:1:6",
		"x :: oops + 1",
		"^^^^",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	// The caret must sit under the offending token.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "^^^^") {
			if !strings.HasSuffix(line, "     ^^^^") {
				t.Fatalf("caret misaligned: %q", line)
			}
		}
	}
}

func TestPrintSortsBySourceOrder(t *testing.T) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte("a\nb\nc\n"))
	bag := diag.NewBag(4)
	bag.Add(diag.NewError(diag.TypeMismatch, source.Span{File: id, Start: 4, End: 5}, "second"))
	bag.Add(diag.NewError(diag.TypeMismatch, source.Span{File: id, Start: 0, End: 1}, "first"))

	var sb strings.Builder
	Print(&sb, bag, fs, Options{})
	out := sb.String()
	if strings.Index(out, "first") > strings.Index(out, "second") {
		t.Fatalf("diagnostics out of order:\n%s", out)
	}
}

func TestDisplayWidthWideRunes(t *testing.T) {
	if displayWidth("ab") != 2 {
		t.Fatal("ascii width")
	}
	if displayWidth("\t") != 4 {
		t.Fatal("tab width")
	}
	if displayWidth("你") != 2 {
		t.Fatal("wide rune width")
	}
}
