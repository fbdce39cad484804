package source

import "testing"

func TestFileSetResolveLineCol(t *testing.T) {
	fs := NewFileSet()
	id := fs.AddVirtual("test.capy", []byte("x :: 5\nmain :: () {}\n"))

	start, end := fs.Resolve(Span{File: id, Start: 7, End: 11})
	if start.Line != 2 || start.Col != 1 {
		t.Fatalf("start = %+v, want line 2 col 1", start)
	}
	if end.Line != 2 || end.Col != 5 {
		t.Fatalf("end = %+v, want line 2 col 5", end)
	}
}

func TestFileSetNormalizesCRLF(t *testing.T) {
	fs := NewFileSet()
	content, hadCRLF := normalizeCRLF([]byte("a\r\nb\r\n"))
	if !hadCRLF || string(content) != "a\nb\n" {
		t.Fatalf("normalizeCRLF = %q, %v", content, hadCRLF)
	}
	_ = fs
}

func TestFileSetLineExtraction(t *testing.T) {
	fs := NewFileSet()
	id := fs.AddVirtual("t.capy", []byte("first\nsecond\nthird"))
	if got := string(fs.Line(id, 2)); got != "second" {
		t.Fatalf("Line(2) = %q", got)
	}
	if got := string(fs.Line(id, 3)); got != "third" {
		t.Fatalf("Line(3) = %q", got)
	}
	if fs.Line(id, 4) != nil {
		t.Fatal("Line past EOF must be nil")
	}
}

func TestFileSetLatestVersionWins(t *testing.T) {
	fs := NewFileSet()
	fs.AddVirtual("main.capy", []byte("old"))
	second := fs.AddVirtual("main.capy", []byte("new"))
	f, ok := fs.ByPath("main.capy")
	if !ok || f.ID != second {
		t.Fatalf("ByPath should return the latest version, got %+v ok=%v", f, ok)
	}
}
