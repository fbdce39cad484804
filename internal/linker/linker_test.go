package linker

import (
	"strings"
	"testing"

	runtimeembed "capy/runtime"
)

func TestMaterializeRuntime(t *testing.T) {
	files, err := runtimeembed.Files()
	if err != nil {
		t.Fatalf("embedded runtime: %v", err)
	}
	if _, ok := files["capy_runtime.c"]; !ok {
		t.Fatalf("runtime C source missing: %v", keys(files))
	}
	srcs, err := MaterializeRuntime(t.TempDir(), files)
	if err != nil {
		t.Fatalf("MaterializeRuntime: %v", err)
	}
	foundC := false
	for _, s := range srcs {
		if strings.HasSuffix(s, ".c") {
			foundC = true
		}
		if strings.HasSuffix(s, ".h") {
			t.Fatalf("headers must not be on the link line: %v", srcs)
		}
	}
	if !foundC {
		t.Fatalf("no C sources returned: %v", srcs)
	}
}

func TestLinkerErrorIsDistinct(t *testing.T) {
	err := &Error{Output: "undefined reference to `foo'", Err: errFake{}}
	if !strings.Contains(err.Error(), "undefined reference") {
		t.Fatalf("driver output must surface verbatim: %q", err.Error())
	}
}

type errFake struct{}

func (errFake) Error() string { return "exit status 1" }

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
