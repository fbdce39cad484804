// Package runtimeembed provides embedded native runtime sources for
// linked builds.
package runtimeembed

import (
	"embed"
	"io/fs"
)

//go:embed native/*.c native/*.h
var nativeRuntimeFS embed.FS

// NativeRuntimeFS exposes embedded runtime sources for the linker
// driver.
func NativeRuntimeFS() fs.FS {
	return nativeRuntimeFS
}

// Files flattens the embedded sources into name → content pairs the
// linker driver writes next to the emitted IR.
func Files() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := fs.WalkDir(nativeRuntimeFS, "native", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := nativeRuntimeFS.ReadFile(path)
		if err != nil {
			return err
		}
		out[d.Name()] = content
		return nil
	})
	return out, err
}
