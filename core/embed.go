// Package core embeds the bundled "core" registry module so a build
// works before anything was ever downloaded.
package core

import (
	"embed"
	"io/fs"
)

//go:embed *.capy
var coreFS embed.FS

// FS exposes the bundled core module sources.
func FS() fs.FS {
	return coreFS
}

// File reads one bundled source by name.
func File(name string) ([]byte, bool) {
	content, err := fs.ReadFile(coreFS, name)
	if err != nil {
		return nil, false
	}
	return content, true
}
