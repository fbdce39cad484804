package project

import (
	"os"
	"path/filepath"
	"testing"

	coremod "capy/core"
)

func TestLoadManifestWalksUpward(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `
[package]
name = "demo"
entry = "src/main.capy"

[build]
mod-dir = "vendor"
`
	if err := os.WriteFile(filepath.Join(root, ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, found, err := LoadManifest(sub)
	if err != nil || !found {
		t.Fatalf("LoadManifest: found=%v err=%v", found, err)
	}
	if m.Root != root {
		t.Fatalf("root = %q, want %q", m.Root, root)
	}
	if m.Config.Package.Name != "demo" || m.Config.Build.ModDir != "vendor" {
		t.Fatalf("config = %+v", m.Config)
	}
}

func TestLoadManifestAbsent(t *testing.T) {
	_, found, err := LoadManifest(t.TempDir())
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestInstallAndResolveCore(t *testing.T) {
	modDir := t.TempDir()
	if _, err := ResolveMod(modDir, "core"); err == nil {
		t.Fatal("core should be absent before install")
	}
	if err := InstallModule(modDir, "core", coremod.FS()); err != nil {
		t.Fatalf("InstallModule: %v", err)
	}
	path, err := ResolveMod(modDir, "core")
	if err != nil {
		t.Fatalf("ResolveMod after install: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil || len(content) == 0 {
		t.Fatalf("mod.capy unreadable: %v", err)
	}
	listPath := filepath.Join(modDir, "core", "list.capy")
	if _, err := os.Stat(listPath); err != nil {
		t.Fatalf("list.capy not installed: %v", err)
	}
}
