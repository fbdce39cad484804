// Package project handles capy.toml manifests and the modules
// directory the `#mod` directive resolves against.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the project file looked up from the working
// directory upward.
const ManifestName = "capy.toml"

// Config is the parsed capy.toml.
type Config struct {
	Package PackageSection `toml:"package"`
	Build   BuildSection   `toml:"build"`
}

type PackageSection struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

type BuildSection struct {
	ModDir string `toml:"mod-dir"`
	Target string `toml:"target"`
}

// Manifest couples a parsed config with its location.
type Manifest struct {
	Root   string
	Config Config
}

// LoadManifest walks from dir upward looking for capy.toml.
func LoadManifest(dir string) (*Manifest, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, false, err
	}
	for {
		path := filepath.Join(abs, ManifestName)
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, false, fmt.Errorf("%s: %w", path, err)
			}
			return &Manifest{Root: abs, Config: cfg}, true, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, false, nil
		}
		abs = parent
	}
}

// DefaultModDir is where registry modules live when neither the
// manifest nor --mod-dir says otherwise.
func DefaultModDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "capy", "mods")
	}
	return filepath.Join(".", "capy-mods")
}

// CacheDir honors the optional user cache location.
func CacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "capy")
	}
	return ""
}

// ResolveMod maps `#mod(name)` to <modDir>/<name>/mod.capy.
func ResolveMod(modDir, name string) (string, error) {
	path := filepath.Join(modDir, name, "mod.capy")
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// InstallModule writes an embedded module tree under <modDir>/<name>.
// Used to provision the bundled core module when the registry copy is
// absent.
func InstallModule(modDir, name string, files fs.FS) error {
	root := filepath.Join(modDir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return fs.WalkDir(files, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == "." {
				return nil
			}
			return os.MkdirAll(filepath.Join(root, path), 0o755)
		}
		content, err := fs.ReadFile(files, path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(root, path), content, 0o644)
	})
}

// ErrNoManifest is returned by callers that require a project file.
var ErrNoManifest = errors.New("no capy.toml found")
