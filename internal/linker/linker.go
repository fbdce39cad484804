// Package linker drives the external C toolchain that turns emitted
// LLVM IR into an executable.
package linker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Error is the distinct linker-failure kind; the driver output is
// surfaced verbatim.
type Error struct {
	Cmd    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("linker failed: %s\n%s", e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("linker failed: %s", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Driver invokes clang to assemble the IR and link libc plus the
// native runtime sources.
type Driver struct {
	// Compiler overrides the toolchain binary (default: clang).
	Compiler string
	// PrintCommands echoes each invocation to stderr.
	PrintCommands bool
}

// Find reports which toolchain binary will be used, or an error when
// none is installed.
func (d *Driver) Find() (string, error) {
	candidates := []string{d.Compiler, "clang", "clang-19", "clang-18", "clang-17"}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no clang toolchain found; install clang to link executables")
}

// Link assembles irPath together with the runtime C sources into
// output. The libc dependency is mandatory.
func (d *Driver) Link(irPath string, runtimeSrcs []string, output string) error {
	cc, err := d.Find()
	if err != nil {
		return &Error{Err: err}
	}
	args := []string{"-o", output, irPath}
	args = append(args, runtimeSrcs...)
	args = append(args, "-lm")

	cmd := exec.Command(cc, args...)
	if d.PrintCommands {
		fmt.Fprintf(os.Stderr, "+ %s %s\n", cc, strings.Join(args, " "))
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &Error{
			Cmd:    cc + " " + strings.Join(args, " "),
			Output: string(out),
			Err:    err,
		}
	}
	return nil
}

// MaterializeRuntime writes the embedded runtime sources into dir and
// returns the C file paths for the link line.
func MaterializeRuntime(dir string, files map[string][]byte) ([]string, error) {
	var srcs []string
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, err
		}
		if strings.HasSuffix(name, ".c") {
			srcs = append(srcs, path)
		}
	}
	return srcs, nil
}
