package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"capy/internal/diagfmt"
	"capy/internal/driver"
	"capy/internal/linker"
	"capy/internal/project"
	"capy/internal/ui"
	runtimeembed "capy/runtime"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] <entry.capy>",
	Short: "Build a Capy program into an executable",
	Long:  "Compile the entry file and its imports, then link with the C toolchain.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  buildExecution,
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "output executable path")
	buildCmd.Flags().Bool("emit-llvm", false, "write the generated LLVM IR next to the output")
	buildCmd.Flags().Bool("emit-mir", false, "print the lowered MIR")
	buildCmd.Flags().Bool("print-commands", false, "echo toolchain invocations")
	buildCmd.Flags().Uint64("comptime-budget", 0, "instruction cap per comptime evaluation (0 = unlimited)")
	buildCmd.Flags().String("ui", "auto", "progress display (auto|tui|plain)")
}

func buildExecution(cmd *cobra.Command, args []string) error {
	res, entry, err := compileForCommand(cmd, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitDriverError)
	}
	if res.Bag.Len() > 0 {
		diagfmt.Print(os.Stderr, res.Bag, res.Files, diagfmt.Options{Color: useColor(cmd)})
	}
	if res.Bag.HasErrors() {
		os.Exit(exitDiagnostics)
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
		if output == "" {
			output = "a.out"
		}
	}
	emitLLVM, _ := cmd.Flags().GetBool("emit-llvm")
	emitMIR, _ := cmd.Flags().GetBool("emit-mir")
	printCommands, _ := cmd.Flags().GetBool("print-commands")

	if emitMIR {
		fmt.Print(res.MIRText)
	}

	tmpDir, err := os.MkdirTemp("", "capy-build-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	irPath := filepath.Join(tmpDir, output+".ll")
	if err := os.WriteFile(irPath, []byte(res.LLVM), 0o644); err != nil {
		return err
	}
	if emitLLVM {
		if err := os.WriteFile(output+".ll", []byte(res.LLVM), 0o644); err != nil {
			return err
		}
	}

	rtFiles, err := runtimeembed.Files()
	if err != nil {
		return err
	}
	srcs, err := linker.MaterializeRuntime(tmpDir, rtFiles)
	if err != nil {
		return err
	}

	ld := &linker.Driver{PrintCommands: printCommands}
	if err := ld.Link(irPath, srcs, output); err != nil {
		// Linker failures are fatal to the build and surfaced verbatim.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitDriverError)
	}
	return nil
}

// compileForCommand resolves the entry path (argument or manifest) and
// runs the driver.
func compileForCommand(cmd *cobra.Command, args []string) (*driver.Result, string, error) {
	modDir, _ := cmd.Root().PersistentFlags().GetString("mod-dir")
	target, _ := cmd.Root().PersistentFlags().GetString("target")
	maxDiagnostics, _ := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	budget, _ := cmd.Flags().GetUint64("comptime-budget")

	var entry string
	if len(args) > 0 {
		entry = args[0]
	} else {
		manifest, found, err := project.LoadManifest(".")
		if err != nil {
			return nil, "", err
		}
		if !found || manifest.Config.Package.Entry == "" {
			return nil, "", fmt.Errorf("no entry file given and no %s found", project.ManifestName)
		}
		entry = filepath.Join(manifest.Root, manifest.Config.Package.Entry)
		if modDir == "" {
			modDir = manifest.Config.Build.ModDir
		}
		if target == "" {
			target = manifest.Config.Build.Target
		}
	}

	emitMIR, _ := cmd.Flags().GetBool("emit-mir")
	opts := driver.Options{
		ModDir:         modDir,
		Target:         target,
		MaxDiagnostics: maxDiagnostics,
		ComptimeBudget: budget,
		EmitMIR:        emitMIR,
	}

	uiMode, _ := cmd.Flags().GetString("ui")
	if shouldUseTUI(uiMode) {
		return compileWithTUI(entry, opts)
	}
	res, err := driver.Compile(context.Background(), entry, opts)
	return res, entry, err
}

func shouldUseTUI(mode string) bool {
	switch mode {
	case "tui":
		return true
	case "plain":
		return false
	default:
		return isTerminal(os.Stderr)
	}
}

// compileWithTUI runs the pipeline behind a progress view.
func compileWithTUI(entry string, opts driver.Options) (*driver.Result, string, error) {
	events := make(chan ui.Event, 16)
	opts.Observer = ui.ChannelObserver{Events: events}

	var res *driver.Result
	var compileErr error
	go func() {
		defer close(events)
		res, compileErr = driver.Compile(context.Background(), entry, opts)
	}()

	model := ui.NewProgressModel("building "+filepath.Base(entry), events)
	prog := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	if _, err := prog.Run(); err != nil {
		// Fall back to draining the channel so the compile finishes.
		for range events {
		}
	}
	return res, entry, compileErr
}
