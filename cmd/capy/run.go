package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"capy/internal/diagfmt"
	"capy/internal/linker"
	runtimeembed "capy/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <entry.capy> [-- args...]",
	Short: "Build and execute a Capy program",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExecution,
}

func init() {
	runCmd.Flags().Uint64("comptime-budget", 0, "instruction cap per comptime evaluation (0 = unlimited)")
	runCmd.Flags().Bool("emit-mir", false, "print the lowered MIR")
	runCmd.Flags().Bool("emit-llvm", false, "unused in run; accepted for parity with build")
	runCmd.Flags().Bool("print-commands", false, "echo toolchain invocations")
}

func runExecution(cmd *cobra.Command, args []string) error {
	progArgs := []string{}
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		progArgs = args[dash:]
		args = args[:dash]
	}

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

	tmpDir, err := os.MkdirTemp("", "capy-run-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	irPath := filepath.Join(tmpDir, "program.ll")
	if err := os.WriteFile(irPath, []byte(res.LLVM), 0o644); err != nil {
		return err
	}
	rtFiles, err := runtimeembed.Files()
	if err != nil {
		return err
	}
	srcs, err := linker.MaterializeRuntime(tmpDir, rtFiles)
	if err != nil {
		return err
	}
	binPath := filepath.Join(tmpDir, "program")
	printCommands, _ := cmd.Flags().GetBool("print-commands")
	ld := &linker.Driver{PrintCommands: printCommands}
	if err := ld.Link(irPath, srcs, binPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitDriverError)
	}

	proc := exec.Command(binPath, progArgs...)
	proc.Stdin = os.Stdin
	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr
	if err := proc.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	_ = entry
	return nil
}
