// Package main implements the capy CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"capy/internal/version"
)

// Exit codes: 0 success, 1 diagnostics emitted, 2 driver or internal
// error.
const (
	exitOK          = 0
	exitDiagnostics = 1
	exitDriverError = 2
)

var rootCmd = &cobra.Command{
	Use:   "capy",
	Short: "Capy language compiler and toolchain",
	Long:  `Capy is an ahead-of-time compiled language with arbitrary compile-time execution`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("mod-dir", "", "override the modules directory")
	rootCmd.PersistentFlags().String("target", "", "override the host triple")
	rootCmd.PersistentFlags().Int("max-diagnostics", 100, "maximum number of diagnostics to show")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitDriverError)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// useColor resolves the --color tri-state against the terminal.
func useColor(cmd *cobra.Command) bool {
	mode, _ := cmd.Root().PersistentFlags().GetString("color")
	switch mode {
	case "on":
		return true
	case "off":
		return false
	default:
		return isTerminal(os.Stderr)
	}
}
