// Cass unifies coding-agent conversation logs (Claude Code, Codex CLI,
// Gemini, Cline, Amp, Aider, OpenCode, Pi-Agent, Factory, Cursor) from
// their native per-agent formats into one searchable corpus with hybrid
// lexical+semantic search and encrypted export bundles.
//
// Configuration is loaded from ~/.config/cass/config.yaml and CASS_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	cass index                 # scan every configured source once
//	cass watch                 # index, then keep watching for changes
//	cass search "foo AND bar"  # query the corpus
//	cass export ./bundle       # write an export bundle (encrypted with --password)
//	cass verify ./bundle       # check a bundle's integrity
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cass-dev/cass/internal/casserr"
)

var (
	version = "dev"

	globalConfigPath string
	globalRobot      bool
	globalRobotFmt   string
	globalNoColor    bool
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command's returned error onto spec §6's exit code
// contract. RunE errors that never went through casserr still exit 1
// ("handled failure"), never a raw panic code.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(usageError); ok {
		return 2
	}
	return casserr.ExitCode(err)
}

// usageError marks a cobra-level flag/argument mistake as exit code 2
// ("misuse") rather than casserr's generic exit code 1.
type usageError struct{ error }

func newUsageError(format string, args ...interface{}) error {
	return usageError{fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "cass",
	Short:         "Search across every coding agent's conversation history",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config.yaml (default ~/.config/cass/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&globalRobot, "robot", false, "emit machine-readable output")
	rootCmd.PersistentFlags().StringVar(&globalRobotFmt, "robot-format", "", "robot output format: json|jsonl|compact|sessions (default from CASS_ROBOT_FORMAT or json)")
	rootCmd.PersistentFlags().BoolVar(&globalNoColor, "no-color", false, "disable colored human-readable output")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
}
