package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cass-dev/cass/internal/robot"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan every configured source and rebuild the search indexes",
	RunE:  runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, globalConfigPath)
	if err != nil {
		return reportErr(err)
	}
	defer a.Close()

	sources := a.cfg.ToModel()
	summary, err := a.controller.FullIndex(ctx, sources)
	if err != nil {
		return reportErr(err)
	}

	if globalRobot {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("scanned %d, written %d, skipped %d, parse errors %d, embedded %d, embed errors %d (%s)\n",
		summary.ConversationsScanned, summary.ConversationsWritten, summary.ConversationsSkipped,
		summary.ParseErrors, summary.MessagesEmbedded, summary.EmbedErrors, summary.Duration)
	return nil
}

// reportErr prints a structured error to stderr in --robot mode, a plain
// message otherwise, and returns err unchanged so cobra/main still maps
// it to the right exit code.
func reportErr(err error) error {
	if globalRobot {
		_ = robot.WriteError(os.Stderr, err)
	} else {
		fmt.Fprintln(os.Stderr, "cass:", err)
	}
	return err
}
