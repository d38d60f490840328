package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Index once, then keep indexing as configured sources change",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, globalConfigPath)
	if err != nil {
		return reportErr(err)
	}
	defer a.Close()

	debounce := time.Duration(a.cfg.WarmDebounceMs) * time.Millisecond
	sources := a.cfg.ToModel()

	if !globalRobot {
		fmt.Printf("watching %d source(s), debounce %s; press Ctrl-C to stop\n", len(sources), debounce)
	}

	if err := a.controller.Watch(ctx, sources, debounce); err != nil {
		return reportErr(err)
	}
	return nil
}
