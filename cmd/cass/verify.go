package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cass-dev/cass/internal/export"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Validate an export bundle's structure, paths, and hashes",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if err := export.Verify(dir); err != nil {
		return reportErr(err)
	}

	if globalRobot {
		result := struct {
			Dir   string `json:"dir"`
			Valid bool   `json:"valid"`
		}{Dir: dir, Valid: true}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Println("bundle OK:", dir)
	return nil
}
