package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cass-dev/cass/internal/casserr"
	"github.com/cass-dev/cass/internal/export"
)

var (
	exportPassword bool
	exportRecovery string
)

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write an export bundle of the catalog to <dir>",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().BoolVar(&exportPassword, "password", false, "prompt for a passphrase and encrypt the bundle")
	exportCmd.Flags().StringVar(&exportRecovery, "recovery-code", "", "add a recovery-code key slot in addition to --password")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	a, err := buildApp(ctx, globalConfigPath)
	if err != nil {
		return reportErr(err)
	}
	defer a.Close()

	if _, err := os.Stat(dir); err == nil {
		return reportErr(casserr.New(casserr.KindIO, "export directory already exists: "+dir, "choose a new, non-existent directory"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return reportErr(casserr.Wrap(casserr.KindIO, err, "creating export directory"))
	}

	data, err := os.Open(a.cfg.DBPath)
	if err != nil {
		return reportErr(casserr.Wrap(casserr.KindIO, err, "opening catalog database for export"))
	}
	defer data.Close()

	var slots []export.KeySlot
	if exportPassword {
		secret, err := promptPassphrase("export passphrase: ")
		if err != nil {
			return reportErr(casserr.Wrap(casserr.KindIO, err, "reading passphrase"))
		}
		slots = append(slots, export.KeySlot{ID: "password", Secret: secret, SlotType: "password"})
	}
	if exportRecovery != "" {
		slots = append(slots, export.KeySlot{ID: "recovery", Secret: []byte(exportRecovery), SlotType: "recovery"})
	}

	cfg, err := export.Write(export.WriteOptions{
		Dir:    dir,
		Data:   data,
		Slots:  slots,
		Argon2: export.DefaultArgon2Params,
	})
	if err != nil {
		return reportErr(err)
	}

	if globalRobot {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	fmt.Printf("wrote bundle to %s (%d chunk(s), encrypted=%v)\n", dir, cfg.Payload.ChunkCount, cfg.Encrypted)
	return nil
}

func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		var line string
		if _, err := fmt.Scanln(&line); err != nil {
			return nil, err
		}
		return []byte(line), nil
	}
	return term.ReadPassword(int(os.Stdin.Fd()))
}
