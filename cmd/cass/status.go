package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and index state",
	RunE:  runStatus,
}

type statusOutput struct {
	DataDir       string   `json:"data_dir"`
	DBPath        string   `json:"db_path"`
	Sources       []string `json:"sources"`
	Embedder      string   `json:"embedder"`
	LexicalDocs   int      `json:"lexical_docs"`
	VectorShard   bool     `json:"vector_shard_present"`
	ControllerState string `json:"controller_state"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, globalConfigPath)
	if err != nil {
		return reportErr(err)
	}
	defer a.Close()

	if _, err := a.controller.IncrementalIndex(ctx, a.cfg.ToModel()); err != nil {
		return reportErr(err)
	}

	names := make([]string, 0, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		names = append(names, s.Name)
	}

	lexDocs := 0
	if idx := a.controller.LexicalIndex(); idx != nil {
		lexDocs = idx.Size()
	}

	out := statusOutput{
		DataDir:         a.cfg.DataDir,
		DBPath:          a.cfg.DBPath,
		Sources:         names,
		Embedder:        a.embedders.Active().Name(),
		LexicalDocs:     lexDocs,
		VectorShard:     a.controller.VectorIndex() != nil,
		ControllerState: string(a.controller.State()),
	}

	if globalRobot {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("data dir:  %s\n", out.DataDir)
	fmt.Printf("db path:   %s\n", out.DBPath)
	fmt.Printf("sources:   %v\n", out.Sources)
	fmt.Printf("embedder:  %s\n", out.Embedder)
	fmt.Printf("lexical:   %d document(s)\n", out.LexicalDocs)
	fmt.Printf("vector:    present=%v\n", out.VectorShard)
	fmt.Printf("state:     %s\n", out.ControllerState)
	return nil
}
