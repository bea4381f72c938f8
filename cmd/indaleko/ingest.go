package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>...",
	Short: "Bulk-load activity JSONL files into the hot tier",
	Long: `Ingest line-delimited activity files, typically backups written by
a previous run. Re-ingesting the same file is idempotent: records keyed
by activity_id are inserted once. Lines with malformed JSON or naive
timestamps are skipped and counted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		store, err := openStorage(rootCtx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rec, err := newRecorder(store, cfg)
		if err != nil {
			return err
		}

		var total int
		for _, path := range args {
			ids, err := rec.ProcessJSONLFile(rootCtx, path)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			slog.Default().Info("file ingested", "path", path, "stored", len(ids))
			total += len(ids)
		}
		if !quietFlag {
			fmt.Printf("Stored %d activities (%d skipped)\n", total, rec.ErrorCount())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
