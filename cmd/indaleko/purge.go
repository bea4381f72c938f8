package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/config"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired records without consolidating",
	Long: `Delete hot and warm records whose TTL has fired. Unlike consolidate,
nothing is promoted first; use this to reclaim space when the promoted
history is not wanted.`,
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

		var total int64
		for _, coll := range []string{rec.Collection(), rec.Collection() + "_warm"} {
			n, err := store.PurgeExpired(rootCtx, coll)
			if err != nil {
				return fmt.Errorf("purge %s: %w", coll, err)
			}
			total += n
		}
		if !quietFlag {
			fmt.Printf("Purged %d expired records\n", total)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
