package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/config"
	"github.com/ubc-systopia/indaleko/internal/consolidate"
	"github.com/ubc-systopia/indaleko/internal/score"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass now",
	Long: `Promote qualifying hot records to warm and warm records to cold,
then purge whatever expired without qualifying. The run command does
this hourly; this command forces a pass immediately.`,
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
		cons, err := consolidate.New(store, score.NewDefault(),
			consolidate.Config{HotCollection: rec.Collection()}, slog.Default())
		if err != nil {
			return err
		}
		res, err := cons.Run(rootCtx)
		if err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("Promoted %d hot and %d warm records into %d summaries; purged %d expired\n",
				res.HotPromoted, res.WarmPromoted, res.Summaries, res.Purged)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}
