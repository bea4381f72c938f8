package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/config"
	"github.com/ubc-systopia/indaleko/internal/consolidate"
	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// statsReport is the --json shape.
type statsReport struct {
	Hot        *types.Statistics `json:"hot"`
	TierCounts map[string]int64  `json:"tier_counts"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tier statistics",
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
		stats, err := rec.GetStatistics(rootCtx)
		if err != nil {
			return err
		}
		cons, err := consolidate.New(store, score.NewDefault(),
			consolidate.Config{HotCollection: rec.Collection()}, slog.Default())
		if err != nil {
			return err
		}
		hot, warm, cold, err := cons.TierCounts(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(statsReport{
				Hot:        stats,
				TierCounts: map[string]int64{"hot": hot, "warm": warm, "cold": cold},
			})
		}

		fmt.Printf("Tiers: hot %s, warm %s, cold %s\n",
			humanize.Comma(hot), humanize.Comma(warm), humanize.Comma(cold))
		fmt.Printf("Hot records: %s (errors recovered: %d)\n",
			humanize.Comma(stats.TotalCount), stats.ErrorCount)

		if len(stats.ByType) > 0 {
			typeNames := make([]string, 0, len(stats.ByType))
			for t := range stats.ByType {
				typeNames = append(typeNames, string(t))
			}
			sort.Strings(typeNames)
			parts := make([]string, 0, len(typeNames))
			for _, t := range typeNames {
				parts = append(parts, fmt.Sprintf("%s %d", t, stats.ByType[types.ActivityType(t)]))
			}
			fmt.Printf("By type: %s\n", strings.Join(parts, ", "))
		}

		fmt.Println("Importance histogram:")
		for i, n := range stats.ByImportance {
			if n == 0 {
				continue
			}
			fmt.Printf("  %.1f-%.1f  %s\n", float64(i)/10, float64(i+1)/10, humanize.Comma(n))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
