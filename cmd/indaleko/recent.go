package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/config"
	"github.com/ubc-systopia/indaleko/internal/timeparsing"
)

var (
	recentHours int
	recentLimit int
	recentSince string
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent hot-tier activity",
	Long: `List non-expired hot tier activities, most recent first. --since
accepts compact durations (-6h, -2d), natural language (yesterday,
"last monday") and absolute timestamps (2026-08-20).`,
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

		hours := recentHours
		if recentSince != "" {
			since, err := timeparsing.Parse(recentSince, time.Now())
			if err != nil {
				return err
			}
			hours = int(time.Since(since).Hours()) + 1
		}
		activities, err := rec.GetRecent(rootCtx, hours, recentLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(activities)
		}

		if len(activities) == 0 {
			fmt.Println("No recent activity.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tTYPE\tSCORE\tPATH")
		for _, a := range activities {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
				humanize.Time(a.Timestamp), a.ActivityType, a.ImportanceScore, a.FilePath)
		}
		return w.Flush()
	},
}

func init() {
	recentCmd.Flags().IntVar(&recentHours, "hours", 24, "Window in hours")
	recentCmd.Flags().IntVar(&recentLimit, "limit", 50, "Maximum rows")
	recentCmd.Flags().StringVar(&recentSince, "since", "", "Window start (overrides --hours)")
	rootCmd.AddCommand(recentCmd)
}
