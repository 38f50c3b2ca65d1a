package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/logger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished runs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		n, _ := cmd.Flags().GetInt("limit")

		entries, err := fetchHistory(n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return
		}
		for _, e := range entries {
			fmt.Println(historyLine(e))
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
}

// fetchHistory pulls runs from the daemon when one answers, otherwise
// straight from the sqlite store. Reads need no instance lock; sqlite
// handles the concurrency.
func fetchHistory(n int) ([]history.Entry, error) {
	svc, err := daemonService(false)
	if err != nil {
		return nil, err
	}
	if svc != nil {
		defer svc.Close()
		return svc.History(n)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		settings = config.DefaultSettings()
	}
	store, err := history.Open(config.GetHistoryDBPath(), settings.History.Limit, logger.Discard())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer store.Close()
	return store.Recent(n)
}

func historyLine(e history.Entry) string {
	line := fmt.Sprintf("%s  %-9s  %s",
		e.FinishedAt.Local().Format("2006-01-02 15:04"),
		e.State,
		e.Target)
	if e.NewFiles > 0 {
		line += fmt.Sprintf("  [%d file(s)]", e.NewFiles)
	}
	if e.DurationMs > 0 {
		line += fmt.Sprintf("  (%s)", (time.Duration(e.DurationMs) * time.Millisecond).Round(time.Second))
	}
	if e.State == "failed" && e.Reason != "" {
		line += "  " + e.Reason
	}
	return line
}
