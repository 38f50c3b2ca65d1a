package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/export"
	"github.com/spindle-dl/spindle/internal/queue"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the queue, history, or a playlist to a file",
	Long: `Write the queue, history, or a playlist to a file.

By default the queue is exported as JSON. With no file argument the
output goes to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asText, _ := cmd.Flags().GetBool("text")
		asHistory, _ := cmd.Flags().GetBool("history")
		playlistDir, _ := cmd.Flags().GetString("playlist")

		var (
			data []byte
			err  error
		)
		switch {
		case playlistDir != "":
			data, err = export.PlaylistM3U8(playlistDir)
		case asHistory:
			runs, ferr := fetchHistory(0)
			if ferr != nil {
				err = ferr
				break
			}
			data = export.HistoryText(runs)
		default:
			snap, ferr := fetchSnapshot()
			if ferr != nil {
				err = ferr
				break
			}
			items := export.Items(snap)
			if asText {
				data = export.QueueText(items)
			} else {
				data, err = export.QueueJSON(items)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported to %s\n", args[0])
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Queue every target from an exported queue file",
	Long: `Queue every target from an exported queue file.

Both the JSON document and the plain text form (one link per line,
# comments ignored) are accepted. Targets already in the queue are
reported and skipped by the engine's usual duplicate handling.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		items, err := export.ParseQueue(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			fmt.Println("Nothing to import.")
			return
		}

		queued, err := importItems(items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Queued %d of %d target(s)\n", queued, len(items))
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().Bool("text", false, "Export the queue as plain text, one link per line")
	exportCmd.Flags().Bool("history", false, "Export the history summary instead of the queue")
	exportCmd.Flags().String("playlist", "", "Build an m3u8 playlist from the audio files under this directory")
}

// importItems enqueues parsed items through the daemon when one answers,
// otherwise straight into the snapshot store.
func importItems(items []export.QueueItem) (int, error) {
	svc, err := daemonService(false)
	if err != nil {
		return 0, err
	}

	queued := 0
	if svc != nil {
		defer svc.Close()
		for _, it := range items {
			if _, err := svc.Enqueue(it.Target, it.Format); err != nil {
				fmt.Fprintf(os.Stderr, "Rejected %s: %v\n", it.Target, err)
				continue
			}
			queued++
		}
		return queued, nil
	}

	defaultFormat := ""
	if settings, err := config.LoadSettings(); err == nil {
		defaultFormat = settings.General.DefaultFormat
	}
	err = withOfflineQueue(func(q *queue.Queue) error {
		for _, it := range items {
			format := it.Format
			if format == "" {
				format = defaultFormat
			}
			f, err := queue.ParseFormat(format)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Rejected %s: %v\n", it.Target, err)
				continue
			}
			if _, err := q.Enqueue(it.Target, f, queue.SourceManual); err != nil {
				fmt.Fprintf(os.Stderr, "Rejected %s: %v\n", it.Target, err)
				continue
			}
			queued++
		}
		return nil
	})
	return queued, err
}
