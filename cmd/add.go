package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/queue"
)

var addCmd = &cobra.Command{
	Use:   "add <link>...",
	Short: "Queue links for download",
	Long: `Queue one or more links for download.

When a spindle daemon is running the links are handed to it over the
API. Otherwise they are written straight into the queue snapshot and
picked up on the next start.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		batchFile, _ := cmd.Flags().GetString("batch")

		targets := append([]string{}, args...)
		if batchFile != "" {
			fromFile, err := readTargetsFromFile(batchFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			targets = append(targets, fromFile...)
		}
		if len(targets) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no links given. Pass links as arguments or use --batch.")
			os.Exit(1)
		}

		svc, err := daemonService(false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if svc != nil {
			defer svc.Close()
			queued := 0
			for _, target := range targets {
				id, err := svc.Enqueue(target, format)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Rejected %s: %v\n", target, err)
					continue
				}
				fmt.Printf("Queued %s [%s]\n", target, shortID(id))
				queued++
			}
			if queued == 0 {
				os.Exit(1)
			}
			return
		}

		// No daemon: the engine normally fills in the configured default
		// format, so do the same before writing the snapshot.
		if format == "" {
			if settings, err := config.LoadSettings(); err == nil {
				format = settings.General.DefaultFormat
			}
		}
		f, err := queue.ParseFormat(format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		err = withOfflineQueue(func(q *queue.Queue) error {
			queued := 0
			for _, target := range targets {
				id, err := q.Enqueue(target, f, queue.SourceManual)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Rejected %s: %v\n", target, err)
					continue
				}
				fmt.Printf("Queued %s [%s]\n", target, shortID(id))
				queued++
			}
			if queued == 0 {
				return fmt.Errorf("no links queued")
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("spindle is not running; queued links start on the next launch.")
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("format", "f", "", "Audio format (flac, mp3, m4a, opus); empty uses the configured default")
	addCmd.Flags().StringP("batch", "b", "", "File containing links to queue")
}
