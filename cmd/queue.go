package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and control the download queue",
	Long: `Inspect and control the download queue.

With a daemon running, commands go through its API. Without one they
operate on the queue snapshot directly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runQueueList()
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in queue order",
	Run: func(cmd *cobra.Command, args []string) {
		runQueueList()
	},
}

var queuePauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause dispatching (running downloads finish)",
	Run: func(cmd *cobra.Command, args []string) {
		runQueueAction(
			func(svc *core.RemoteService) error { return svc.Pause() },
			func(q *queue.Queue) error { q.Pause(); return nil },
			"Queue paused.")
	},
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume dispatching",
	Run: func(cmd *cobra.Command, args []string) {
		runQueueAction(
			func(svc *core.RemoteService) error { return svc.Resume() },
			func(q *queue.Queue) error { q.Resume(); return nil },
			"Queue resumed.")
	},
}

var queueStopAfterCmd = &cobra.Command{
	Use:   "stop-after [on|off]",
	Short: "Finish the current downloads, then stop dispatching",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		on := true
		if len(args) > 0 {
			v, err := parseOnOff(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			on = v
		}
		note := "Stop after current downloads armed."
		if !on {
			note = "Stop after current downloads disarmed."
		}
		runQueueAction(
			func(svc *core.RemoteService) error { return svc.SetStopAfterCurrent(on) },
			func(q *queue.Queue) error { q.SetStopAfterCurrent(on); return nil },
			note)
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQueueJobAction(args[0],
			func(svc *core.RemoteService, id string) error { return svc.CancelJob(id) },
			func(q *queue.Queue, id string) error { return q.Transition(id, queue.StateCancelled) },
			"Cancelled %s\n")
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-queue a failed job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQueueJobAction(args[0],
			func(svc *core.RemoteService, id string) error { return svc.RetryJob(id) },
			func(q *queue.Queue, id string) error { return q.RetryJob(id) },
			"Retrying %s\n")
	},
}

var queueRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a job from the queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQueueJobAction(args[0],
			func(svc *core.RemoteService, id string) error { return svc.RemoveJob(id) },
			func(q *queue.Queue, id string) error { return q.Remove(id) },
			"Removed %s\n")
	},
}

var queueMoveCmd = &cobra.Command{
	Use:   "move <id> <position>",
	Short: "Move a job to a new position (1-based)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pos, err := strconv.Atoi(args[1])
		if err != nil || pos < 1 {
			fmt.Fprintf(os.Stderr, "Error: position must be a number >= 1, got %q\n", args[1])
			os.Exit(1)
		}
		index := pos - 1
		runQueueJobAction(args[0],
			func(svc *core.RemoteService, id string) error { return svc.MoveJob(id, index) },
			func(q *queue.Queue, id string) error { return q.Move(id, index) },
			"Moved %s\n")
	},
}

var queueRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Re-queue every failed job",
	Run: func(cmd *cobra.Command, args []string) {
		var n int
		runQueueAction(
			func(svc *core.RemoteService) error {
				var err error
				n, err = svc.RetryAllFailed()
				return err
			},
			func(q *queue.Queue) error {
				n = q.RetryAllFailed()
				return nil
			},
			"")
		fmt.Printf("Retrying %d job(s)\n", n)
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop finished jobs from the queue",
	Run: func(cmd *cobra.Command, args []string) {
		var n int
		runQueueAction(
			func(svc *core.RemoteService) error {
				var err error
				n, err = svc.ClearCompleted()
				return err
			},
			func(q *queue.Queue) error {
				n = q.ClearCompleted()
				return nil
			},
			"")
		fmt.Printf("Cleared %d job(s)\n", n)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queuePauseCmd)
	queueCmd.AddCommand(queueResumeCmd)
	queueCmd.AddCommand(queueStopAfterCmd)
	queueCmd.AddCommand(queueCancelCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRmCmd)
	queueCmd.AddCommand(queueMoveCmd)
	queueCmd.AddCommand(queueRetryAllCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func runQueueList() {
	snap, err := fetchSnapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printQueue(snap)
}

// fetchSnapshot reads the queue from the daemon when one answers,
// otherwise from the snapshot store.
func fetchSnapshot() (queue.Snapshot, error) {
	svc, err := daemonService(false)
	if err != nil {
		return queue.Snapshot{}, err
	}
	if svc != nil {
		defer svc.Close()
		return svc.Snapshot()
	}

	var snap queue.Snapshot
	err = withOfflineQueue(func(q *queue.Queue) error {
		snap = q.Snapshot()
		return nil
	})
	return snap, err
}

// runQueueAction applies a queue-wide control either over the API or
// against the snapshot store, then prints the note.
func runQueueAction(remote func(*core.RemoteService) error, offline func(*queue.Queue) error, note string) {
	svc, err := daemonService(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if svc != nil {
		defer svc.Close()
		err = remote(svc)
	} else {
		err = withOfflineQueue(offline)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if note != "" {
		fmt.Println(note)
	}
}

// runQueueJobAction resolves an id prefix against the live snapshot and
// applies a per-job control, printing okFormat with the short id.
func runQueueJobAction(partial string, remote func(*core.RemoteService, string) error, offline func(*queue.Queue, string) error, okFormat string) {
	svc, err := daemonService(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var id string
	if svc != nil {
		defer svc.Close()
		snap, err := svc.Snapshot()
		if err == nil {
			id, err = resolveJobID(snap, partial)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		err = remote(svc, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		err = withOfflineQueue(func(q *queue.Queue) error {
			var err error
			id, err = resolveJobID(q.Snapshot(), partial)
			if err != nil {
				return err
			}
			return offline(q, id)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf(okFormat, shortID(id))
}

// resolveJobID expands a job id prefix to the full id. Full-length ids
// pass through untouched so terminal states elsewhere stay addressable.
func resolveJobID(snap queue.Snapshot, partial string) (string, error) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return "", fmt.Errorf("empty job id")
	}
	if len(partial) >= 36 {
		return partial, nil
	}

	var matches []string
	for _, j := range snap.Jobs {
		if strings.HasPrefix(j.ID, partial) {
			matches = append(matches, j.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no job matches id %q", partial)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("id %q matches %d jobs; use more characters", partial, len(matches))
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

func printQueue(snap queue.Snapshot) {
	if snap.Paused {
		fmt.Println("Queue is paused.")
	}
	if snap.StopAfterCurrent {
		fmt.Println("Stopping after the current downloads.")
	}
	if len(snap.Jobs) == 0 {
		fmt.Println("Queue is empty.")
		return
	}

	fmt.Printf("%-4s %-10s %-9s %-6s %-4s %s\n", "#", "ID", "STATE", "FMT", "ATT", "TARGET")
	for i, j := range snap.Jobs {
		detail := j.Target
		switch {
		case j.State == queue.StateRunning && j.Track != "":
			detail = fmt.Sprintf("%s  (%s)", j.Target, j.Track)
		case j.State == queue.StateFailed && j.LastError != "":
			detail = fmt.Sprintf("%s  (%s)", j.Target, j.LastError)
		}
		fmt.Printf("%-4d %-10s %-9s %-6s %-4d %s\n", i+1, shortID(j.ID), j.State, j.Format, j.Attempts, detail)
	}
}
