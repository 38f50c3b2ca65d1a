package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/runner"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the spindle background daemon",
	Long:  `Start, stop, or check the status of the spindle daemon.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start [target]...",
	Short: "Run the engine headless with the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		settings, log := initializeAppState(false)
		defer log.Close()

		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring instance lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: spindle is already running.")
			os.Exit(1)
		}
		defer ReleaseLock()

		savePID()
		defer removePID()

		rt, err := startRuntime(settings, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.stop()

		portFlag, _ := cmd.Flags().GetInt("port")
		if err := rt.startAPI(settings.Remote.Host, pickPort(portFlag, settings.Remote.Port)); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting API: %v\n", err)
			os.Exit(1)
		}

		batchFile, _ := cmd.Flags().GetString("batch")
		format, _ := cmd.Flags().GetString("format")
		go enqueueStartupTargets(rt.eng, log, args, batchFile, format)

		fmt.Printf("spindle %s running as a daemon.\n", Version)
		fmt.Printf("API listening on %s:%d\n", settings.Remote.Host, rt.apiPort)
		fmt.Println("Press Ctrl+C to exit.")

		stream, unsubscribe := rt.eng.Subscribe(64)
		defer unsubscribe()
		go consumeEvents(stream)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")
		if exitWhenDone {
			go watchForIdle(rt, sigCh)
		}

		<-sigCh
		fmt.Println("\nShutting down...")
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running spindle daemon",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("No running spindle daemon found (PID file missing).")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("Error finding process: %v\n", err)
			return
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("Error stopping daemon: %v\n", err)
			return
		}
		fmt.Printf("Sent stop signal to process %d\n", pid)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the spindle daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		switch {
		case pid == 0:
			fmt.Println("spindle daemon is NOT running.")
		default:
			process, err := os.FindProcess(pid)
			if err != nil {
				fmt.Printf("spindle daemon is NOT running (process %d not found).\n", pid)
			} else if err := process.Signal(syscall.Signal(0)); err != nil {
				fmt.Printf("spindle daemon is NOT running (process %d dead).\n", pid)
			} else {
				fmt.Printf("spindle daemon is running (PID: %d, Port: %d).\n", pid, readActivePort())
			}
		}

		printDownloaderStatus()
	},
}

// printDownloaderStatus reports where the downloader binary resolved to
// and what it says of itself.
func printDownloaderStatus() {
	override := ""
	if settings, err := config.LoadSettings(); err == nil {
		override = settings.Downloader.BinaryPath
	}

	bin, err := runner.Resolve(override)
	if err != nil {
		fmt.Printf("downloader: %v\n", err)
		return
	}
	if v, err := runner.Version(context.Background(), bin); err == nil && v != "" {
		fmt.Printf("downloader: %s (%s)\n", bin, v)
	} else {
		fmt.Printf("downloader: %s\n", bin)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().StringP("batch", "b", "", "File containing links to queue")
	serverStartCmd.Flags().StringP("format", "f", "", "Audio format for links given on the command line")
	serverStartCmd.Flags().IntP("port", "p", 0, "HTTP API port (overrides settings)")
	serverStartCmd.Flags().Bool("exit-when-done", false, "Exit when the queue has drained")
}

func savePID() {
	_ = os.WriteFile(config.GetPidPath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func removePID() {
	if err := os.Remove(config.GetPidPath()); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error removing PID file: %v\n", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(config.GetPidPath())
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// consumeEvents prints a one-line account of queue activity, the
// headless stand-in for the dashboard.
func consumeEvents(stream <-chan any) {
	for msg := range stream {
		switch m := msg.(type) {
		case events.ProgressEvent:
			switch m.Kind {
			case events.KindDone:
				fmt.Printf("Done: %s [%s]\n", m.Track, shortID(m.JobID))
			case events.KindError:
				fmt.Printf("Error: %s [%s]\n", m.Message, shortID(m.JobID))
			case events.KindRetry:
				fmt.Printf("Retry: %s [%s]\n", m.Reason, shortID(m.JobID))
			case events.KindRateLimit:
				fmt.Printf("Rate limited, backing off %s\n", m.Delay)
			}
		case events.JobErrorMsg:
			if m.Err != nil {
				fmt.Printf("Failed: %s [%s]: %v\n", m.Target, shortID(m.JobID), m.Err)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// watchForIdle trips the shutdown signal once nothing is queued or
// running anymore.
func watchForIdle(rt *appRuntime, sigCh chan<- os.Signal) {
	// Give startup enqueues a moment to land first.
	time.Sleep(3 * time.Second)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := rt.eng.Snapshot()
		busy := 0
		for _, j := range snap.Jobs {
			switch j.State {
			case queue.StateQueued, queue.StateRunning:
				busy++
			}
		}
		if busy == 0 {
			fmt.Println("Queue drained. Exiting...")
			sigCh <- syscall.SIGTERM
			return
		}
	}
}
