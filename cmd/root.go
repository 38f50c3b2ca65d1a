package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/engine"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/remote"
	"github.com/spindle-dl/spindle/internal/schedule"
	"github.com/spindle-dl/spindle/internal/sentry"
	"github.com/spindle-dl/spindle/internal/tui"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd runs the engine with the dashboard attached.
var rootCmd = &cobra.Command{
	Use:   "spindle [target]...",
	Short: "A download queue manager for the spotifydl binary",
	Long: `Spindle queues Spotify track, album and playlist links and works through
them with the spotifydl binary: retries, adaptive pacing, clipboard
capture, a daily schedule and a terminal dashboard.`,
	Version: Version,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings, log := initializeAppState(true)
		defer log.Close()

		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring instance lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: spindle is already running.")
			fmt.Fprintln(os.Stderr, "Use 'spindle add <link>' to queue into the active instance.")
			os.Exit(1)
		}
		defer ReleaseLock()

		rt, err := startRuntime(settings, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.stop()

		serveFlag, _ := cmd.Flags().GetBool("serve")
		portFlag, _ := cmd.Flags().GetInt("port")
		if serveFlag || settings.Remote.Enabled {
			if err := rt.startAPI(settings.Remote.Host, pickPort(portFlag, settings.Remote.Port)); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting API: %v\n", err)
				os.Exit(1)
			}
		}

		batchFile, _ := cmd.Flags().GetString("batch")
		format, _ := cmd.Flags().GetString("format")
		go enqueueStartupTargets(rt.eng, log, args, batchFile, format)

		svc := core.NewLocalService(rt.eng)
		stream, stopEvents, err := svc.Events(rt.ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer stopEvents()

		m := tui.InitialRootModel(svc, Version, stream, settings, false)
		p := tea.NewProgram(m, tea.WithAltScreen())

		// SIGTERM lands as a clean quit so the engine can drain.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM)
		go func() {
			<-sigCh
			p.Send(tea.Quit())
		}()

		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringP("batch", "b", "", "File containing links to queue (one per line)")
	rootCmd.Flags().StringP("format", "f", "", "Audio format for links given on the command line")
	rootCmd.Flags().Bool("serve", false, "Serve the HTTP control API even if disabled in settings")
	rootCmd.Flags().IntP("port", "p", 0, "HTTP API port (overrides settings)")
	rootCmd.SetVersionTemplate("spindle version {{.Version}}\n")
}

// initializeAppState prepares directories, settings and logging. In TUI
// mode the log goes to a file because the terminal belongs to bubbletea.
func initializeAppState(tuiMode bool) (*config.Settings, *logger.Logger) {
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing state directories: %v\n", err)
		os.Exit(1)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: settings not loaded (%v), using defaults\n", err)
		settings = config.DefaultSettings()
	}

	logFile := ""
	if tuiMode {
		logFile = config.GetLogPath()
	}
	log := logger.New(logger.Config{
		Level:  settings.General.LogLevel,
		Format: "text",
		File:   logFile,
	})
	return settings, log
}

// appRuntime is the assembled engine with its background controllers.
type appRuntime struct {
	settings *config.Settings
	log      *logger.Logger
	eng      *engine.Engine
	hist     *history.Store

	ctx     context.Context
	cancel  context.CancelFunc
	engDone chan struct{}

	httpSrv *http.Server
	apiPort int
}

// startRuntime opens the queue and history stores, starts the engine
// loop and wires the sentry and scheduler controllers.
func startRuntime(settings *config.Settings, log *logger.Logger) (*appRuntime, error) {
	q := queue.New(queue.NewSnapshotStore(config.GetQueuePath(), log), log)
	if err := q.Load(); err != nil {
		log.Warn("queue snapshot not loaded", "err", err)
	}

	hist, err := history.Open(config.GetHistoryDBPath(), settings.History.Limit, log)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	eng := engine.New(q, hist, settings, log)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &appRuntime{
		settings: settings,
		log:      log,
		eng:      eng,
		hist:     hist,
		ctx:      ctx,
		cancel:   cancel,
		engDone:  make(chan struct{}),
	}

	go func() {
		defer close(rt.engDone)
		if err := eng.Run(ctx); err != nil {
			log.Error("engine loop", "err", err)
		}
	}()

	if settings.Sentry.Enabled {
		eng.SetSentry(true)
	}
	go superviseSentry(ctx, eng, hist, settings, log)

	if settings.Scheduler.Enabled && settings.Scheduler.Time != "" {
		sched, err := schedule.New(eng, settings.Scheduler.Time, log)
		if err != nil {
			log.Warn("scheduler disabled", "err", err)
		} else {
			go sched.Run(ctx)
		}
	}

	return rt, nil
}

// startAPI binds the HTTP control API and records the port for discovery.
func (rt *appRuntime) startAPI(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("bind %s:%d: %w", host, port, err)
	}

	srv := remote.NewServer(rt.eng, ensureAuthToken(), rt.log)
	rt.httpSrv = &http.Server{Handler: srv.Router()}
	go func() {
		if err := rt.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			rt.log.Error("api server", "err", err)
		}
	}()

	rt.apiPort = port
	saveActivePort(port)
	rt.log.Info("api listening", "host", host, "port", port)
	return nil
}

// stop shuts the runtime down in dependency order: API first so no new
// work arrives, then the engine loop, then the stores.
func (rt *appRuntime) stop() {
	if rt.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		rt.httpSrv.Shutdown(shutdownCtx)
		cancel()
		removeActivePort()
	}

	rt.cancel()
	<-rt.engDone

	if err := rt.hist.Close(); err != nil {
		rt.log.Warn("history close", "err", err)
	}
}

// superviseSentry starts and stops the clipboard watcher as sentry mode
// flips. The watcher itself only polls; whether it runs is engine status.
func superviseSentry(ctx context.Context, eng *engine.Engine, hist *history.Store, settings *config.Settings, log *logger.Logger) {
	stream, unsubscribe := eng.Subscribe(16)
	defer unsubscribe()

	var watchCancel context.CancelFunc
	stopWatcher := func() {
		if watchCancel != nil {
			watchCancel()
			watchCancel = nil
		}
	}
	defer stopWatcher()

	startWatcher := func() {
		if watchCancel != nil {
			return
		}
		done, err := hist.TargetsInState(string(queue.StateSucceeded))
		if err != nil {
			log.Warn("sentry dedupe unavailable", "err", err)
			done = nil
		}
		w := sentry.New(eng, nil, sentry.Options{
			Interval: settings.Sentry.PollInterval,
			Format:   settings.General.DefaultFormat,
			Done:     done,
			Log:      log,
		})
		var wctx context.Context
		wctx, watchCancel = context.WithCancel(ctx)
		go w.Run(wctx)
	}

	if eng.SentryOn() {
		startWatcher()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			st, isStatus := msg.(events.StatusMsg)
			if !isStatus {
				continue
			}
			if st.Sentry {
				startWatcher()
			} else {
				stopWatcher()
			}
		}
	}
}

// enqueueStartupTargets queues links given on the command line or in a
// batch file. Rejections are logged but do not stop the rest.
func enqueueStartupTargets(eng *engine.Engine, log *logger.Logger, args []string, batchFile, format string) {
	targets := append([]string(nil), args...)
	if batchFile != "" {
		fromFile, err := readTargetsFromFile(batchFile)
		if err != nil {
			log.Error("batch file not read", "file", batchFile, "err", err)
		} else {
			targets = append(targets, fromFile...)
		}
	}

	for _, target := range targets {
		if _, err := eng.Enqueue(target, format, queue.SourceManual); err != nil {
			log.Warn("startup target rejected", "target", target, "err", err)
		}
	}
}

func pickPort(flagPort, settingsPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	return settingsPort
}
