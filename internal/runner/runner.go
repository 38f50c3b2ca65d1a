// Package runner drives one downloader process per job: it builds the
// argv, streams both output pipes through the event parser, enforces the
// wall-clock cap, and maps the exit into the engine's error taxonomy.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/utils"
)

const (
	// tailLimit bounds the trailing raw output kept for classification.
	tailLimit = 8 * 1024

	// defaultGrace is the SIGTERM-to-SIGKILL gap on cancel and timeout.
	defaultGrace = 1500 * time.Millisecond
)

// Options configure one downloader invocation.
type Options struct {
	Binary      string // resolved executable path
	Destination string // download directory, created if missing
	Format      string // output audio format
	Parallel    int    // per-job track parallelism
	Force       bool   // re-download files that already exist
	ExtraArgs   string // user-supplied arguments, shell-style quoting

	// Failure pacing forwarded to the downloader itself.
	FailureDelayMs         int
	FailureDelayMultiplier float64
	FailureDelayMaxMs      int

	Timeout   time.Duration // wall-clock cap for the whole run, 0 disables
	Grace     time.Duration // SIGTERM to SIGKILL gap, defaultGrace when 0
	RunLogDir string        // per-run log directory, "" disables
}

func (o Options) grace() time.Duration {
	if o.Grace > 0 {
		return o.Grace
	}
	return defaultGrace
}

// Outcome is everything the engine needs from a finished run.
type Outcome struct {
	Start       time.Time
	End         time.Time
	ExitCode    int // -1 when the process died on a signal or never ran
	Cancelled   bool
	TimedOut    bool
	RateLimited bool // a rate-limit signal appeared anywhere in the output
	TracksDone  int  // completed track count reported by the downloader
	Anomalies   int  // JSON-shaped lines that failed to decode
	Tail        string
	LogPath     string
	Err         error // nil on success and on cancel
}

// Duration is the wall-clock time the run took.
func (o Outcome) Duration() time.Duration { return o.End.Sub(o.Start) }

// Runner launches downloader processes. Safe for concurrent use; each Run
// call owns its process.
type Runner struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{log: log.WithComponent("runner")}
}

// BuildArgs assembles the downloader argv for one target. Exported so the
// doctor command can print the exact invocation.
func BuildArgs(target string, opts Options) ([]string, error) {
	var args []string
	if opts.Destination != "" {
		args = append(args, "--destination", opts.Destination)
	}
	if opts.Format != "" {
		args = append(args, "--format", opts.Format)
	}
	if opts.Parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(opts.Parallel))
	}
	if opts.Force {
		args = append(args, "--force")
	}
	if opts.ExtraArgs != "" {
		extra, err := utils.SplitArgs(opts.ExtraArgs)
		if err != nil {
			return nil, err
		}
		args = append(args, extra...)
	}
	args = append(args, "--json-events")
	if opts.FailureDelayMs > 0 {
		args = append(args,
			"--failure-delay-ms", strconv.Itoa(opts.FailureDelayMs),
			"--failure-delay-multiplier", strconv.FormatFloat(opts.FailureDelayMultiplier, 'f', -1, 64),
			"--failure-delay-max-ms", strconv.Itoa(opts.FailureDelayMaxMs),
		)
	}
	args = append(args, target)
	return args, nil
}

// Run executes the downloader for one job and blocks until it exits.
// Output lines from both pipes are parsed into events and handed to emit
// in arrival order. Cancelling ctx stops the run gracefully: SIGTERM, a
// grace period, then SIGKILL.
func (r *Runner) Run(ctx context.Context, jobID, target string, opts Options, emit func(events.ProgressEvent)) Outcome {
	out := Outcome{Start: time.Now(), ExitCode: -1}
	log := r.log.WithJob(jobID)

	finish := func(err error) Outcome {
		out.End = time.Now()
		out.Err = err
		return out
	}

	args, err := BuildArgs(target, opts)
	if err != nil {
		return finish(&PermanentError{Reason: "bad extra arguments", Err: err})
	}

	if opts.Destination != "" {
		if err := os.MkdirAll(opts.Destination, 0o755); err != nil {
			return finish(&LaunchError{Err: fmt.Errorf("create destination: %w", err)})
		}
	}

	var rl *runLog
	if opts.RunLogDir != "" {
		rl, err = openRunLog(opts.RunLogDir, jobID, target, append([]string{opts.Binary}, args...))
		if err != nil {
			log.Warn("run log unavailable", "error", err)
			rl = nil
		} else {
			out.LogPath = rl.Path()
		}
	}

	cmd := exec.Command(opts.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return finish(&LaunchError{Err: err})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return finish(&LaunchError{Err: err})
	}

	if err := cmd.Start(); err != nil {
		if rl != nil {
			rl.Finish(runSummary{JobID: jobID, Target: target, ExitCode: -1, Outcome: "failed", Error: err.Error()})
		}
		return finish(&LaunchError{Tried: []string{opts.Binary}, Err: err})
	}
	log.Debug("downloader started", "pid", cmd.Process.Pid, "target", target)

	// One mutex serializes both pipe readers, so emit sees events in
	// arrival order and the counters stay consistent.
	var (
		mu   sync.Mutex
		tail []byte
	)
	sink := func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()

		ev := events.Parse(line)
		ev.JobID = jobID
		if an := events.Anomaly(line); an != nil {
			out.Anomalies++
			log.Debug("event line anomaly", "error", an)
		}
		if ev.Kind == events.KindRateLimit || events.RateLimited(line) {
			out.RateLimited = true
		}
		if ev.Op == "track_complete" {
			out.TracksDone++
		}
		tail = appendTail(tail, line)
		if rl != nil {
			rl.Line(stream, line)
		}
		if emit != nil {
			emit(ev)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(stdout, "stdout", sink, &wg)
	go scanLines(stderr, "stderr", sink, &wg)

	// Readers must drain before Wait releases the pipes.
	exited := make(chan error, 1)
	go func() {
		wg.Wait()
		exited <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var werr error
	select {
	case werr = <-exited:
	case <-ctx.Done():
		out.Cancelled = true
		log.Info("cancelling run", "target", target)
		werr = r.stop(cmd, opts.grace(), exited)
	case <-timeout:
		out.TimedOut = true
		log.Warn("run exceeded timeout", "target", target, "timeout", opts.Timeout)
		werr = r.stop(cmd, opts.grace(), exited)
	}

	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	out.Tail = string(tail)

	switch {
	case out.Cancelled:
		// Not a failure: the engine marks the job cancelled.
	case out.TimedOut:
		out.Err = &TransientError{Reason: fmt.Sprintf("no result within %s", opts.Timeout)}
	case werr == nil:
		// Exit 0: success.
	default:
		out.Err = Classify(out.Tail, out.RateLimited, out.ExitCode)
	}
	out.End = time.Now()

	if rl != nil {
		s := runSummary{
			JobID:       jobID,
			Target:      target,
			ExitCode:    out.ExitCode,
			Outcome:     outcomeLabel(out),
			Cancelled:   out.Cancelled,
			TimedOut:    out.TimedOut,
			RateLimited: out.RateLimited,
			TracksDone:  out.TracksDone,
			Anomalies:   out.Anomalies,
			DurationSec: out.Duration().Seconds(),
		}
		if out.Err != nil {
			s.Error = out.Err.Error()
		}
		if err := rl.Finish(s); err != nil {
			log.Warn("run log incomplete", "path", rl.Path(), "error", err)
		}
	}

	log.Info("downloader finished",
		"target", target,
		"outcome", outcomeLabel(out),
		"exit_code", out.ExitCode,
		"tracks", out.TracksDone,
		"duration", out.Duration().Round(time.Millisecond))
	return out
}

// stop asks the process to exit and escalates to SIGKILL when it does not
// comply within the grace period. Returns the wait error.
func (r *Runner) stop(cmd *exec.Cmd, grace time.Duration, exited <-chan error) error {
	if cmd.Process == nil {
		return <-exited
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return <-exited
	}
	select {
	case err := <-exited:
		return err
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		return <-exited
	}
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Cancelled:
		return "cancelled"
	case o.TimedOut:
		return "timeout"
	case o.Err == nil:
		return "succeeded"
	default:
		return "failed"
	}
}

// scanLines reads one pipe line by line. Carriage returns count as line
// breaks so progress bars that redraw in place still come through.
func scanLines(rc io.Reader, stream string, sink func(stream, line string), wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(splitByNewlineOrCR)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		sink(stream, line)
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendTail keeps the trailing tailLimit bytes of output. The end of the
// stream is where the downloader explains what went wrong.
func appendTail(buf []byte, line string) []byte {
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if over := len(buf) - tailLimit; over > 0 {
		buf = buf[over:]
	}
	return buf
}
