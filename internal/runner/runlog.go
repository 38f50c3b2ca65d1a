package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// summaryMarker separates the raw output from the appendix so log readers
// can split the file without guessing.
const summaryMarker = "=== Summary (JSON) ==="

// runSummary is the machine-readable appendix of a run log.
type runSummary struct {
	JobID       string  `json:"job_id"`
	Target      string  `json:"target"`
	ExitCode    int     `json:"exit_code"`
	Outcome     string  `json:"outcome"`
	Error       string  `json:"error,omitempty"`
	Cancelled   bool    `json:"cancelled,omitempty"`
	TimedOut    bool    `json:"timed_out,omitempty"`
	RateLimited bool    `json:"rate_limited,omitempty"`
	TracksDone  int     `json:"tracks_done"`
	Anomalies   int     `json:"anomalies,omitempty"`
	DurationSec float64 `json:"duration_sec"`
}

// runLog captures one downloader run to a file: a short header, the raw
// process output, and a summary appendix.
type runLog struct {
	f    *os.File
	w    *bufio.Writer
	path string
}

// openRunLog creates the log file under dir, avoiding collisions when two
// runs start in the same second.
func openRunLog(dir, jobID, target string, argv []string) (*runLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	ts := time.Now().Format("20060102_150405")
	var f *os.File
	var path string
	for i := 0; ; i++ {
		name := fmt.Sprintf("run_%s_job%s.log", ts, shortJobID(jobID))
		if i > 0 {
			name = fmt.Sprintf("run_%s_job%s_%d.log", ts, shortJobID(jobID), i)
		}
		path = filepath.Join(dir, name)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || i >= 9 {
			return nil, err
		}
	}

	rl := &runLog{f: f, w: bufio.NewWriter(f), path: path}
	fmt.Fprintf(rl.w, "=== spindle run ===\n")
	fmt.Fprintf(rl.w, "time:    %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(rl.w, "job:     %s\n", jobID)
	fmt.Fprintf(rl.w, "target:  %s\n", target)
	fmt.Fprintf(rl.w, "command: %s\n", strings.Join(argv, " "))
	fmt.Fprintf(rl.w, "===\n")
	return rl, nil
}

func (rl *runLog) Path() string { return rl.path }

// Line appends one raw output line. Stderr lines are tagged so the two
// streams stay distinguishable after the fact.
func (rl *runLog) Line(stream, line string) {
	if stream == "stderr" {
		rl.w.WriteString("[stderr] ")
	}
	rl.w.WriteString(line)
	rl.w.WriteByte('\n')
}

// Finish writes the summary appendix and closes the file.
func (rl *runLog) Finish(s runSummary) error {
	rl.w.WriteString("\n" + summaryMarker + "\n")
	enc, err := json.MarshalIndent(s, "", "  ")
	if err == nil {
		rl.w.Write(enc)
		rl.w.WriteByte('\n')
	}
	if ferr := rl.w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if cerr := rl.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
