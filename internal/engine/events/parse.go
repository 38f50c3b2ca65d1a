package events

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// wireEvent is the superset of fields the downloader emits in its
// machine-readable mode, one JSON object per line.
type wireEvent struct {
	Event   string  `json:"event"`
	Name    string  `json:"name"`
	Title   string  `json:"title"`
	Artist  string  `json:"artist"`
	Percent float64 `json:"percent"`
	Index   int     `json:"index"`
	Total   int     `json:"total"`
	Attempt int     `json:"attempt"`
	Message string  `json:"message"`
	Reason  string  `json:"reason"`
	WaitMS  int64   `json:"wait_ms"`
	DelayMS int64   `json:"delay_ms"`
}

// percentPattern pulls a bare 1-3 digit percentage out of free-form text.
// The digit guards keep "disk 85%full" matching but "10%5" and "v2%20" not.
var percentPattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,3})%(?:[^0-9]|$)`)

// rateLimitTokens are the substrings that mark a line as a rate-limit
// signal regardless of its shape.
var rateLimitTokens = []string{"429", "rate limit", "too many requests", "slow down"}

// RateLimited reports whether the text carries a rate-limit signal.
func RateLimited(s string) bool {
	low := strings.ToLower(s)
	for _, tok := range rateLimitTokens {
		if strings.Contains(low, tok) {
			return true
		}
	}
	return false
}

// Parse turns one line of downloader output into a ProgressEvent. Structured
// decoding is attempted first; anything that fails to decode, or decodes to
// an unrecognized record, degrades to a log event. Parse never fails.
func Parse(line string) ProgressEvent {
	ev := ProgressEvent{
		Kind:    KindLog,
		Percent: -1,
		At:      time.Now(),
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ev
	}
	ev.Message = trimmed

	if strings.HasPrefix(trimmed, "{") {
		var w wireEvent
		if err := json.Unmarshal([]byte(trimmed), &w); err == nil && w.Event != "" {
			return fromWire(ev, w, trimmed)
		}
		// Malformed or untagged JSON stays visible as a log line.
		return ev
	}

	return fromText(ev, trimmed)
}

// ParseAnomaly records a line that looked like a structured event but could
// not be interpreted as one. Anomalies never fail a job; the runner counts
// them and reports the total in the run summary.
type ParseAnomaly struct {
	Line string
	Err  error // decode error, nil when the JSON decoded but carried no event tag
}

func (e *ParseAnomaly) Error() string {
	if e.Err != nil {
		return "unparseable event line: " + e.Err.Error()
	}
	return "event line without an event tag"
}

func (e *ParseAnomaly) Unwrap() error { return e.Err }

// Anomaly reports whether the line was JSON-shaped but failed to decode
// into a tagged event. Parse has already degraded such lines to KindLog;
// this exists for callers that keep anomaly counts.
func Anomaly(line string) *ParseAnomaly {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return &ParseAnomaly{Line: trimmed, Err: err}
	}
	if w.Event == "" {
		return &ParseAnomaly{Line: trimmed}
	}
	return nil
}

func fromWire(ev ProgressEvent, w wireEvent, raw string) ProgressEvent {
	ev.Op = w.Event
	ev.Message = w.Message

	switch w.Event {
	case "stage":
		ev.Kind = KindProgress
		ev.Message = w.Name
		ev.Index = w.Index
		ev.Total = w.Total

	case "stage_update", "progress":
		ev.Kind = KindProgress
		ev.Percent = clampPercent(int(w.Percent))

	case "track_start":
		ev.Kind = KindProgress
		ev.Track = trackLabel(w)
		ev.Index = w.Index
		ev.Total = w.Total
		ev.Message = "downloading " + ev.Track

	case "track_complete":
		ev.Kind = KindProgress
		ev.Track = trackLabel(w)
		ev.Index = w.Index
		ev.Total = w.Total
		ev.Percent = 100
		ev.Message = "finished " + ev.Track

	case "track_skipped":
		ev.Kind = KindProgress
		ev.Track = trackLabel(w)
		ev.Reason = w.Reason
		ev.Message = "skipped " + ev.Track

	case "track_failed":
		// A single failed track does not fail the job; the terminal
		// outcome comes from the process exit.
		ev.Kind = KindLog
		ev.Track = trackLabel(w)
		ev.Reason = w.Reason
		ev.Message = "track failed: " + ev.Track
		if w.Reason != "" {
			ev.Message += " (" + w.Reason + ")"
		}

	case "rate_limit_wait":
		ev.Kind = KindRateLimit
		ev.Delay = time.Duration(w.WaitMS) * time.Millisecond

	case "rate_limit_backoff":
		ev.Kind = KindRateLimit
		ev.Delay = time.Duration(w.DelayMS) * time.Millisecond
		ev.Reason = w.Reason

	case "retry":
		ev.Kind = KindRetry
		ev.Index = w.Attempt
		ev.Delay = time.Duration(w.DelayMS) * time.Millisecond
		ev.Reason = w.Reason

	case "done":
		ev.Kind = KindDone

	case "error":
		ev.Kind = KindError
		ev.Reason = w.Reason

	default:
		// Forward compatibility: unknown records stay log events with
		// the op preserved and the raw line visible.
		ev.Kind = KindLog
		if ev.Message == "" {
			ev.Message = raw
		}
	}

	return ev
}

func fromText(ev ProgressEvent, line string) ProgressEvent {
	if RateLimited(line) || strings.Contains(strings.ToLower(line), "[rate-limit") {
		ev.Kind = KindRateLimit
		return ev
	}

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		ev.Kind = KindProgress
		ev.Percent = clampPercent(atoiSafe(m[1]))
	}

	return ev
}

func trackLabel(w wireEvent) string {
	if w.Title == "" {
		return w.Name
	}
	if w.Artist != "" {
		return w.Artist + " - " + w.Title
	}
	return w.Title
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
