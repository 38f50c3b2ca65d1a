package runner

import (
	"fmt"
	"strings"

	"github.com/spindle-dl/spindle/internal/engine/events"
)

// TransientError marks a run failure that retrying can plausibly fix:
// network trouble, timeouts, rate limiting. The engine retries these up
// to the configured attempt cap.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient failure: %s: %v", e.Reason, e.Err)
	}
	return "transient failure: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a run failure that retrying cannot fix: an invalid
// target, missing authentication, unsupported content.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent failure: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// LaunchError means the downloader binary could not be located or started.
// Tried lists every location that was checked, in order.
type LaunchError struct {
	Tried []string
	Err   error
}

func (e *LaunchError) Error() string {
	msg := "cannot launch downloader"
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

// permanentHints are output fragments that identify failures no retry will
// fix. Checked before transientHints: when a run shows both an auth problem
// and a timeout, retrying does not help.
var permanentHints = []string{
	"not found",
	"does not exist",
	"invalid url",
	"invalid target",
	"unsupported",
	"login",
	"credentials",
	"unauthorized",
	"forbidden",
	"premium required",
	"bad request",
}

// transientHints are output fragments typical of recoverable trouble.
var transientHints = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

// Classify maps a failed run to the error taxonomy using the trailing
// output. Rate limiting always wins, then permanent hints, then transient
// ones. Anything unrecognized counts as transient: a wasted retry is
// cheaper than dropping a recoverable job.
func Classify(tail string, rateLimited bool, exitCode int) error {
	low := strings.ToLower(tail)

	if rateLimited || events.RateLimited(low) {
		return &TransientError{Reason: "rate limited"}
	}
	for _, h := range permanentHints {
		if strings.Contains(low, h) {
			return &PermanentError{Reason: h}
		}
	}
	for _, h := range transientHints {
		if strings.Contains(low, h) {
			return &TransientError{Reason: h}
		}
	}
	return &TransientError{Reason: fmt.Sprintf("exit status %d", exitCode)}
}
