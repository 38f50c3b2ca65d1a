package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind tags a ProgressEvent with its closed variant set. Anything the
// downloader emits that the engine does not understand degrades to KindLog
// instead of failing the job.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindRetry     Kind = "retry"
	KindRateLimit Kind = "rate-limit"
	KindLog       Kind = "log"
	KindDone      Kind = "done"
	KindError     Kind = "error"
)

// ProgressEvent is one observed update for a running job. Events are
// transient: delivered to subscribers in emission order, never persisted.
type ProgressEvent struct {
	JobID   string        `json:"job_id,omitempty"`
	Kind    Kind          `json:"kind"`
	Op      string        `json:"op,omitempty"`      // structured record name that produced this, "" for free text
	Percent int           `json:"percent"`           // 0-100, -1 when unknown
	Track   string        `json:"track,omitempty"`   // track title when the update names one
	Index   int           `json:"index,omitempty"`   // 1-based position within the job, when known
	Total   int           `json:"total,omitempty"`   // total tracks in the job, when known
	Message string        `json:"message,omitempty"` // human-readable detail, raw line for log events
	Reason  string        `json:"reason,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"` // suggested wait for rate-limit/retry notices
	At      time.Time     `json:"at"`
}

// QueueChangedMsg notifies observers that the queue snapshot changed.
// Consumers re-pull the snapshot; the revision lets them drop stale pulls.
type QueueChangedMsg struct {
	Revision uint64 `json:"revision"`
}

// HistoryChangedMsg notifies observers that a history entry was appended.
type HistoryChangedMsg struct {
	JobID string `json:"job_id"`
}

// StatusMsg carries the engine-wide status visible to all observers.
type StatusMsg struct {
	QueueSize   int    `json:"queue_size"`
	Running     int    `json:"running"`
	Paused      bool   `json:"paused"`
	Stopping    bool   `json:"stopping"` // stop-after-current armed
	Sentry      bool   `json:"sentry"`
	LastRun     string `json:"last_run,omitempty"`
	BinaryError string `json:"binary_error,omitempty"` // set when the downloader binary cannot be launched
}

// JobErrorMsg signals that a job reached a terminal failure.
type JobErrorMsg struct {
	JobID  string
	Target string
	Err    error
}

func (m JobErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		JobID  string `json:"job_id"`
		Target string `json:"target,omitempty"`
		Err    string `json:"err,omitempty"`
	}

	out := encoded{
		JobID:  m.JobID,
		Target: m.Target,
	}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *JobErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID  string          `json:"job_id"`
		Target string          `json:"target"`
		Err    json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.JobID = aux.JobID
	m.Target = aux.Target
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	// Most common case: the server sends err as a string.
	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	// Backward/forward compatibility: accept non-string payloads (e.g. {}).
	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}
