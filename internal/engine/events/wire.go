package events

import (
	"encoding/json"
	"fmt"
)

// SSE event names. The remote listener emits them and the remote client
// decodes them; either side skips names it does not know.
const (
	WireProgress = "progress"
	WireQueue    = "queue"
	WireHistory  = "history"
	WireStatus   = "status"
	WireJobError = "job-error"
)

// NameOf returns the wire name for an engine message, or false for
// types that do not travel over SSE.
func NameOf(msg any) (string, bool) {
	switch msg.(type) {
	case ProgressEvent:
		return WireProgress, true
	case QueueChangedMsg:
		return WireQueue, true
	case HistoryChangedMsg:
		return WireHistory, true
	case StatusMsg:
		return WireStatus, true
	case JobErrorMsg:
		return WireJobError, true
	}
	return "", false
}

// Decode turns a named SSE payload back into the message NameOf named.
func Decode(name string, data []byte) (any, error) {
	switch name {
	case WireProgress:
		var m ProgressEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case WireQueue:
		var m QueueChangedMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case WireHistory:
		var m HistoryChangedMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case WireStatus:
		var m StatusMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case WireJobError:
		var m JobErrorMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown event %q", name)
}
