package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

// RemoteService drives a daemon over its HTTP API. The SSE stream
// reconnects with exponential backoff, so a daemon restart costs
// observers a gap, not the session.
type RemoteService struct {
	baseURL string
	token   string
	client  *http.Client
	sse     *http.Client // no timeout: the stream is long-lived
	ctx     context.Context
	cancel  context.CancelFunc

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewRemoteService(baseURL, token string) *RemoteService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteService{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		client:         &http.Client{Timeout: 30 * time.Second},
		sse:            &http.Client{},
		ctx:            ctx,
		cancel:         cancel,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

func (s *RemoteService) doRequest(method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// getJSON issues a GET and decodes the response into out.
func (s *RemoteService) getJSON(path string, out any) error {
	resp, err := s.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// post issues a POST and discards any response body.
func (s *RemoteService) post(path string, body any) error {
	resp, err := s.doRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Ping probes the daemon's open health endpoint.
func (s *RemoteService) Ping() error {
	resp, err := s.doRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

type enqueueResult struct {
	Added    []string `json:"added"`
	Rejected []struct {
		Target string `json:"target"`
		Error  string `json:"error"`
	} `json:"rejected"`
}

func (s *RemoteService) Enqueue(target, format string) (string, error) {
	body := map[string]any{
		"links":  []string{target},
		"format": format,
	}
	resp, err := s.doRequest(http.MethodPost, "/links", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result enqueueResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Rejected) > 0 {
		return "", fmt.Errorf("target rejected: %s", result.Rejected[0].Error)
	}
	if len(result.Added) == 0 {
		return "", fmt.Errorf("daemon accepted nothing")
	}
	return result.Added[0], nil
}

func (s *RemoteService) Snapshot() (queue.Snapshot, error) {
	var snap queue.Snapshot
	err := s.getJSON("/queue", &snap)
	return snap, err
}

func (s *RemoteService) Status() (events.StatusMsg, error) {
	var status events.StatusMsg
	err := s.getJSON("/status", &status)
	return status, err
}

func (s *RemoteService) History(n int) ([]history.Entry, error) {
	var entries []history.Entry
	err := s.getJSON(fmt.Sprintf("/history?n=%d", n), &entries)
	return entries, err
}

func (s *RemoteService) Pause() error {
	return s.post("/queue/pause", nil)
}

func (s *RemoteService) Resume() error {
	return s.post("/queue/resume", nil)
}

func (s *RemoteService) SetStopAfterCurrent(on bool) error {
	return s.post("/queue/stop-after-current", map[string]bool{"on": on})
}

func (s *RemoteService) SetSentry(on bool) error {
	return s.post("/sentry", map[string]bool{"on": on})
}

func (s *RemoteService) PauseJob(id string) error {
	return s.post("/queue/"+url.PathEscape(id)+"/pause", nil)
}

func (s *RemoteService) ResumeJob(id string) error {
	return s.post("/queue/"+url.PathEscape(id)+"/resume", nil)
}

func (s *RemoteService) CancelJob(id string) error {
	return s.post("/queue/"+url.PathEscape(id)+"/cancel", nil)
}

func (s *RemoteService) RetryJob(id string) error {
	return s.post("/queue/"+url.PathEscape(id)+"/retry", nil)
}

func (s *RemoteService) RemoveJob(id string) error {
	resp, err := s.doRequest(http.MethodDelete, "/queue/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (s *RemoteService) MoveJob(id string, index int) error {
	return s.post("/queue/"+url.PathEscape(id)+"/move", map[string]int{"index": index})
}

func (s *RemoteService) RetryAllFailed() (int, error) {
	resp, err := s.doRequest(http.MethodPost, "/queue/retry-all", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out["requeued"], nil
}

func (s *RemoteService) ClearCompleted() (int, error) {
	resp, err := s.doRequest(http.MethodPost, "/queue/clear-completed", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out["removed"], nil
}

// UpdateSettings always fails: settings live on the machine that runs
// the engine and are edited there.
func (s *RemoteService) UpdateSettings(cfg *config.Settings) error {
	return ErrRemoteSettings
}

func (s *RemoteService) Events(ctx context.Context) (<-chan any, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	// Closing the service must also end any open stream.
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	ch := make(chan any, 100)
	go s.streamWithReconnect(ctx, ch)
	return ch, cancel, nil
}

func (s *RemoteService) Close() error {
	s.cancel()
	return nil
}

func (s *RemoteService) streamWithReconnect(ctx context.Context, ch chan any) {
	defer close(ch)
	backoff := s.initialBackoff
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, ch)
		if err == nil {
			// The context ended inside the stream read.
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < s.maxBackoff {
			backoff *= 2
		}
	}
}

// connectSSE reads one stream connection until it breaks. A nil return
// means the context ended and the caller should stop reconnecting.
func (s *RemoteService) connectSSE(ctx context.Context, ch chan any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.sse.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream refused: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		name := ""
		var dataLines []string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			line = strings.TrimRight(line, "\r\n")

			// A blank line dispatches the pending event.
			if line == "" {
				break
			}
			// Comment lines carry the server heartbeat.
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}

		if name == "" || len(dataLines) == 0 {
			continue
		}

		msg, err := events.Decode(name, []byte(strings.Join(dataLines, "\n")))
		if err != nil {
			// Unknown or malformed events are skipped, not fatal.
			continue
		}

		select {
		case ch <- msg:
		default:
			// Drop rather than stall the reader.
		}
	}
}
