// Package remote serves the HTTP control API: link submission, queue and
// job controls, import/export, history, and an SSE event stream. Every
// mutation goes through the same engine entry points the TUI uses.
package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vfaronov/httpheader"

	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/export"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
)

const (
	// maxBodyBytes bounds request bodies; a queue import is a few KB.
	maxBodyBytes = 4 << 20

	// heartbeatEvery keeps idle SSE connections alive through proxies.
	heartbeatEvery = 15 * time.Second

	defaultHistoryN = 50
)

// Engine is the surface the HTTP API drives. *engine.Engine implements it.
type Engine interface {
	Enqueue(target, format string, source queue.Source) (string, error)
	Snapshot() queue.Snapshot
	Status() events.StatusMsg
	Pause()
	Resume()
	SetStopAfterCurrent(v bool)
	SetSentry(on bool)
	PauseJob(id string) error
	ResumeJob(id string) error
	Cancel(id string) error
	Retry(id string) error
	RetryAllFailed() int
	Remove(id string) error
	Move(id string, index int) error
	ClearCompleted() int
	Subscribe(buffer int) (<-chan any, func())
	History() *history.Store
}

// Server is the HTTP API over one engine. An empty token disables auth.
type Server struct {
	eng   Engine
	token string
	log   *logger.Logger
}

func NewServer(eng Engine, token string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{eng: eng, token: token, log: log.WithComponent("remote")}
}

// Router builds the chi handler. /health stays open so clients can probe
// before authenticating; everything else requires the bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/links", s.handleLinks)
		r.Get("/status", s.handleStatus)
		r.Get("/queue", s.handleQueue)

		r.Post("/queue/pause", s.handleQueuePause)
		r.Post("/queue/resume", s.handleQueueResume)
		r.Post("/queue/stop-after-current", s.handleStopAfterCurrent)
		r.Post("/queue/retry-all", s.handleRetryAll)
		r.Post("/queue/clear-completed", s.handleClearCompleted)

		r.Post("/queue/{id}/pause", s.jobAction("paused", s.eng.PauseJob))
		r.Post("/queue/{id}/resume", s.jobAction("resumed", s.eng.ResumeJob))
		r.Post("/queue/{id}/cancel", s.jobAction("cancelled", s.eng.Cancel))
		r.Post("/queue/{id}/retry", s.jobAction("queued", s.eng.Retry))
		r.Post("/queue/{id}/move", s.handleMove)
		r.Delete("/queue/{id}", s.jobAction("removed", s.eng.Remove))

		r.Post("/sentry", s.handleSentry)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") && strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == s.token {
			next.ServeHTTP(w, r)
			return
		}
		// EventSource cannot set headers, so the stream may pass the
		// token in the query string instead.
		if r.URL.Query().Get("token") == s.token {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": "spindle"})
}

// linksRequest is the JSON body for POST /links. The form variant carries
// the same content in a "links" field, one target per line.
type linksRequest struct {
	Links  []string `json:"links"`
	Format string   `json:"format"`
}

type enqueueResponse struct {
	Added    []string         `json:"added"`
	Rejected []rejectedTarget `json:"rejected,omitempty"`
}

type rejectedTarget struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	var items []export.QueueItem

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req linksRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		for _, l := range req.Links {
			if l = strings.TrimSpace(l); l != "" {
				items = append(items, export.QueueItem{Target: l, Format: req.Format})
			}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		format := r.FormValue("format")
		for _, line := range strings.Split(r.FormValue("links"), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				items = append(items, export.QueueItem{Target: line, Format: format})
			}
		}
	}

	if len(items) == 0 {
		http.Error(w, "no links in request", http.StatusBadRequest)
		return
	}
	s.enqueueItems(w, items)
}

func (s *Server) enqueueItems(w http.ResponseWriter, items []export.QueueItem) {
	resp := enqueueResponse{Added: []string{}}
	for _, it := range items {
		id, err := s.eng.Enqueue(it.Target, it.Format, queue.SourceRemote)
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejectedTarget{Target: it.Target, Error: err.Error()})
			continue
		}
		resp.Added = append(resp.Added, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	s.eng.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	s.eng.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type onRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleStopAfterCurrent(w http.ResponseWriter, r *http.Request) {
	var req onRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.eng.SetStopAfterCurrent(req.On)
	writeJSON(w, http.StatusOK, map[string]bool{"stop_after_current": req.On})
}

func (s *Server) handleSentry(w http.ResponseWriter, r *http.Request) {
	var req onRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.eng.SetSentry(req.On)
	writeJSON(w, http.StatusOK, map[string]bool{"sentry": req.On})
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	n := s.eng.RetryAllFailed()
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n := s.eng.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// jobAction wraps a per-job engine call: 404 when the id is unknown,
// 409 when the job is in the wrong state for the action.
func (s *Server) jobAction(verb string, fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(id); err != nil {
			status := http.StatusConflict
			if !s.jobExists(id) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": verb, "id": id})
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.eng.Move(id, req.Index); err != nil {
		status := http.StatusConflict
		if !s.jobExists(id) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved", "id": id})
}

func (s *Server) jobExists(id string) bool {
	for _, j := range s.eng.Snapshot().Jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	items := export.Items(s.eng.Snapshot())

	accept := httpheader.Accept(r.Header)
	textQ := httpheader.MatchAccept(accept, "text/plain").Q
	jsonQ := httpheader.MatchAccept(accept, "application/json").Q

	// JSON is the default; text wins only when asked for explicitly.
	if textQ > jsonQ {
		httpheader.SetContentDisposition(w.Header(), "attachment", "spindle-queue.txt", nil)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(export.QueueText(items))
		return
	}

	data, err := export.QueueJSON(items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httpheader.SetContentDisposition(w.Header(), "attachment", "spindle-queue.json", nil)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := export.ParseQueue(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(items) == 0 {
		http.Error(w, "nothing to import", http.StatusBadRequest)
		return
	}
	s.enqueueItems(w, items)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryN
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	entries, err := s.eng.History().Recent(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams engine messages as SSE until the client leaves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ch, cancel := s.eng.Subscribe(0)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			name, ok := events.NameOf(msg)
			if !ok {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Warn("drop unencodable event", "event", name, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			fl.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
