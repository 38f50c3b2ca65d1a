package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spindle-dl/spindle/internal/logger"
)

const snapshotVersion = 1

// Snapshot is the on-disk queue state. One is written after every mutation
// so a crash at any point loses at most the last change.
type Snapshot struct {
	Version          int       `json:"version"`
	SavedAt          time.Time `json:"saved_at"`
	Paused           bool      `json:"paused"`
	StopAfterCurrent bool      `json:"stop_after_current"`
	Jobs             []Job     `json:"jobs"`
}

// PersistenceError reports a failed snapshot read or write. Callers treat it
// as degraded operation, never as a reason to drop the in-memory queue.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SnapshotStore reads and writes the queue snapshot file.
type SnapshotStore struct {
	path string
	log  *logger.Logger
}

func NewSnapshotStore(path string, log *logger.Logger) *SnapshotStore {
	if log == nil {
		log = logger.Discard()
	}
	return &SnapshotStore{path: path, log: log.WithComponent("snapshot")}
}

func (s *SnapshotStore) Path() string { return s.path }

// Save writes the snapshot atomically: temp file in the same directory,
// then rename over the old one.
func (s *SnapshotStore) Save(snap Snapshot) error {
	snap.Version = snapshotVersion
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Load reads the snapshot from disk. A missing file is a normal first run
// and yields an empty snapshot. An unreadable or corrupt file is moved
// aside so the next Save cannot overwrite the evidence, and an error is
// returned alongside the empty snapshot.
func (s *SnapshotStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Version: snapshotVersion}, nil
		}
		return Snapshot{Version: snapshotVersion}, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.quarantine()
		return Snapshot{Version: snapshotVersion}, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return snap, nil
}

// quarantine renames a corrupt snapshot to <path>.corrupt, best effort.
func (s *SnapshotStore) quarantine() {
	dst := s.path + ".corrupt"
	if err := os.Rename(s.path, dst); err != nil {
		s.log.Warn("could not move corrupt snapshot aside", "error", err)
		return
	}
	s.log.Warn("corrupt snapshot moved aside", "path", dst)
}
