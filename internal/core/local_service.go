package core

import (
	"context"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

// LocalService runs against an embedded engine in the same process.
type LocalService struct {
	eng *engine.Engine
}

func NewLocalService(eng *engine.Engine) *LocalService {
	return &LocalService{eng: eng}
}

func (s *LocalService) Enqueue(target, format string) (string, error) {
	return s.eng.Enqueue(target, format, queue.SourceManual)
}

func (s *LocalService) Snapshot() (queue.Snapshot, error) {
	return s.eng.Snapshot(), nil
}

func (s *LocalService) Status() (events.StatusMsg, error) {
	return s.eng.Status(), nil
}

func (s *LocalService) History(n int) ([]history.Entry, error) {
	return s.eng.History().Recent(n)
}

func (s *LocalService) Pause() error {
	s.eng.Pause()
	return nil
}

func (s *LocalService) Resume() error {
	s.eng.Resume()
	return nil
}

func (s *LocalService) SetStopAfterCurrent(on bool) error {
	s.eng.SetStopAfterCurrent(on)
	return nil
}

func (s *LocalService) SetSentry(on bool) error {
	s.eng.SetSentry(on)
	return nil
}

func (s *LocalService) PauseJob(id string) error  { return s.eng.PauseJob(id) }
func (s *LocalService) ResumeJob(id string) error { return s.eng.ResumeJob(id) }
func (s *LocalService) CancelJob(id string) error { return s.eng.Cancel(id) }
func (s *LocalService) RetryJob(id string) error  { return s.eng.Retry(id) }
func (s *LocalService) RemoveJob(id string) error { return s.eng.Remove(id) }

func (s *LocalService) MoveJob(id string, index int) error {
	return s.eng.Move(id, index)
}

func (s *LocalService) RetryAllFailed() (int, error) {
	return s.eng.RetryAllFailed(), nil
}

func (s *LocalService) ClearCompleted() (int, error) {
	return s.eng.ClearCompleted(), nil
}

func (s *LocalService) UpdateSettings(cfg *config.Settings) error {
	return s.eng.UpdateSettings(cfg)
}

func (s *LocalService) Events(ctx context.Context) (<-chan any, func(), error) {
	ch, cancel := s.eng.Subscribe(0)
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

func (s *LocalService) Close() error { return nil }
