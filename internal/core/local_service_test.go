package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

// newLocalService builds a LocalService over a real engine. The engine
// loop is not running, which is fine for queue edits and subscriptions.
func newLocalService(t *testing.T) *LocalService {
	t.Helper()

	dir := t.TempDir()
	q := queue.New(queue.NewSnapshotStore(filepath.Join(dir, "queue.json"), nil), nil)
	require.NoError(t, q.Load())

	hist, err := history.Open(filepath.Join(dir, "history.db"), 50, nil)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	cfg := config.DefaultSettings()
	cfg.General.DownloadDir = dir
	return NewLocalService(engine.New(q, hist, cfg, nil))
}

func TestLocalEnqueueAndSnapshot(t *testing.T) {
	svc := newLocalService(t)

	id, err := svc.Enqueue("https://open.spotify.com/album/LocalOne", "mp3")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = svc.Enqueue("https://open.spotify.com/track/LocalTwo", "")
	require.NoError(t, err)

	snap, err := svc.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, id, snap.Jobs[0].ID)
	assert.Equal(t, queue.FormatMP3, snap.Jobs[0].Format)
	assert.Equal(t, queue.SourceManual, snap.Jobs[0].Source)
	assert.Equal(t, queue.FormatFLAC, snap.Jobs[1].Format)
}

func TestLocalStatusReflectsControls(t *testing.T) {
	svc := newLocalService(t)

	require.NoError(t, svc.Pause())
	require.NoError(t, svc.SetStopAfterCurrent(true))
	require.NoError(t, svc.SetSentry(true))

	st, err := svc.Status()
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.True(t, st.Stopping)
	assert.True(t, st.Sentry)

	require.NoError(t, svc.Resume())
	st, err = svc.Status()
	require.NoError(t, err)
	assert.False(t, st.Paused)
}

func TestLocalJobControls(t *testing.T) {
	svc := newLocalService(t)

	id, err := svc.Enqueue("https://open.spotify.com/album/LocalCtl", "")
	require.NoError(t, err)

	require.NoError(t, svc.PauseJob(id))
	require.NoError(t, svc.ResumeJob(id))
	require.NoError(t, svc.CancelJob(id))
	require.NoError(t, svc.RemoveJob(id))

	assert.Error(t, svc.CancelJob("no-such-job"))

	snap, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Jobs)
}

func TestLocalHistoryStartsEmpty(t *testing.T) {
	svc := newLocalService(t)

	entries, err := svc.History(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalEventsObserveQueueChanges(t *testing.T) {
	svc := newLocalService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := svc.Events(ctx)
	require.NoError(t, err)
	defer stop()

	_, err = svc.Enqueue("https://open.spotify.com/album/LocalEvents", "")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		_, ok := msg.(events.QueueChangedMsg)
		assert.True(t, ok, "expected a queue change, got %T", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after enqueue")
	}
}
