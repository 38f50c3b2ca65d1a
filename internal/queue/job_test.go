package queue

import (
	"testing"
	"time"

	"github.com/spindle-dl/spindle/internal/links"
)

func TestNewJob(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantErr  bool
		wantKind links.Kind
	}{
		{"track URL", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", false, links.KindTrack},
		{"album URI", "spotify:album:6J84szYCnMfzEcvIcfWMFL", false, links.KindAlbum},
		{"playlist URL with query", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123", false, links.KindPlaylist},
		{"artist URL", "https://open.spotify.com/artist/0OdUWJ0sBjDrqHygGUXeCF", true, ""},
		{"plain text", "not a link", true, ""},
		{"empty", "", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := NewJob(tt.target, FormatFLAC, SourceManual)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewJob(%q) succeeded, want error", tt.target)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewJob(%q) failed: %v", tt.target, err)
			}
			if job.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", job.Kind, tt.wantKind)
			}
			if job.ID == "" {
				t.Error("ID not assigned")
			}
			if job.State != StateQueued {
				t.Errorf("State = %s, want %s", job.State, StateQueued)
			}
			if job.Percent != -1 {
				t.Errorf("Percent = %d, want -1 (unknown)", job.Percent)
			}
			if job.EnqueuedAt.IsZero() {
				t.Error("EnqueuedAt not stamped")
			}
		})
	}
}

func TestNewJobDefaultsSource(t *testing.T) {
	job, err := NewJob("spotify:track:abc123DEF", FormatMP3, "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.Source != SourceManual {
		t.Errorf("Source = %s, want %s", job.Source, SourceManual)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatFLAC, false},
		{"flac", FormatFLAC, false},
		{"mp3", FormatMP3, false},
		{"m4a", FormatM4A, false},
		{"opus", FormatOpus, false},
		{"wav", "", true},
		{"FLAC", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{"", StateQueued, true},
		{"", StateRunning, false},
		{StateQueued, StateRunning, true},
		{StateQueued, StatePaused, true},
		{StateQueued, StateCancelled, true},
		{StateQueued, StateSucceeded, false},
		{StatePaused, StateQueued, true},
		{StatePaused, StateRunning, false},
		{StatePaused, StateCancelled, true},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StateQueued, true},
		{StateRunning, StatePaused, false},
		{StateFailed, StateQueued, true},
		{StateFailed, StateRunning, false},
		{StateSucceeded, StateQueued, false},
		{StateCancelled, StateQueued, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	job, err := NewJob("spotify:track:abc123DEF", FormatFLAC, SourceManual)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	if err := job.Transition(StateRunning); err != nil {
		t.Fatalf("to running: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("StartedAt not stamped on running")
	}
	if !job.FinishedAt.IsZero() {
		t.Error("FinishedAt should be cleared on running")
	}

	if err := job.Transition(StateSucceeded); err != nil {
		t.Fatalf("to succeeded: %v", err)
	}
	if job.FinishedAt.IsZero() {
		t.Error("FinishedAt not stamped on succeeded")
	}
	if job.Duration() < 0 {
		t.Errorf("Duration = %v, want >= 0", job.Duration())
	}

	// Terminal means terminal.
	if err := job.Transition(StateQueued); err == nil {
		t.Error("transition out of succeeded should fail")
	}
}

func TestTransitionBackToQueuedResetsDisplay(t *testing.T) {
	job, err := NewJob("spotify:album:abc123DEF", FormatFLAC, SourceManual)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if err := job.Transition(StateRunning); err != nil {
		t.Fatalf("to running: %v", err)
	}
	job.Percent = 60
	job.Track = "Some Track"

	if err := job.Transition(StateQueued); err != nil {
		t.Fatalf("back to queued: %v", err)
	}
	if job.Percent != -1 {
		t.Errorf("Percent = %d, want -1 after requeue", job.Percent)
	}
	if job.Track != "" {
		t.Errorf("Track = %q, want empty after requeue", job.Track)
	}
}

func TestDurationZeroUntilFinished(t *testing.T) {
	job := &Job{State: StateQueued, EnqueuedAt: time.Now()}
	if d := job.Duration(); d != 0 {
		t.Errorf("Duration = %v, want 0 for unstarted job", d)
	}
	job.StartedAt = time.Now()
	if d := job.Duration(); d != 0 {
		t.Errorf("Duration = %v, want 0 for unfinished job", d)
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateSucceeded, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	live := []State{StateQueued, StateRunning, StatePaused}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}
