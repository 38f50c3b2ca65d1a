package export

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

func sampleItems() []QueueItem {
	return []QueueItem{
		{Target: "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy", Format: "flac"},
		{Target: "https://open.spotify.com/track/3n3Ppam7vgaVa1iaRUc9Lp", Format: "mp3"},
		{Target: "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", Format: "flac"},
	}
}

func TestItemsPreservesQueueOrder(t *testing.T) {
	snap := queue.Snapshot{Jobs: []queue.Job{
		{Target: "a", Format: queue.FormatFLAC},
		{Target: "b", Format: queue.FormatMP3},
	}}
	got := Items(snap)
	want := []QueueItem{{Target: "a", Format: "flac"}, {Target: "b", Format: "mp3"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Items = %v, want %v", got, want)
	}
}

func TestQueueJSONRoundTrip(t *testing.T) {
	items := sampleItems()
	data, err := QueueJSON(items)
	if err != nil {
		t.Fatalf("QueueJSON: %v", err)
	}
	back, err := ParseQueue(data)
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	if !reflect.DeepEqual(back, items) {
		t.Errorf("round trip changed items:\n got %v\nwant %v", back, items)
	}
}

func TestQueueTextRoundTripKeepsTargets(t *testing.T) {
	items := sampleItems()
	back, err := ParseQueue(QueueText(items))
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	if len(back) != len(items) {
		t.Fatalf("got %d items, want %d", len(back), len(items))
	}
	for i := range back {
		if back[i].Target != items[i].Target {
			t.Errorf("item %d target = %q, want %q", i, back[i].Target, items[i].Target)
		}
		if back[i].Format != "" {
			t.Errorf("item %d format = %q, text form carries no formats", i, back[i].Format)
		}
	}
}

func TestParseQueueLegacyURLDocument(t *testing.T) {
	got, err := ParseQueue([]byte(`{"urls": ["u1", "u2"]}`))
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	want := []QueueItem{{Target: "u1"}, {Target: "u2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseQueueBareList(t *testing.T) {
	got, err := ParseQueue([]byte(`["u1", {"target": "u2", "format": "mp3"}]`))
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	want := []QueueItem{{Target: "u1"}, {Target: "u2", Format: "mp3"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseQueueTextSkipsCommentsAndBlanks(t *testing.T) {
	text := "# header\n\nu1\n   \n# another comment\nu2\n"
	got, err := ParseQueue([]byte(text))
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	want := []QueueItem{{Target: "u1"}, {Target: "u2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseQueueRejectsBrokenJSON(t *testing.T) {
	for _, bad := range []string{`{"jobs": [`, `[1, 2]`, `[{"format":"flac"}]`} {
		if _, err := ParseQueue([]byte(bad)); err == nil {
			t.Errorf("ParseQueue(%q) accepted broken input", bad)
		}
	}
}

func TestParseQueueEmptyInput(t *testing.T) {
	got, err := ParseQueue([]byte("   \n"))
	if err != nil {
		t.Fatalf("ParseQueue: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v from empty input", got)
	}
}

func TestHistoryTextSummary(t *testing.T) {
	finished := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	entries := []history.Entry{
		{
			Target:     "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy",
			Kind:       "album",
			State:      "succeeded",
			Attempts:   1,
			FinishedAt: finished,
			DurationMs: 192000,
			NewFiles:   12,
			Artist:     "Nadia Struiwigh",
			Album:      "WFLX",
		},
		{
			Target:     "https://open.spotify.com/track/3n3Ppam7vgaVa1iaRUc9Lp",
			Kind:       "track",
			State:      "failed",
			Attempts:   3,
			FinishedAt: finished.Add(time.Hour),
			DurationMs: 4000,
			Reason:     "connection reset",
		},
	}

	out := string(HistoryText(entries))
	for _, want := range []string{
		"2 run(s)",
		"succeeded",
		"album",
		"12 new file(s)",
		"Nadia Struiwigh - WFLX",
		"failed",
		"attempts 3",
		"reason: connection reset",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPlaylistM3U8ListsAudioOnly(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"Album/01 - Intro.flac",
		"Album/02 - Outro.flac",
		"Album/cover.jpg",
		"single.mp3",
	}
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := PlaylistM3U8(dir)
	if err != nil {
		t.Fatalf("PlaylistM3U8: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	want := []string{
		"#EXTM3U",
		"#EXTINF:-1,01 - Intro",
		"Album/01 - Intro.flac",
		"#EXTINF:-1,02 - Outro",
		"Album/02 - Outro.flac",
		"#EXTINF:-1,single",
		"single.mp3",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("playlist =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
	if bytes.Contains(out, []byte("cover.jpg")) {
		t.Error("playlist listed a non-audio file")
	}
}

func TestPlaylistM3U8EmptyDirErrors(t *testing.T) {
	if _, err := PlaylistM3U8(t.TempDir()); err == nil {
		t.Error("expected an error for a directory without audio")
	}
}

func TestPlaylistName(t *testing.T) {
	cases := []struct {
		artist, album, want string
	}{
		{"Nadia Struiwigh", "WFLX", "Nadia Struiwigh - WFLX.m3u8"},
		{"AC/DC", "Back in Black", "ACDC - Back in Black.m3u8"},
		{"", "", "spindle.m3u8"},
		{"Artist", "", "Artist.m3u8"},
	}
	for _, tc := range cases {
		if got := PlaylistName(tc.artist, tc.album); got != tc.want {
			t.Errorf("PlaylistName(%q, %q) = %q, want %q", tc.artist, tc.album, got, tc.want)
		}
	}
}
