package scan

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
)

// writeFile creates rel under dir with the given content, making parents.
func writeFile(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// padded returns head followed by zeros up to n bytes total.
func padded(head []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, head)
	return out
}

// blockHeader frames one FLAC metadata block:
// [1] flags (last bit | type) [3] big-endian length.
func blockHeader(typ byte, length int, last bool) []byte {
	flags := typ
	if last {
		flags |= 0x80
	}
	return []byte{flags, byte(length >> 16), byte(length >> 8), byte(length)}
}

// flacWithTags builds a minimal FLAC container: magic, empty StreamInfo,
// a Vorbis comment block, then fake frame bytes for size.
func flacWithTags(t *testing.T, artist, album string, size int) []byte {
	t.Helper()
	cmt := flacvorbis.New()
	if err := cmt.Add(flacvorbis.FIELD_ARTIST, artist); err != nil {
		t.Fatal(err)
	}
	if err := cmt.Add(flacvorbis.FIELD_ALBUM, album); err != nil {
		t.Fatal(err)
	}
	block := cmt.Marshal()

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write(blockHeader(0, 34, false))
	buf.Write(make([]byte, 34))
	buf.Write(blockHeader(4, len(block.Data), true))
	buf.Write(block.Data)
	if pad := size - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

// mp3WithTags writes an MP3-looking file and tags it with the real library.
func mp3WithTags(t *testing.T, dir, rel, artist, album string) {
	t.Helper()
	writeFile(t, dir, rel, padded([]byte{0xFF, 0xFB, 0x90, 0x00}, 128*1024))

	tag, err := id3v2.Open(filepath.Join(dir, filepath.FromSlash(rel)), id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("open for tagging: %v", err)
	}
	tag.SetArtist(artist)
	tag.SetAlbum(album)
	if err := tag.Save(); err != nil {
		t.Fatalf("save tags: %v", err)
	}
	tag.Close()
}

func TestSnapshot_RecordsFilesWithSizes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.flac", padded([]byte("fLaC"), 100))
	writeFile(t, dir, "Album/02 - b.mp3", padded([]byte("ID3"), 200))

	ls, err := Snapshot(dir)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(ls) != 2 {
		t.Fatalf("listing size = %d, want 2: %v", len(ls), ls)
	}
	if ls["a.flac"] != 100 {
		t.Errorf("a.flac size = %d, want 100", ls["a.flac"])
	}
	if ls["Album/02 - b.mp3"] != 200 {
		t.Errorf("nested file missing or wrong size: %v", ls)
	}
}

func TestSnapshot_SkipsInternalDirsAndDotfiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.mp3", padded([]byte("ID3"), 10))
	writeFile(t, dir, "_logs/run_1.log", []byte("log"))
	writeFile(t, dir, "_playlists/mix.m3u8", []byte("#EXTM3U"))
	writeFile(t, dir, ".DS_Store", []byte("junk"))
	writeFile(t, dir, ".cache/x", []byte("junk"))

	ls, err := Snapshot(dir)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(ls) != 1 {
		t.Errorf("listing = %v, want only keep.mp3", ls)
	}
}

func TestSnapshot_MissingDirIsEmpty(t *testing.T) {
	ls, err := Snapshot(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(ls) != 0 {
		t.Errorf("listing = %v, want empty", ls)
	}
}

func TestDiff_CountsOnlyNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.flac", padded([]byte("fLaC"), 128*1024))

	before, err := Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "new.mp3", padded([]byte{0xFF, 0xFB, 0x90, 0x00}, 128*1024))
	writeFile(t, dir, "cover.jpg", padded([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 4096))

	rep, err := Diff(dir, before)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if rep.NewFiles != 2 {
		t.Fatalf("new files = %d, want 2: %+v", rep.NewFiles, rep)
	}
	if rep.AudioFiles != 1 {
		t.Errorf("audio files = %d, want 1", rep.AudioFiles)
	}
	if rep.Suspects != 0 {
		t.Errorf("suspects = %d, want 0: %+v", rep.Suspects, rep.Files)
	}
	if rep.TotalBytes != 128*1024+4096 {
		t.Errorf("total bytes = %d", rep.TotalBytes)
	}

	// Deterministic order: cover.jpg sorts before new.mp3.
	if rep.Files[0].Path != "cover.jpg" || rep.Files[1].Path != "new.mp3" {
		t.Errorf("report order: %+v", rep.Files)
	}
	if rep.Files[1].Kind != "mp3" {
		t.Errorf("detected kind = %q, want mp3", rep.Files[1].Kind)
	}
}

func TestDiff_FlagsTinyAudioAsSuspect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stub.mp3", padded([]byte("ID3"), 512))

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Suspects != 1 {
		t.Errorf("tiny audio file should be suspect: %+v", rep.Files)
	}
	if !rep.Files[0].Audio {
		t.Errorf("ID3 header should detect as audio: %+v", rep.Files[0])
	}
}

func TestDiff_FlagsErrorPageSavedAsAudio(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "track.flac", padded([]byte("<html><body>blocked</body></html>"), 256*1024))

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Files) != 1 || !rep.Files[0].Suspect {
		t.Errorf("non-audio content under .flac should be suspect: %+v", rep.Files)
	}
	if rep.Files[0].Audio {
		t.Error("HTML must not classify as audio")
	}
}

func TestDiff_SidecarsStayUnflagged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cover.jpg", padded([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 2048))
	writeFile(t, dir, "track.lrc", []byte("[00:01.00] la la la\n"))

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Suspects != 0 {
		t.Errorf("sidecar files flagged: %+v", rep.Files)
	}
}

func TestDiff_ReadsFLACTags(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01 - song.flac", flacWithTags(t, "Nadia Struiwigh", "WFLX", 128*1024))

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Artist != "Nadia Struiwigh" || rep.Album != "WFLX" {
		t.Errorf("tags = %q / %q, want Nadia Struiwigh / WFLX", rep.Artist, rep.Album)
	}
}

func TestDiff_ReadsID3Tags(t *testing.T) {
	dir := t.TempDir()
	mp3WithTags(t, dir, "01 - song.mp3", "Ella Fitzgerald", "Sings Gershwin")

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Artist != "Ella Fitzgerald" || rep.Album != "Sings Gershwin" {
		t.Errorf("tags = %q / %q", rep.Artist, rep.Album)
	}
}

func TestDiff_UntaggedAudioLeavesTagsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "raw.mp3", padded([]byte{0xFF, 0xFB, 0x90, 0x00}, 128*1024))

	rep, err := Diff(dir, Listing{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Artist != "" || rep.Album != "" {
		t.Errorf("untagged file produced tags: %q / %q", rep.Artist, rep.Album)
	}
}
