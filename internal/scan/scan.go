// Package scan inspects the download destination after a run: which files
// appeared, whether they look like real audio, and what their tags say.
// The report feeds the history entry for the job.
package scan

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
	"github.com/h2non/filetype"
)

const (
	// headerLen is the sniffing window filetype needs for detection.
	headerLen = 261

	// minAudioBytes flags truncated downloads: no real track is this small.
	minAudioBytes = 64 * 1024
)

// audioExts are extensions the downloader writes for audio content.
var audioExts = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".opus": true,
	".ogg":  true,
	".wav":  true,
}

// IsAudioPath reports whether the path carries an audio extension.
func IsAudioPath(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}

// Listing maps relative file paths to sizes, as seen at one point in time.
type Listing map[string]int64

// FileReport describes one file that appeared during a run.
type FileReport struct {
	Path    string `json:"path"` // relative to the scanned directory
	Size    int64  `json:"size"`
	Kind    string `json:"kind,omitempty"` // detected type extension, "" when unknown
	Audio   bool   `json:"audio"`
	Suspect bool   `json:"suspect"`
}

// Report summarizes what a run left behind.
type Report struct {
	Files      []FileReport `json:"files,omitempty"`
	NewFiles   int          `json:"new_files"`
	AudioFiles int          `json:"audio_files"`
	Suspects   int          `json:"suspects"`
	TotalBytes int64        `json:"total_bytes"`
	Artist     string       `json:"artist,omitempty"` // first artist tag found
	Album      string       `json:"album,omitempty"`
}

// Snapshot lists the files under dir with their sizes. Internal directories
// (_logs, _playlists) and dotfiles are ignored. A missing or unreadable
// directory yields an empty listing: scanning is reporting, not validation.
func Snapshot(dir string) (Listing, error) {
	ls := Listing{}
	if dir == "" {
		return ls, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		ls[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ls, nil
}

// Diff re-walks dir and classifies every file that was not in the pre-run
// listing. File order in the report is deterministic.
func Diff(dir string, before Listing) (*Report, error) {
	after, err := Snapshot(dir)
	if err != nil {
		return nil, err
	}

	var fresh []string
	for p := range after {
		if _, ok := before[p]; !ok {
			fresh = append(fresh, p)
		}
	}
	sort.Strings(fresh)

	rep := &Report{}
	for _, p := range fresh {
		fr := classify(dir, p, after[p])
		rep.Files = append(rep.Files, fr)
		rep.NewFiles++
		rep.TotalBytes += fr.Size
		if fr.Audio {
			rep.AudioFiles++
		}
		if fr.Suspect {
			rep.Suspects++
		}
		if fr.Audio && rep.Artist == "" && rep.Album == "" {
			rep.Artist, rep.Album = probeTags(filepath.Join(dir, filepath.FromSlash(p)))
		}
	}
	return rep, nil
}

// classify sniffs one new file. Suspect means either an audio file too
// small to be a real track, or a file with an audio extension whose content
// is not audio (error pages saved under .flac names). Cover art and lyric
// sidecars are expected and stay unflagged.
func classify(dir, rel string, size int64) FileReport {
	fr := FileReport{Path: rel, Size: size}

	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		fr.Suspect = true
		return fr
	}
	defer f.Close()

	head := make([]byte, headerLen)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	fr.Audio = filetype.IsAudio(head)
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		fr.Kind = kind.Extension
	}

	claimsAudio := audioExts[strings.ToLower(filepath.Ext(rel))]
	switch {
	case fr.Audio && size < minAudioBytes:
		fr.Suspect = true
	case claimsAudio && !fr.Audio:
		fr.Suspect = true
	}
	return fr
}

// probeTags pulls the first artist and album tag out of an audio file.
// Unreadable or untagged files yield empty strings.
func probeTags(path string) (artist, album string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
		if err != nil {
			return "", ""
		}
		defer tag.Close()
		return tag.Artist(), tag.Album()

	case ".flac":
		f, err := flac.ParseFile(path)
		if err != nil {
			return "", ""
		}
		for _, block := range f.Meta {
			if block.Type != flac.VorbisComment {
				continue
			}
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			return firstComment(cmt, flacvorbis.FIELD_ARTIST), firstComment(cmt, flacvorbis.FIELD_ALBUM)
		}
	}
	return "", ""
}

func firstComment(cmt *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	vals, err := cmt.Get(field)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return vals[0]
}
