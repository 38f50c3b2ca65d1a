// Package links classifies download targets.
//
// A recognized target is either an open.spotify.com share link or a
// spotify: URI for a track, album, or playlist. Everything else is
// rejected at the enqueue boundary rather than passed to the downloader.
package links

import (
	"regexp"
	"strings"
)

// Kind is the classified target kind.
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

var targetPattern = regexp.MustCompile(
	`(?i)^(?:https?://open\.spotify\.com/(track|album|playlist)/[A-Za-z0-9]+(?:\?.*)?|spotify:(track|album|playlist):[A-Za-z0-9]+)$`,
)

// Classify reports the kind of a target and whether it is recognized.
func Classify(target string) (Kind, bool) {
	m := targetPattern.FindStringSubmatch(strings.TrimSpace(target))
	if m == nil {
		return "", false
	}
	kind := m[1]
	if kind == "" {
		kind = m[2]
	}
	return Kind(strings.ToLower(kind)), true
}

// IsRecognized reports whether the string is a target the engine accepts.
func IsRecognized(target string) bool {
	_, ok := Classify(target)
	return ok
}

// ExtractAll splits free-form text on whitespace and returns the recognized
// targets in order of appearance, deduplicated. Clipboard captures and form
// submissions both funnel through here.
func ExtractAll(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		candidate := strings.TrimSpace(field)
		if candidate == "" || !IsRecognized(candidate) {
			continue
		}
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
	}
	return out
}
