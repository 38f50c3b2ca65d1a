// Package export reads and writes the interchange formats: queue
// contents as JSON or plain text, the history as a text summary, and an
// m3u8 playlist of downloaded files.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/scan"
	"github.com/spindle-dl/spindle/internal/utils"
)

// QueueItem is one job in interchange form. Only the request survives an
// export; state, attempts, and ids are runtime detail.
type QueueItem struct {
	Target string `json:"target"`
	Format string `json:"format,omitempty"`
}

// queueDoc is the structured queue file. URLs is the older form some
// tools still write; it is read, never written.
type queueDoc struct {
	Jobs []QueueItem `json:"jobs"`
	URLs []string    `json:"urls"`
}

// Items flattens a queue snapshot for export, preserving order.
func Items(snap queue.Snapshot) []QueueItem {
	items := make([]QueueItem, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		items = append(items, QueueItem{Target: j.Target, Format: string(j.Format)})
	}
	return items
}

// QueueJSON renders items as the structured queue document.
func QueueJSON(items []QueueItem) ([]byte, error) {
	doc := struct {
		Jobs []QueueItem `json:"jobs"`
	}{Jobs: items}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// QueueText renders items one target per line. The format column is not
// representable here; importing a text export falls back to the default
// format.
func QueueText(items []QueueItem) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# spindle queue export %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# %d target(s), one per line\n", len(items))
	for _, it := range items {
		b.WriteString(it.Target)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// ParseQueue reads any of the accepted interchange forms: the structured
// document, the legacy {"urls":[...]} document, a bare JSON list of
// strings or objects, or plain text with one target per line. Comment
// lines starting with # are skipped in text form. Targets are returned
// as-is; validation happens at enqueue.
func ParseQueue(data []byte) ([]QueueItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var doc queueDoc
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parse queue document: %w", err)
		}
		if len(doc.Jobs) > 0 {
			return doc.Jobs, nil
		}
		items := make([]QueueItem, 0, len(doc.URLs))
		for _, u := range doc.URLs {
			items = append(items, QueueItem{Target: u})
		}
		return items, nil

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parse queue list: %w", err)
		}
		items := make([]QueueItem, 0, len(raw))
		for i, r := range raw {
			var s string
			if err := json.Unmarshal(r, &s); err == nil {
				items = append(items, QueueItem{Target: s})
				continue
			}
			var it QueueItem
			if err := json.Unmarshal(r, &it); err != nil || it.Target == "" {
				return nil, fmt.Errorf("parse queue list: entry %d is neither a target string nor a job object", i)
			}
			items = append(items, it)
		}
		return items, nil
	}

	var items []QueueItem
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, QueueItem{Target: line})
	}
	return items, nil
}

// HistoryText renders a readable run summary, newest first, matching the
// order Recent returns.
func HistoryText(entries []history.Entry) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# spindle history, %d run(s)\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-9s  %-8s  %s\n",
			e.FinishedAt.Local().Format("2006-01-02 15:04"),
			e.State,
			orDash(e.Kind),
			e.Target,
		)
		detail := []string{
			fmt.Sprintf("attempts %d", e.Attempts),
			fmt.Sprintf("duration %s", (time.Duration(e.DurationMs) * time.Millisecond).Round(time.Second)),
		}
		if e.NewFiles > 0 {
			detail = append(detail, fmt.Sprintf("%d new file(s)", e.NewFiles))
		}
		if e.Suspects > 0 {
			detail = append(detail, fmt.Sprintf("%d suspect(s)", e.Suspects))
		}
		if e.Artist != "" {
			album := e.Album
			if album == "" {
				album = "?"
			}
			detail = append(detail, e.Artist+" - "+album)
		}
		fmt.Fprintf(&b, "    %s\n", strings.Join(detail, ", "))
		if e.Reason != "" {
			fmt.Fprintf(&b, "    reason: %s\n", e.Reason)
		}
	}
	return b.Bytes()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PlaylistM3U8 builds a playlist of every audio file under dir, sorted by
// path. Paths are written relative to dir, so the playlist belongs next
// to the files it lists.
func PlaylistM3U8(dir string) ([]byte, error) {
	listing, err := scan.Snapshot(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for p := range listing {
		if scan.IsAudioPath(p) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no audio files under %s", dir)
	}
	sort.Strings(paths)

	var b bytes.Buffer
	b.WriteString("#EXTM3U\n")
	for _, p := range paths {
		title := p
		if i := strings.LastIndex(title, "/"); i >= 0 {
			title = title[i+1:]
		}
		if i := strings.LastIndex(title, "."); i > 0 {
			title = title[:i]
		}
		fmt.Fprintf(&b, "#EXTINF:-1,%s\n%s\n", title, p)
	}
	return b.Bytes(), nil
}

// PlaylistName derives a filesystem-safe playlist file name.
func PlaylistName(artist, album string) string {
	name := strings.TrimSpace(strings.Join(nonEmpty(artist, album), " - "))
	if name == "" {
		name = "spindle"
	}
	return utils.SanitizeFilename(name) + ".m3u8"
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
