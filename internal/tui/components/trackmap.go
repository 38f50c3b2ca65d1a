// Package components holds self-contained dashboard widgets.
package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	trackDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b"))
	trackActiveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff79c6"))
	trackStalledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c"))
	trackPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#44475a"))
)

// TrackMap visualizes a job's tracks as a cell grid: finished tracks,
// the one in flight, and the rest still waiting.
type TrackMap struct {
	Done    int // tracks finished
	Active  int // tracks currently downloading, usually 1
	Total   int // total tracks in the job
	Width   int // render width in terminal cells
	Stalled bool
}

// View renders the grid. Each cell is two terminal cells (block +
// space); when a job has more tracks than fit, one cell stands for
// several tracks and lights up once any of them finished.
func (m TrackMap) View() string {
	if m.Total <= 0 || m.Width < 2 {
		return ""
	}

	cols := m.Width / 2
	if cols < 1 {
		cols = 1
	}

	cells := m.Total
	perCell := 1
	if cells > cols*maxTrackRows {
		cells = cols * maxTrackRows
		perCell = (m.Total + cells - 1) / cells
	}

	done := m.Done
	if done < 0 {
		done = 0
	}
	if done > m.Total {
		done = m.Total
	}
	active := m.Active
	if active < 0 {
		active = 0
	}

	const block = "■"

	var s strings.Builder
	for i := 0; i < cells; i++ {
		if i > 0 {
			if i%cols == 0 {
				s.WriteRune('\n')
			} else {
				s.WriteRune(' ')
			}
		}

		firstTrack := i * perCell
		switch {
		case firstTrack+perCell <= done:
			s.WriteString(trackDoneStyle.Render(block))
		case firstTrack < done+active:
			if m.Stalled {
				s.WriteString(trackStalledStyle.Render(block))
			} else {
				s.WriteString(trackActiveStyle.Render(block))
			}
		default:
			s.WriteString(trackPendingStyle.Render(block))
		}
	}

	return s.String()
}

// maxTrackRows caps the grid so one huge playlist cannot swallow the
// detail pane.
const maxTrackRows = 4
