package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderMultiLineGraph draws a bar graph over a dashed grid. Samples
// fill from the right so the newest depth reading sits at the edge.
func renderMultiLineGraph(samples []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorDarkGray)
	barStyle := lipgloss.NewStyle().Foreground(color)

	// Canvas with a dashed grid on every other row.
	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, width)
		for j := range rows[i] {
			if i%2 == 0 {
				rows[i][j] = gridStyle.Render("╌")
			} else {
				rows[i][j] = " "
			}
		}
	}

	visible := samples
	if len(visible) > width {
		visible = visible[len(visible)-width:]
	}

	// Eighth-block characters give sub-row resolution.
	blocks := []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

	offset := width - len(visible)
	for x, val := range visible {
		if val < 0 {
			val = 0
		}
		pct := val / maxVal
		if pct > 1.0 {
			pct = 1.0
		}
		subBlocks := pct * float64(height) * 8.0

		for y := 0; y < height; y++ {
			rowValue := subBlocks - float64(y*8)
			if rowValue <= 0 {
				// Leave the grid visible above the bar.
				continue
			}
			char := "█"
			if rowValue < 8 {
				char = blocks[int(rowValue)]
			}
			rows[height-1-y][offset+x] = barStyle.Render(char)
		}
	}

	var s strings.Builder
	for i, row := range rows {
		s.WriteString(strings.Join(row, ""))
		if i < height-1 {
			s.WriteRune('\n')
		}
	}
	return s.String()
}
