package grid

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/marcus/gridsync/internal/output"
)

const (
	indexWidth    = 7
	minColumnWide = 6
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Connecting..."
	}
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	var sections []string
	sections = append(sections, m.renderTitle())
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderRows())
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	return fmt.Sprintf("%s: %s rows (resize for full view)\nrow %d\n\nq:quit",
		m.Dataset, humanize.Comma(int64(m.cache.Size())), m.Cursor+1)
}

func (m Model) renderTitle() string {
	size := m.cache.Size()
	left := fmt.Sprintf("gridsync · %s · %s rows", m.Dataset, humanize.Comma(int64(size)))
	right := ""
	if size > 0 {
		right = fmt.Sprintf("row %d/%d", m.Cursor+1, size)
	}
	gap := max(m.Width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return titleBarStyle.Width(m.Width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) columnWidth() int {
	fields := m.cache.Fields()
	if len(fields) == 0 {
		return m.Width - indexWidth
	}
	return max((m.Width-indexWidth)/len(fields)-1, minColumnWide)
}

func (m Model) renderHeader() string {
	w := m.columnWidth()
	cells := []string{pad("#", indexWidth)}
	for _, f := range m.cache.Fields() {
		cells = append(cells, pad(ansi.Truncate(f, w, "…"), w))
	}
	return headerStyle.Render(ansi.Truncate(strings.Join(cells, " "), m.Width, ""))
}

func (m Model) renderRows() string {
	vis := m.visibleRows()
	w := m.columnWidth()
	fields := m.cache.Fields()

	lines := make([]string, 0, vis)
	for i := m.Top; i < m.Top+vis && i < m.cache.Size(); i++ {
		cells := []string{indexStyle.Render(pad(humanize.Comma(int64(i+1)), indexWidth))}
		row, ok := m.cache.Row(i)
		if !ok {
			cells = append(cells, pendingStyle.Render("loading…"))
		} else {
			for _, f := range fields {
				text := output.FormatValue(row.Cells[f])
				text = strings.ReplaceAll(text, "\n", " ")
				cells = append(cells, pad(ansi.Truncate(text, w, "…"), w))
			}
		}
		line := ansi.Truncate(strings.Join(cells, " "), m.Width, "")
		if i == m.Cursor {
			line = selectedRowStyle.Width(m.Width).Render(ansi.Strip(line))
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, subtleStyle.Render("No rows"))
	}
	for len(lines) < vis {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	switch {
	case m.gotoOpen:
		return m.gotoInput.View()
	case m.Err != nil:
		return errorStyle.Render("Error: " + m.Err.Error())
	case m.Status != "":
		return statusStyle.Render(m.Status)
	}
	return m.help.View(keys)
}

// pad right-pads s with spaces to width cells.
func pad(s string, width int) string {
	if n := ansi.StringWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
