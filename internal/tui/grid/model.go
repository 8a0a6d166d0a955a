// Package grid is a terminal viewer that scrolls through a remote dataset,
// keeping only the rows around the viewport synchronized with the server.
package grid

import (
	"errors"
	"io"
	"strconv"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/gridsync/internal/protocol"
	"github.com/marcus/gridsync/internal/syncclient"
)

// Stream is the session transport the viewer reads frames from and sends
// requests on. *syncclient.Stream implements it.
type Stream interface {
	Send(protocol.Message) error
	Recv() (protocol.Message, error)
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 30

// MinHeight is the minimum terminal height for proper display
const MinHeight = 6

// chrome is the number of lines taken by the title bar, the column header
// (two lines with its border) and the footer.
const chrome = 4

// FrameMsg carries one frame received from the server.
type FrameMsg struct{ Frame protocol.Message }

// StreamErrMsg reports that the stream ended or failed.
type StreamErrMsg struct{ Err error }

// Model is the Bubble Tea model for the dataset viewer
type Model struct {
	Dataset string
	Margin  int

	stream Stream
	cache  *syncclient.RowCache

	// Window dimensions
	Width  int
	Height int

	// UI state
	Top      int // first visible row
	Cursor   int // selected row
	ShowHelp bool
	Status   string
	Err      error
	Closed   bool

	gotoInput textinput.Model
	gotoOpen  bool
	help      help.Model
}

// NewModel creates a viewer for dataset over s, keeping margin rows cached
// beyond the viewport on each side.
func NewModel(dataset string, s Stream, margin int) Model {
	ti := textinput.New()
	ti.Placeholder = "row number"
	ti.CharLimit = 12
	ti.Prompt = "go to: "
	return Model{
		Dataset:   dataset,
		Margin:    max(margin, 0),
		stream:    s,
		cache:     syncclient.NewRowCache(),
		gotoInput: ti,
		help:      help.New(),
	}
}

// Cache exposes the viewer's row cache.
func (m Model) Cache() *syncclient.RowCache { return m.cache }

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return m.waitForFrame()
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.help.Width = msg.Width
		m.scrollToCursor()
		return m, m.sync()

	case FrameMsg:
		if err := m.cache.Apply(msg.Frame); err != nil {
			m.Err = err
		}
		m.clamp()
		switch msg.Frame.(type) {
		case protocol.Reset:
			// The server follows a reset with its initial push.
			m.Status = ""
			return m, m.waitForFrame()
		case protocol.SetRows:
			m.Status = ""
		}
		return m, tea.Batch(m.sync(), m.waitForFrame())

	case StreamErrMsg:
		m.Closed = true
		if errors.Is(msg.Err, io.EOF) {
			m.Status = "session closed by server"
		} else {
			m.Err = msg.Err
		}
		return m, nil

	case tea.KeyMsg:
		if m.gotoOpen {
			return m.handleGotoKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := m.visibleRows()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Down):
		m.Cursor++
	case key.Matches(msg, keys.Up):
		m.Cursor--
	case key.Matches(msg, keys.PageDown):
		m.Cursor += page
		m.Top += page
	case key.Matches(msg, keys.PageUp):
		m.Cursor -= page
		m.Top -= page
	case key.Matches(msg, keys.Top):
		m.Cursor = 0
	case key.Matches(msg, keys.Bottom):
		m.Cursor = m.cache.Size() - 1
	case key.Matches(msg, keys.Goto):
		m.gotoOpen = true
		m.gotoInput.SetValue("")
		return m, m.gotoInput.Focus()
	case key.Matches(msg, keys.Refresh):
		m.Status = "refreshing"
		return m, m.send(protocol.Refresh{})
	case key.Matches(msg, keys.Help):
		m.ShowHelp = !m.ShowHelp
		m.help.ShowAll = m.ShowHelp
		return m, nil
	default:
		return m, nil
	}
	m.clamp()
	m.scrollToCursor()
	return m, m.sync()
}

func (m Model) handleGotoKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.gotoOpen = false
		m.gotoInput.Blur()
		return m, nil
	case tea.KeyEnter:
		m.gotoOpen = false
		m.gotoInput.Blur()
		n, err := strconv.Atoi(m.gotoInput.Value())
		if err != nil || n < 1 {
			m.Status = "not a row number: " + m.gotoInput.Value()
			return m, nil
		}
		m.Cursor = n - 1
		m.clamp()
		m.scrollToCursor()
		return m, m.sync()
	}
	var cmd tea.Cmd
	m.gotoInput, cmd = m.gotoInput.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

func (m Model) visibleRows() int {
	return max(m.Height-chrome, 1)
}

// clamp keeps the cursor and the top row inside the dataset.
func (m *Model) clamp() {
	last := max(m.cache.Size()-1, 0)
	m.Cursor = min(max(m.Cursor, 0), last)
	m.Top = min(max(m.Top, 0), max(m.cache.Size()-m.visibleRows(), 0))
}

func (m *Model) scrollToCursor() {
	vis := m.visibleRows()
	switch {
	case m.Cursor < m.Top:
		m.Top = m.Cursor
	case m.Cursor >= m.Top+vis:
		m.Top = m.Cursor - vis + 1
	}
	m.clamp()
}

// sync asks the server for whatever rows around the viewport the cache is
// missing and reports the rows it evicted.
func (m *Model) sync() tea.Cmd {
	if m.Height == 0 || m.Closed {
		return nil
	}
	req, dropped := m.cache.Plan(m.Top, m.visibleRows(), m.Margin)
	if req == nil {
		return nil
	}
	frames := []protocol.Message{*req}
	if len(dropped) > 0 {
		frames = append(frames, protocol.DropRows{Keys: dropped})
	}
	return m.send(frames...)
}

// send writes frames in order off the update loop.
func (m Model) send(frames ...protocol.Message) tea.Cmd {
	s := m.stream
	return func() tea.Msg {
		for _, f := range frames {
			if err := s.Send(f); err != nil {
				return StreamErrMsg{Err: err}
			}
		}
		return nil
	}
}

func (m Model) waitForFrame() tea.Cmd {
	s := m.stream
	return func() tea.Msg {
		f, err := s.Recv()
		if err != nil {
			return StreamErrMsg{Err: err}
		}
		return FrameMsg{Frame: f}
	}
}
