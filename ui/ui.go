// Package ui is the terminal viewer behind `hark listen`.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/hark/hub"
)

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	finalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
)

// ClosedMsg is delivered once the event channel is drained and closed.
type ClosedMsg struct{}

type Model struct {
	title    string
	viewport viewport.Model
	ready    bool
	showLog  bool
	closed   bool

	finals  []string
	current string
	log     []string

	events <-chan hub.Event
}

// New returns a viewer fed from events. title is shown in the header.
func New(title string, events <-chan hub.Event) Model {
	return Model{title: title, events: events}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan hub.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return ClosedMsg{}
		}
		return ev
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		margin := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-margin)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - margin
		}

	case hub.Event:
		switch msg.Type {
		case hub.FullSentence:
			m.finals = append(m.finals, msg.Text)
			m.current = ""
		case hub.Realtime:
			m.current = msg.Text
		}
		m.log = append(m.log, logEntry(msg))
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForEvent(m.events))

	case ClosedMsg:
		m.closed = true
		m.log = append(m.log, "END connection closed")
		m.viewport.SetContent(m.contentView())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m Model) headerView() string {
	title := barStyle.Render(m.title)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m Model) footerView() string {
	text := "Press q to quit, Tab to switch views"
	if m.closed {
		text = "Disconnected. Press q to quit"
	}
	info := barStyle.Render(text)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m Model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.TranscriptView()
}

// TranscriptView renders one line per final sentence followed by the
// current realtime text, dimmed.
func (m Model) TranscriptView() string {
	var b strings.Builder
	for _, s := range m.finals {
		b.WriteString(finalStyle.Render(s))
		b.WriteString("\n")
	}
	if m.current != "" {
		b.WriteString(partialStyle.Render(m.current))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) logView() string {
	var b strings.Builder
	for _, entry := range m.log {
		b.WriteString(entry)
		b.WriteString("\n")
	}
	return b.String()
}

func logEntry(ev hub.Event) string {
	prefix := "TMP"
	if ev.Type == hub.FullSentence {
		prefix = "FIN"
	}
	return fmt.Sprintf("%s %q", prefix, ev.Text)
}
