// Package ui renders build progress as a terminal UI.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Event is one pipeline notification.
type Event struct {
	Phase string
	File  string
	Done  bool
}

// Phases in pipeline order, for the progress ratio.
var phases = []string{"parse", "lower", "check", "codegen", "link"}

type progressModel struct {
	title      string
	events     <-chan Event
	spinner    spinner.Model
	prog       progress.Model
	phaseLabel string
	phaseIdx   int
	files      []string
	width      int
	done       bool
}

type eventMsg Event

// NewProgressModel returns a Bubble Tea model that renders pipeline
// progress fed through events.
func NewProgressModel(title string, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 60

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *progressModel) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventMsg(Event{Done: true})
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		ev := Event(msg)
		if ev.Done {
			m.done = true
			return m, tea.Quit
		}
		if ev.Phase != "" {
			m.phaseLabel = ev.Phase
			for i, p := range phases {
				if p == ev.Phase {
					m.phaseIdx = i
				}
			}
		}
		if ev.File != "" {
			m.files = append(m.files, ev.File)
		}
		return m, m.listen()
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 20 {
			m.prog.Width = msg.Width - 20
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.done {
		return ""
	}
	var sb strings.Builder
	title := runewidth.Truncate(m.title, m.width-4, "…")
	sb.WriteString(lipgloss.NewStyle().Bold(true).Render(title))
	sb.WriteByte('\n')

	ratio := float64(m.phaseIdx) / float64(len(phases))
	sb.WriteString(m.prog.ViewAs(ratio))
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "%s %s", m.spinner.View(), m.phaseLabel)
	if n := len(m.files); n > 0 {
		fmt.Fprintf(&sb, " (%d files)", n)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// ChannelObserver adapts an event channel to the driver's Observer
// interface.
type ChannelObserver struct {
	Events chan<- Event
}

func (o ChannelObserver) Phase(name string) {
	o.Events <- Event{Phase: name}
}

func (o ChannelObserver) File(path, status string) {
	o.Events <- Event{File: path}
}
