package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

// EventMsg carries an orchestrator event into the program
type EventMsg struct {
	Event runner.Event
}

// DoneMsg is sent once Execute returns
type DoneMsg struct {
	Err error
}

// RunModel shows a case's steps updating live while it executes
type RunModel struct {
	styles  *Styles
	spinner spinner.Model
	width   int

	tc       types.Case
	stop     func()
	stopping bool
	done     bool
	err      error
}

// NewRunModel creates the view for c. stop is called on the first q or ctrl+c.
func NewRunModel(c types.Case, stop func()) *RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))
	return &RunModel{
		styles:  NewStyles(),
		spinner: s,
		width:   80,
		tc:      c.Clone(),
		stop:    stop,
	}
}

// Case returns the last case snapshot the view has seen
func (m *RunModel) Case() types.Case {
	return m.tc.Clone()
}

// Err returns the error Execute returned, if any
func (m *RunModel) Err() error {
	return m.err
}

// Init implements tea.Model
func (m *RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m *RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done || m.stopping {
				return m, tea.Quit
			}
			m.stopping = true
			if m.stop != nil {
				m.stop()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds an event into the snapshot
func (m *RunModel) apply(ev runner.Event) {
	if ev.Case != nil {
		m.tc = ev.Case.Clone()
		return
	}
	if ev.Step == nil {
		return
	}
	for i := range m.tc.Steps {
		if m.tc.Steps[i].ID == ev.Step.ID {
			m.tc.Steps[i] = ev.Step.Clone()
			return
		}
	}
}

// View implements tea.Model
func (m *RunModel) View() string {
	var b strings.Builder
	title := m.tc.Name
	if title == "" {
		title = m.tc.ID
	}
	b.WriteString(m.styles.Header.Render(fmt.Sprintf("casepilot  %s", title)))
	b.WriteString("\n")
	if m.tc.Request != "" {
		b.WriteString(m.styles.Subtle.Render(truncate(m.tc.Request, m.width-2)))
		b.WriteString("\n\n")
	}

	for _, s := range m.tc.Steps {
		b.WriteString(m.renderStep(s))
		b.WriteString("\n")
	}
	if len(m.tc.Steps) == 0 && m.tc.Error != "" {
		b.WriteString(m.styles.ErrorText.Render(m.tc.Error))
		b.WriteString("\n")
	}

	if m.tc.Status.IsTerminal() {
		b.WriteString("\n")
		b.WriteString(m.styles.Outcome(m.tc.Status).Render(Summary(m.tc)))
		b.WriteString("\n")
		return b.String()
	}

	hint := "[q stop]"
	if m.stopping {
		hint = "stopping after the current step... [q quit]"
	}
	b.WriteString(m.styles.Footer.Render(hint))
	b.WriteString("\n")
	return b.String()
}

// renderStep renders one step row, plus its error when it failed
func (m *RunModel) renderStep(s types.Step) string {
	icon := Icon(s.Status)
	if s.Status == types.StepRunning {
		icon = m.spinner.View()
	}
	style := m.styles.Status(s.Status)
	label := truncate(stepLabel(s, len(m.tc.Steps)), m.width-14)
	line := fmt.Sprintf("%s %s", style.Render(icon), style.Render(label))
	if d := s.Duration(); d > 0 {
		line += " " + m.styles.Subtle.Render(FormatDuration(d))
	}
	if s.Status == types.StepFailed && s.Error != "" {
		line += "\n    " + m.styles.ErrorText.Render(truncate(firstLine(s.Error), m.width-6))
	}
	return line
}

// Run executes the orchestrator's case behind the live view and returns the
// final case snapshot. Output goes to out.
func Run(ctx context.Context, o *runner.Orchestrator, out io.Writer) (types.Case, error) {
	m := NewRunModel(o.GetTestCase(), o.Stop)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(out))

	ids := make(map[runner.EventName]runner.HandlerID)
	for _, name := range runner.EventNames() {
		ids[name] = o.On(name, func(ev runner.Event) { p.Send(EventMsg{Event: ev}) })
	}
	defer func() {
		for name, id := range ids {
			o.Off(name, id)
		}
	}()

	finished := make(chan error, 1)
	go func() {
		err := o.Execute(ctx)
		finished <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		o.Stop()
		<-finished
		return o.GetTestCase(), fmt.Errorf("run view failed: %w", err)
	}
	// the user may quit before the step in flight settles
	err := <-finished
	return o.GetTestCase(), err
}
