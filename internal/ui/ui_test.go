package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/casepilot/internal/automation/automationtest"
	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

const loginCode = `
- aiInput: alice@example.com
  locate: the email field
- aiTap: sign in
- aiAssert: the dashboard greets alice
`

func newOrchestrator(t *testing.T, code string, f *automationtest.Factory) *runner.Orchestrator {
	t.Helper()
	o, err := runner.New(types.NewCaseFromCode("login", "sign in as alice", code), f)
	require.NoError(t, err)
	t.Cleanup(o.Destroy)
	return o
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0ms", FormatDuration(0))
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
}

func TestSummary(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(1200 * time.Millisecond)
	c := types.Case{
		Status:    types.CaseFailed,
		StartedAt: &start,
		EndedAt:   &end,
		Steps: []types.Step{
			{Status: types.StepSuccess},
			{Status: types.StepFailed},
			{Status: types.StepPending},
		},
	}
	assert.Equal(t, "failed: 1 passed, 1 failed, 1 not run in 1.2s", Summary(c))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel…", truncate("hello", 4))
	assert.Equal(t, "hello", truncate("hello", 0))
	assert.Equal(t, "first", firstLine("first\nsecond"))
}

func TestPrinterReportsFailure(t *testing.T) {
	f := automationtest.NewFactory()
	f.Errors["Assert"] = errors.New("greeting not found\nextra detail")
	o := newOrchestrator(t, loginCode, f)

	var buf bytes.Buffer
	NewPrinter(&buf).Attach(o)
	require.NoError(t, o.Parse())
	require.NoError(t, o.Execute(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "login: parsed 3 step(s)")
	assert.Contains(t, out, "login: running")
	assert.Contains(t, out, "✓ [2/3]")
	assert.Contains(t, out, "✗ [3/3]")
	assert.Contains(t, out, "greeting not found\n")
	assert.NotContains(t, out, "extra detail")
	assert.Contains(t, out, "login: failed: 2 passed, 1 failed")
}

func TestPrinterReportsParseFailure(t *testing.T) {
	o := newOrchestrator(t, `- aiTap: {}`, automationtest.NewFactory())
	var buf bytes.Buffer
	NewPrinter(&buf).Attach(o)
	require.Error(t, o.Parse())
	assert.True(t, strings.HasPrefix(buf.String(), "login: parse failed: "))
}

func TestRunModelAppliesEvents(t *testing.T) {
	o := newOrchestrator(t, loginCode, automationtest.NewFactory())
	stopped := 0
	m := NewRunModel(o.GetTestCase(), func() { stopped++ })
	o.On(runner.EventCaseParsed, func(ev runner.Event) { m.Update(EventMsg{Event: ev}) })
	o.On(runner.EventStepCompleted, func(ev runner.Event) { m.Update(EventMsg{Event: ev}) })
	o.On(runner.EventCaseExecutionFinished, func(ev runner.Event) { m.Update(EventMsg{Event: ev}) })

	require.NoError(t, o.Parse())
	assert.Len(t, m.Case().Steps, 3)
	assert.Contains(t, m.View(), "[q stop]")

	require.NoError(t, o.Execute(context.Background()))
	c := m.Case()
	assert.Equal(t, types.CaseCompleted, c.Status)
	for _, s := range c.Steps {
		assert.Equal(t, types.StepSuccess, s.Status)
	}
	view := m.View()
	assert.Contains(t, view, "completed: 3 passed")
	assert.NotContains(t, view, "[q stop]")

	_, cmd := m.Update(DoneMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Zero(t, stopped)
}

func TestRunModelStopsThenQuits(t *testing.T) {
	stopped := 0
	m := NewRunModel(types.Case{Name: "login", Status: types.CaseRunning}, func() { stopped++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	assert.Equal(t, 1, stopped)
	assert.Contains(t, m.View(), "stopping after the current step")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, stopped)
}
