package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation/automationtest"
	"github.com/lance13c/casepilot/internal/types"
)

const loginCode = `
- aiTap: login button
- aiAssert: dashboard is visible
`

const threeStepCode = `
- aiTap: login button
- aiAssert: dashboard is visible
- aiInput: bob
  locate: search box
`

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newOrchestrator(t *testing.T, code string) (*Orchestrator, *automationtest.Factory) {
	t.Helper()
	f := automationtest.NewFactory()
	o, err := New(types.NewCaseFromCode("login", "log in and see the dashboard", code), f, WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(o.Destroy)
	return o, f
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) attach(o *Orchestrator) {
	for _, name := range EventNames() {
		o.On(name, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
}

func (r *recorder) names() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventName, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func TestNewRequiresDispatcher(t *testing.T) {
	_, err := New(types.NewCase("n", "r"), nil)
	assert.ErrorIs(t, err, ErrNoDispatcher)

	_, err = New(nil, automationtest.NewFactory())
	assert.ErrorIs(t, err, ErrNoCase)
}

func TestHappyPath(t *testing.T) {
	o, f := newOrchestrator(t, loginCode)

	require.NoError(t, o.Parse())
	tc := o.GetTestCase()
	require.Len(t, tc.Steps, 2)
	for _, s := range tc.Steps {
		assert.Equal(t, types.StepPending, s.Status)
	}
	assert.Equal(t, action.TapAction{Locate: "login button"}, tc.Steps[0].Action)
	assert.True(t, o.CanExecute())

	require.NoError(t, o.Execute(context.Background()))

	tc = o.GetTestCase()
	assert.Equal(t, types.CaseCompleted, tc.Status)
	assert.Empty(t, tc.Error)
	for _, s := range tc.Steps {
		assert.Equal(t, types.StepSuccess, s.Status)
	}
	require.NotNil(t, tc.StartedAt)
	require.NotNil(t, tc.EndedAt)
	assert.False(t, tc.EndedAt.Before(*tc.StartedAt))
	assert.Equal(t, []string{"Tap", "Assert"}, f.Methods())
}

func TestFailFast(t *testing.T) {
	o, f := newOrchestrator(t, threeStepCode)
	f.Errors["Assert"] = errors.New("dashboard not found")

	require.NoError(t, o.Parse())
	require.NoError(t, o.Execute(context.Background()))

	tc := o.GetTestCase()
	assert.Equal(t, types.CaseFailed, tc.Status)
	assert.Contains(t, tc.Error, "dashboard not found")
	assert.Equal(t, types.StepSuccess, tc.Steps[0].Status)
	assert.Equal(t, types.StepFailed, tc.Steps[1].Status)
	assert.Equal(t, "dashboard not found", tc.Steps[1].Error)
	assert.Equal(t, types.StepPending, tc.Steps[2].Status)
	assert.Nil(t, tc.Steps[2].StartedAt)
	assert.Len(t, f.Drivers(), 2)
}

func TestMalformedActionFailsParse(t *testing.T) {
	code := `{"actions": [{"type": "aiTap"}], "display": {"code": ["aiTap()"]}}`
	o, f := newOrchestrator(t, code)
	var rec recorder
	rec.attach(o)

	err := o.Parse()
	require.Error(t, err)
	var verr *action.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "locate", verr.Field)

	tc := o.GetTestCase()
	assert.Equal(t, types.CaseFailed, tc.Status)
	assert.NotEmpty(t, tc.Error)
	assert.Empty(t, tc.Steps)
	assert.Empty(t, f.Drivers())
	assert.Equal(t, []EventName{EventCaseStatusChanged}, rec.names())

	assert.ErrorIs(t, o.Execute(context.Background()), ErrNotParsed)
}

func TestMismatchedDisplayCodesFailParse(t *testing.T) {
	code := `{"actions": [{"type": "aiTap", "locate": "a"}, {"type": "aiTap", "locate": "b"}], "display": {"code": ["tap a"]}}`
	o, _ := newOrchestrator(t, code)

	err := o.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display.code")
	assert.Empty(t, o.GetTestCase().Steps)
	assert.Equal(t, types.CaseFailed, o.GetStatus())
}

func TestParseFromSequence(t *testing.T) {
	seq, err := action.NewSequence(
		[]action.Action{action.TapAction{Locate: "login button"}, action.AssertAction{Condition: "dashboard is visible"}},
		[]string{`aiTap("login button")`, `aiAssert("dashboard is visible")`},
		"log in",
	)
	require.NoError(t, err)
	o, err := New(types.NewCaseFromSequence("login", "log in", seq), automationtest.NewFactory())
	require.NoError(t, err)
	defer o.Destroy()

	require.NoError(t, o.Parse())
	tc := o.GetTestCase()
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, `aiAssert("dashboard is visible")`, tc.Steps[1].Code)
	assert.ErrorIs(t, o.Parse(), ErrAlreadyParsed)
}

func TestParseRejectsTwoSources(t *testing.T) {
	seq, err := action.NewSequence([]action.Action{action.FreezeAction{}}, []string{"freeze"}, "")
	require.NoError(t, err)
	c := types.NewCaseFromCode("n", "r", loginCode)
	c.Sequence = seq
	o, err := New(c, automationtest.NewFactory())
	require.NoError(t, err)

	assert.ErrorIs(t, o.Parse(), ErrTwoSources)
	assert.Equal(t, types.CaseFailed, o.GetStatus())
}

func TestCaseWithoutSourceRunsNoSteps(t *testing.T) {
	o, err := New(types.NewCase("empty", "nothing to do"), automationtest.NewFactory())
	require.NoError(t, err)
	t.Cleanup(o.Destroy)
	var rec recorder
	rec.attach(o)

	require.NoError(t, o.Parse())
	assert.Empty(t, o.GetTestCase().Steps)
	assert.True(t, o.CanExecute())

	require.NoError(t, o.Execute(context.Background()))
	tc := o.GetTestCase()
	assert.Equal(t, types.CaseCompleted, tc.Status)
	assert.Empty(t, tc.Error)
	assert.Equal(t, []EventName{EventCaseParsed, EventCaseStatusChanged, EventCaseStatusChanged, EventCaseExecutionFinished}, rec.names())
}

func TestDriverIsolation(t *testing.T) {
	o, f := newOrchestrator(t, threeStepCode)
	require.NoError(t, o.Parse())

	var readyDuring []bool
	f.Hook = func(*automationtest.Driver, string) error {
		readyDuring = append(readyDuring, o.IsReady())
		return nil
	}

	assert.False(t, o.IsReady())
	require.NoError(t, o.Execute(context.Background()))
	assert.False(t, o.IsReady())

	drivers := f.Drivers()
	require.Len(t, drivers, 3)
	for i := 1; i < len(drivers); i++ {
		assert.NotSame(t, drivers[i-1], drivers[i])
	}
	for _, d := range drivers {
		assert.True(t, d.Destroyed())
	}
	assert.Equal(t, []bool{true, true, true}, readyDuring)
}

func TestSnapshotsAreDefensive(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	require.NoError(t, o.Parse())

	a := o.GetTestCase()
	b := o.GetTestCase()
	assert.Equal(t, a, b)
	assert.NotSame(t, &a.Steps[0], &b.Steps[0])

	a.Steps[0].Status = types.StepFailed
	a.Steps = a.Steps[:1]
	a.Status = types.CaseStopped

	c := o.GetTestCase()
	assert.Equal(t, b, c)
}

func TestEventOrder(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	var rec recorder
	rec.attach(o)

	require.NoError(t, o.Parse())
	require.NoError(t, o.Execute(context.Background()))

	assert.Equal(t, []EventName{
		EventCaseParsed,
		EventCaseStatusChanged,
		EventStepStarted,
		EventStepCompleted,
		EventStepStarted,
		EventStepCompleted,
		EventCaseStatusChanged,
		EventCaseExecutionFinished,
	}, rec.names())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	started := rec.events[2]
	require.NotNil(t, started.Step)
	assert.Nil(t, started.Case)
	assert.Same(t, o, started.Orchestrator)
	assert.Equal(t, types.StepRunning, started.Step.Status)

	completed := rec.events[3]
	assert.Equal(t, types.StepSuccess, completed.Step.Status)

	finished := rec.events[7]
	require.NotNil(t, finished.Case)
	assert.Equal(t, types.CaseCompleted, finished.Case.Status)

	// payloads are copies
	finished.Case.Steps[0].Status = types.StepFailed
	assert.Equal(t, types.StepSuccess, o.GetTestCase().Steps[0].Status)
}

func TestOffAndPanickingHandler(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	calls := 0
	id := o.On(EventCaseParsed, func(Event) { calls++ })
	o.On(EventCaseParsed, func(Event) { panic("bad handler") })
	after := 0
	o.On(EventCaseParsed, func(Event) { after++ })

	o.Off(EventCaseParsed, id)
	require.NotPanics(t, func() { require.NoError(t, o.Parse()) })
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, after)
}

func TestStopIsCooperative(t *testing.T) {
	o, f := newOrchestrator(t, threeStepCode)
	require.NoError(t, o.Parse())
	f.Hook = func(_ *automationtest.Driver, method string) error {
		if method == "Tap" {
			o.Stop()
		}
		return nil
	}

	require.NoError(t, o.Execute(context.Background()))

	tc := o.GetTestCase()
	assert.Equal(t, types.CaseStopped, tc.Status)
	assert.Equal(t, types.StepSuccess, tc.Steps[0].Status, "in-flight step settles normally")
	assert.Equal(t, types.StepPending, tc.Steps[1].Status)
	assert.Equal(t, types.StepPending, tc.Steps[2].Status)
	assert.Len(t, f.Drivers(), 1)
	require.NotNil(t, tc.EndedAt)

	// stop outside a run does nothing
	o.Stop()
	assert.Equal(t, types.CaseStopped, o.GetStatus())
}

func TestCancelledContextStopsRun(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	require.NoError(t, o.Parse())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, o.Execute(ctx))
	tc := o.GetTestCase()
	assert.Equal(t, types.CaseStopped, tc.Status)
	assert.Equal(t, types.StepPending, tc.Steps[0].Status)
}

func TestReset(t *testing.T) {
	o, f := newOrchestrator(t, loginCode)
	require.NoError(t, o.Parse())

	var resetErr error
	f.Hook = func(*automationtest.Driver, string) error {
		resetErr = o.Reset()
		return nil
	}
	require.NoError(t, o.Execute(context.Background()))
	assert.ErrorIs(t, resetErr, ErrAlreadyRunning)

	var rec recorder
	rec.attach(o)
	require.NoError(t, o.Reset())
	tc := o.GetTestCase()
	assert.Equal(t, types.CaseCreated, tc.Status)
	assert.Empty(t, tc.Steps)
	assert.Nil(t, tc.StartedAt)
	assert.Equal(t, []EventName{EventCaseStatusChanged}, rec.names())
	assert.False(t, o.CanExecute())

	require.NoError(t, o.Parse())
	assert.Len(t, o.GetTestCase().Steps, 2)
}

func TestDestroyIsIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	called := false
	o.On(EventCaseParsed, func(Event) { called = true })

	o.Destroy()
	o.Destroy()

	assert.ErrorIs(t, o.Parse(), ErrDestroyed)
	assert.ErrorIs(t, o.Execute(context.Background()), ErrDestroyed)
	assert.False(t, o.CanExecute())
	assert.False(t, called)
	assert.False(t, o.IsReady())
}

func TestRerunFailedStep(t *testing.T) {
	o, f := newOrchestrator(t, threeStepCode)
	f.Errors["Assert"] = errors.New("not yet")
	require.NoError(t, o.Parse())
	require.NoError(t, o.Execute(context.Background()))
	require.Equal(t, types.CaseFailed, o.GetStatus())

	failed := o.GetTestCase().Steps[1]
	require.NoError(t, o.Execute(context.Background()))
	assert.Equal(t, types.CaseFailed, o.GetStatus(), "a failed step halts a resumed run")

	delete(f.Errors, "Assert")
	require.NoError(t, o.RerunStep(context.Background(), failed.ID))

	tc := o.GetTestCase()
	assert.Equal(t, types.CaseCompleted, tc.Status)
	assert.Equal(t, failed.ID, tc.Steps[1].ID)
	for _, s := range tc.Steps {
		assert.Equal(t, types.StepSuccess, s.Status)
	}
	// tap ran once; assert twice (fail, pass); input once
	assert.Equal(t, []string{"Tap", "Assert", "Assert", "Input"}, f.Methods())
}

func TestSkipAndRequeueErrors(t *testing.T) {
	o, _ := newOrchestrator(t, loginCode)
	require.NoError(t, o.Parse())
	steps := o.GetTestCase().Steps

	assert.ErrorIs(t, o.SkipStep(steps[0].ID), types.ErrInvalidTransition)
	assert.ErrorIs(t, o.RequeueStep("missing"), ErrStepNotFound)

	require.NoError(t, o.Execute(context.Background()))
	require.NoError(t, o.SkipStep(steps[0].ID))
	assert.Equal(t, types.StepSkipped, o.GetTestCase().Steps[0].Status)
	assert.ErrorIs(t, o.RequeueStep(steps[0].ID), types.ErrInvalidTransition)
}

func TestManualRecoveryRefusedWhileRunning(t *testing.T) {
	o, f := newOrchestrator(t, threeStepCode)
	require.NoError(t, o.Parse())
	first := o.GetTestCase().Steps[0]

	var skipErr, requeueErr error
	f.Hook = func(_ *automationtest.Driver, method string) error {
		if method == "Assert" {
			skipErr = o.SkipStep(first.ID)
			requeueErr = o.RequeueStep(first.ID)
		}
		return nil
	}
	require.NoError(t, o.Execute(context.Background()))

	assert.ErrorIs(t, skipErr, ErrAlreadyRunning)
	assert.ErrorIs(t, requeueErr, ErrAlreadyRunning)
	assert.Equal(t, types.StepSuccess, o.GetTestCase().Steps[0].Status)
}
