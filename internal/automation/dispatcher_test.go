package automation_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation"
	"github.com/lance13c/casepilot/internal/automation/automationtest"
	"github.com/lance13c/casepilot/internal/types"
)

// one raw action per tag and the driver method it must reach
var routes = map[action.Type]struct {
	raw    map[string]any
	method string
}{
	action.TypePlan:          {map[string]any{"prompt": "log in"}, "Plan"},
	action.TypeTap:           {map[string]any{"locate": "login"}, "Tap"},
	action.TypeInput:         {map[string]any{"text": "bob", "locate": "user"}, "Input"},
	action.TypeHover:         {map[string]any{"locate": "menu"}, "Hover"},
	action.TypeKeyPress:      {map[string]any{"key": "Enter"}, "KeyPress"},
	action.TypeScroll:        {map[string]any{"scroll": map[string]any{"direction": "down", "scrollType": "once"}}, "Scroll"},
	action.TypeRightClick:    {map[string]any{"locate": "row"}, "RightClick"},
	action.TypeDoubleClick:   {map[string]any{"locate": "cell"}, "DoubleClick"},
	action.TypeLocate:        {map[string]any{"locate": "logo"}, "Locate"},
	action.TypeWaitFor:       {map[string]any{"condition": "page loaded"}, "WaitFor"},
	action.TypeAssert:        {map[string]any{"condition": "title is Home"}, "Assert"},
	action.TypeQuery:         {map[string]any{"demand": "list of items"}, "Query"},
	action.TypeAsk:           {map[string]any{"prompt": "what is shown?"}, "Ask"},
	action.TypeBoolean:       {map[string]any{"prompt": "logged in?"}, "Boolean"},
	action.TypeNumber:        {map[string]any{"prompt": "cart size"}, "Number"},
	action.TypeString:        {map[string]any{"prompt": "user name"}, "String"},
	action.TypeRunScript:     {map[string]any{"script": "- aiTap: ok"}, "RunScript"},
	action.TypeSetContext:    {map[string]any{"context": "prefer the dark theme"}, "SetContext"},
	action.TypeEvaluate:      {map[string]any{"script": "1+1"}, "Evaluate"},
	action.TypeDescribePoint: {map[string]any{"point": []any{10, 20}}, "DescribePoint"},
	action.TypeLogScreenshot: {map[string]any{"title": "after login"}, "LogScreenshot"},
	action.TypeFreeze:        {map[string]any{}, "Freeze"},
	action.TypeUnfreeze:      {map[string]any{}, "Unfreeze"},
	action.TypeVerifyLocator: {map[string]any{"prompt": "login", "point": []any{1, 2}}, "VerifyLocator"},
}

func pendingStep(t *testing.T, tag action.Type) types.Step {
	t.Helper()
	r, ok := routes[tag]
	require.True(t, ok, "no route sample for %s", tag)
	raw := map[string]any{"type": string(tag)}
	for k, v := range r.raw {
		raw[k] = v
	}
	a, err := action.Validate(raw)
	require.NoError(t, err)
	return types.NewStep(0, a, action.FormatCode(a))
}

func TestEveryActionTypeIsRouted(t *testing.T) {
	for _, tag := range action.AllTypes() {
		t.Run(string(tag), func(t *testing.T) {
			f := automationtest.NewFactory()
			d := automation.NewDispatcher(f)

			out := d.ExecuteStep(context.Background(), pendingStep(t, tag))

			assert.Equal(t, types.StepSuccess, out.Status, out.Error)
			assert.Equal(t, []string{routes[tag].method}, f.Methods())
		})
	}
}

func TestExecuteStepUsesFreshDriverPerStep(t *testing.T) {
	f := automationtest.NewFactory()
	d := automation.NewDispatcher(f)
	ctx := context.Background()

	d.ExecuteStep(ctx, pendingStep(t, action.TypeTap))
	d.ExecuteStep(ctx, pendingStep(t, action.TypeHover))

	drivers := f.Drivers()
	require.Len(t, drivers, 2)
	assert.NotSame(t, drivers[0], drivers[1])
	for _, drv := range drivers {
		assert.True(t, drv.Destroyed())
		assert.Len(t, drv.Calls(), 1)
	}
	assert.False(t, d.IsReady())
}

func TestExecuteStepIsReadyOnlyDuringStep(t *testing.T) {
	f := automationtest.NewFactory()
	d := automation.NewDispatcher(f)
	var during bool
	f.Hook = func(*automationtest.Driver, string) error {
		during = d.IsReady()
		return nil
	}

	assert.False(t, d.IsReady())
	d.ExecuteStep(context.Background(), pendingStep(t, action.TypeTap))
	assert.True(t, during)
	assert.False(t, d.IsReady())
}

func TestExecuteStepReturnsResult(t *testing.T) {
	f := automationtest.NewFactory()
	f.Results["Query"] = map[string]any{"items": []any{"a", "b"}}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := automation.NewDispatcher(f, automation.WithDispatcherClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	in := pendingStep(t, action.TypeQuery)
	out := d.ExecuteStep(context.Background(), in)

	require.Equal(t, types.StepSuccess, out.Status)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, out.Result)
	assert.Equal(t, time.Second, out.Duration())
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, types.StepPending, in.Status, "input step must not change")
}

func TestExecuteStepBackendFailure(t *testing.T) {
	f := automationtest.NewFactory()
	f.Errors["Tap"] = errors.New("element not found")
	d := automation.NewDispatcher(f)

	out := d.ExecuteStep(context.Background(), pendingStep(t, action.TypeTap))

	assert.Equal(t, types.StepFailed, out.Status)
	assert.Equal(t, "element not found", out.Error)
	require.NotNil(t, out.EndedAt)
	assert.True(t, f.Drivers()[0].Destroyed())
}

func TestExecuteStepRecoversPanic(t *testing.T) {
	f := automationtest.NewFactory()
	f.PanicOn = "Assert"
	d := automation.NewDispatcher(f)

	var out types.Step
	require.NotPanics(t, func() {
		out = d.ExecuteStep(context.Background(), pendingStep(t, action.TypeAssert))
	})
	assert.Equal(t, types.StepFailed, out.Status)
	assert.Contains(t, out.Error, "Assert exploded")
	assert.False(t, d.IsReady())
}

func TestExecuteStepDriverCreationFailure(t *testing.T) {
	f := automationtest.NewFactory()
	f.CreateErr = errors.New("no browser")
	d := automation.NewDispatcher(f)

	out := d.ExecuteStep(context.Background(), pendingStep(t, action.TypeTap))

	assert.Equal(t, types.StepFailed, out.Status)
	assert.Contains(t, out.Error, "no browser")
	assert.False(t, d.IsReady())
}

func TestExecuteStepAppliesStepTimeout(t *testing.T) {
	f := automationtest.NewFactory()
	var deadline time.Time
	var hasDeadline bool
	factory := automation.DriverFactoryFunc(func(ctx context.Context) (automation.Driver, error) {
		deadline, hasDeadline = ctx.Deadline()
		return f.NewDriver(ctx)
	})

	start := time.Now()
	d := automation.NewDispatcher(factory, automation.WithStepTimeout(time.Minute))
	out := d.ExecuteStep(context.Background(), pendingStep(t, action.TypeTap))

	assert.Equal(t, types.StepSuccess, out.Status)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(time.Minute), deadline, 5*time.Second)
}

func TestExecuteStepRejectsFinishedStep(t *testing.T) {
	d := automation.NewDispatcher(automationtest.NewFactory())
	s := pendingStep(t, action.TypeTap)
	now := time.Now()
	require.NoError(t, s.Start(now))
	require.NoError(t, s.Succeed(now, nil))

	out := d.ExecuteStep(context.Background(), s)
	assert.Equal(t, types.StepFailed, out.Status)
	assert.NotEmpty(t, out.Error)
}

func TestOptionsFor(t *testing.T) {
	a, err := action.Validate(map[string]any{
		"type":      "aiWaitFor",
		"condition": "ready",
		"options":   map[string]any{"timeoutMs": 2500, "checkIntervalMs": 500},
	})
	require.NoError(t, err)
	o := automation.OptionsFor(a)
	require.NotNil(t, o.Timeout)
	assert.Equal(t, 2500*time.Millisecond, *o.Timeout)
	assert.Equal(t, 500*time.Millisecond, automation.DurationOr(o.CheckInterval, 0))

	a, err = action.Validate(map[string]any{
		"type":    "aiTap",
		"locate":  "ok",
		"options": map[string]any{"deepThink": true},
	})
	require.NoError(t, err)
	o = automation.OptionsFor(a)
	assert.True(t, automation.Flag(o.DeepThink, false))
	assert.Nil(t, o.Cacheable)

	o = automation.OptionsFor(action.FreezeAction{})
	assert.Equal(t, automation.Options{}, o)
}

func TestOptionsForSaturatesLongTimeouts(t *testing.T) {
	a, err := action.Validate(map[string]any{"type": "aiAssert", "condition": "x", "timeoutMs": 1e300})
	require.NoError(t, err)
	o := automation.OptionsFor(a)
	require.NotNil(t, o.Timeout)
	assert.Equal(t, time.Duration(math.MaxInt64), *o.Timeout)

	a, err = action.Validate(map[string]any{
		"type":      "aiWaitFor",
		"condition": "ready",
		"options":   map[string]any{"timeoutMs": 1e19, "checkIntervalMs": 1.5},
	})
	require.NoError(t, err)
	o = automation.OptionsFor(a)
	assert.Equal(t, time.Duration(math.MaxInt64), automation.DurationOr(o.Timeout, 0))
	assert.Equal(t, 1500*time.Microsecond, automation.DurationOr(o.CheckInterval, 0))
}

func TestOptionsForRetryLimit(t *testing.T) {
	a, err := action.Validate(map[string]any{
		"type":    "describeElementAtPoint",
		"point":   []any{10, 20},
		"options": map[string]any{"retryLimit": 3},
	})
	require.NoError(t, err)
	o := automation.OptionsFor(a)
	require.NotNil(t, o.RetryLimit)
	assert.Equal(t, 3, *o.RetryLimit)

	// hand-built options skip validation and are rounded
	retry := 2.7
	o = automation.OptionsFor(action.DescribePointAction{Point: action.Point{X: 10, Y: 20}, Options: &action.DescribeOptions{RetryLimit: &retry}})
	require.NotNil(t, o.RetryLimit)
	assert.Equal(t, 3, *o.RetryLimit)
}

func TestCloseIsIdempotent(t *testing.T) {
	d := automation.NewDispatcher(automationtest.NewFactory())
	assert.NotPanics(t, func() {
		d.Close()
		d.Close()
	})
	assert.False(t, d.IsReady())
}
