package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/lance13c/casepilot/internal/action"
)

// ErrUnroutable is returned for an action type with no backend operation
var ErrUnroutable = errors.New("no backend operation for action")

// Invoke runs one action on d and returns its result payload.
// Every action type has exactly one case here.
func Invoke(ctx context.Context, d Driver, a action.Action, opts Options) (any, error) {
	switch v := a.(type) {
	case action.PlanAction:
		return d.Plan(ctx, v.Prompt, opts)
	case action.TapAction:
		return nil, d.Tap(ctx, v.Locate, opts)
	case action.InputAction:
		return nil, d.Input(ctx, v.Text, v.Locate, opts)
	case action.HoverAction:
		return nil, d.Hover(ctx, v.Locate, opts)
	case action.KeyPressAction:
		return nil, d.KeyPress(ctx, v.Key, v.Locate, opts)
	case action.ScrollAction:
		return nil, d.Scroll(ctx, v.Scroll, v.Locate, opts)
	case action.RightClickAction:
		return nil, d.RightClick(ctx, v.Locate, opts)
	case action.DoubleClickAction:
		return nil, d.DoubleClick(ctx, v.Locate, opts)
	case action.LocateAction:
		return d.Locate(ctx, v.Locate, opts)
	case action.WaitForAction:
		return nil, d.WaitFor(ctx, v.Condition, opts)
	case action.AssertAction:
		return nil, d.Assert(ctx, v.Condition, v.ErrorMessage, opts)
	case action.QueryAction:
		return d.Query(ctx, v.Demand, opts)
	case action.ExtractAction:
		return extract(ctx, d, v, opts)
	case action.RunScriptAction:
		return d.RunScript(ctx, v.Script)
	case action.SetContextAction:
		d.SetContext(v.Context)
		return nil, nil
	case action.EvaluateAction:
		return d.Evaluate(ctx, v.Script)
	case action.DescribePointAction:
		return d.DescribePoint(ctx, v.Point, opts)
	case action.LogScreenshotAction:
		return d.LogScreenshot(ctx, v.Title, opts)
	case action.FreezeAction:
		return nil, d.Freeze(ctx)
	case action.UnfreezeAction:
		return nil, d.Unfreeze(ctx)
	case action.VerifyLocatorAction:
		return d.VerifyLocator(ctx, v.Prompt, v.Point, opts)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnroutable, a)
	}
}

func extract(ctx context.Context, d Driver, a action.ExtractAction, opts Options) (any, error) {
	switch a.Kind {
	case action.TypeAsk:
		return d.Ask(ctx, a.Prompt, opts)
	case action.TypeBoolean:
		return d.Boolean(ctx, a.Prompt, opts)
	case action.TypeNumber:
		return d.Number(ctx, a.Prompt, opts)
	case action.TypeString:
		return d.String(ctx, a.Prompt, opts)
	default:
		return nil, fmt.Errorf("%w: extraction kind %q", ErrUnroutable, a.Kind)
	}
}
