package automation

import (
	"context"

	"github.com/lance13c/casepilot/internal/action"
)

// Element is a located element in viewport coordinates
type Element struct {
	Center   action.Point `json:"center"`
	Rect     Rect         `json:"rect"`
	Selector string       `json:"selector,omitempty"`
	Text     string       `json:"text,omitempty"`
}

// Rect is an element's bounding box
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// VerifyResult reports whether a locator prompt resolves to an expected point
type VerifyResult struct {
	Pass   bool         `json:"pass"`
	Found  action.Point `json:"found"`
	Reason string       `json:"reason,omitempty"`
}

// Driver is the capability set a browser backend exposes for one step.
// A driver is created for a single step and destroyed right after it.
type Driver interface {
	Tap(ctx context.Context, locate string, opts Options) error
	Input(ctx context.Context, text, locate string, opts Options) error
	Hover(ctx context.Context, locate string, opts Options) error
	KeyPress(ctx context.Context, key, locate string, opts Options) error
	Scroll(ctx context.Context, scroll action.Scroll, locate string, opts Options) error
	RightClick(ctx context.Context, locate string, opts Options) error
	DoubleClick(ctx context.Context, locate string, opts Options) error
	Locate(ctx context.Context, locate string, opts Options) (Element, error)

	// Plan carries out a free-form instruction by planning and running actions
	Plan(ctx context.Context, prompt string, opts Options) (any, error)
	Query(ctx context.Context, demand action.Demand, opts Options) (any, error)
	Ask(ctx context.Context, prompt string, opts Options) (string, error)
	Boolean(ctx context.Context, prompt string, opts Options) (bool, error)
	Number(ctx context.Context, prompt string, opts Options) (float64, error)
	String(ctx context.Context, prompt string, opts Options) (string, error)
	Assert(ctx context.Context, condition, errorMessage string, opts Options) error
	WaitFor(ctx context.Context, condition string, opts Options) error

	DescribePoint(ctx context.Context, point action.Point, opts Options) (string, error)
	VerifyLocator(ctx context.Context, prompt string, point action.Point, opts Options) (VerifyResult, error)
	RunScript(ctx context.Context, script string) (any, error)
	Evaluate(ctx context.Context, script string) (any, error)
	// SetContext stores background knowledge locally; it never calls the browser
	SetContext(text string)
	LogScreenshot(ctx context.Context, title string, opts Options) (string, error)
	Freeze(ctx context.Context) error
	Unfreeze(ctx context.Context) error

	Destroy() error
}

// DriverFactory creates a fresh driver bound to the current page
type DriverFactory interface {
	NewDriver(ctx context.Context) (Driver, error)
}

// DriverFactoryFunc adapts a function to DriverFactory
type DriverFactoryFunc func(ctx context.Context) (Driver, error)

// NewDriver calls f
func (f DriverFactoryFunc) NewDriver(ctx context.Context) (Driver, error) {
	return f(ctx)
}
