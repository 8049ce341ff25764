// Package automationtest provides an in-memory driver backend for tests.
package automationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation"
)

// Call is one recorded driver method invocation
type Call struct {
	Method string
	Args   []any
}

// Factory creates fake drivers and keeps every one it made
type Factory struct {
	mu      sync.Mutex
	drivers []*Driver

	// Results maps a driver method name to the value it returns
	Results map[string]any
	// Errors maps a driver method name to the error it returns
	Errors map[string]error
	// PanicOn names a method that panics when called
	PanicOn string
	// CreateErr makes NewDriver fail
	CreateErr error
	// Hook runs on every call before the configured result is returned.
	// A non-nil error replaces the result.
	Hook func(d *Driver, method string) error
}

// NewFactory returns an empty factory
func NewFactory() *Factory {
	return &Factory{
		Results: map[string]any{},
		Errors:  map[string]error{},
	}
}

// NewDriver implements automation.DriverFactory
func (f *Factory) NewDriver(ctx context.Context) (automation.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	d := &Driver{ID: len(f.drivers) + 1, factory: f}
	f.drivers = append(f.drivers, d)
	return d, nil
}

// Drivers returns every driver created so far, oldest first
func (f *Factory) Drivers() []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Driver(nil), f.drivers...)
}

// Methods returns the method names called across all drivers, in order
func (f *Factory) Methods() []string {
	var out []string
	for _, d := range f.Drivers() {
		for _, c := range d.Calls() {
			out = append(out, c.Method)
		}
	}
	return out
}

func (f *Factory) outcome(method string) (any, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Results[method], f.Errors[method], f.PanicOn == method
}

// Driver records calls and answers from its factory's tables
type Driver struct {
	ID      int
	factory *Factory

	mu        sync.Mutex
	calls     []Call
	destroyed bool
	aiContext string
}

// Calls returns the calls made on this driver
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Destroyed reports whether Destroy was called
func (d *Driver) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// AIContext returns the text stored by SetContext
func (d *Driver) AIContext() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aiContext
}

func (d *Driver) call(method string, args ...any) (any, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, fmt.Errorf("driver %d used after destroy", d.ID)
	}
	d.calls = append(d.calls, Call{Method: method, Args: args})
	d.mu.Unlock()

	result, err, panics := d.factory.outcome(method)
	if panics {
		panic(method + " exploded")
	}
	if hook := d.factory.Hook; hook != nil {
		if herr := hook(d, method); herr != nil {
			return nil, herr
		}
	}
	return result, err
}

func (d *Driver) Tap(ctx context.Context, locate string, opts automation.Options) error {
	_, err := d.call("Tap", locate, opts)
	return err
}

func (d *Driver) Input(ctx context.Context, text, locate string, opts automation.Options) error {
	_, err := d.call("Input", text, locate, opts)
	return err
}

func (d *Driver) Hover(ctx context.Context, locate string, opts automation.Options) error {
	_, err := d.call("Hover", locate, opts)
	return err
}

func (d *Driver) KeyPress(ctx context.Context, key, locate string, opts automation.Options) error {
	_, err := d.call("KeyPress", key, locate, opts)
	return err
}

func (d *Driver) Scroll(ctx context.Context, scroll action.Scroll, locate string, opts automation.Options) error {
	_, err := d.call("Scroll", scroll, locate, opts)
	return err
}

func (d *Driver) RightClick(ctx context.Context, locate string, opts automation.Options) error {
	_, err := d.call("RightClick", locate, opts)
	return err
}

func (d *Driver) DoubleClick(ctx context.Context, locate string, opts automation.Options) error {
	_, err := d.call("DoubleClick", locate, opts)
	return err
}

func (d *Driver) Locate(ctx context.Context, locate string, opts automation.Options) (automation.Element, error) {
	v, err := d.call("Locate", locate, opts)
	el, _ := v.(automation.Element)
	return el, err
}

func (d *Driver) Plan(ctx context.Context, prompt string, opts automation.Options) (any, error) {
	return d.call("Plan", prompt, opts)
}

func (d *Driver) Query(ctx context.Context, demand action.Demand, opts automation.Options) (any, error) {
	return d.call("Query", demand, opts)
}

func (d *Driver) Ask(ctx context.Context, prompt string, opts automation.Options) (string, error) {
	v, err := d.call("Ask", prompt, opts)
	s, _ := v.(string)
	return s, err
}

func (d *Driver) Boolean(ctx context.Context, prompt string, opts automation.Options) (bool, error) {
	v, err := d.call("Boolean", prompt, opts)
	b, _ := v.(bool)
	return b, err
}

func (d *Driver) Number(ctx context.Context, prompt string, opts automation.Options) (float64, error) {
	v, err := d.call("Number", prompt, opts)
	n, _ := v.(float64)
	return n, err
}

func (d *Driver) String(ctx context.Context, prompt string, opts automation.Options) (string, error) {
	v, err := d.call("String", prompt, opts)
	s, _ := v.(string)
	return s, err
}

func (d *Driver) Assert(ctx context.Context, condition, errorMessage string, opts automation.Options) error {
	_, err := d.call("Assert", condition, errorMessage, opts)
	return err
}

func (d *Driver) WaitFor(ctx context.Context, condition string, opts automation.Options) error {
	_, err := d.call("WaitFor", condition, opts)
	return err
}

func (d *Driver) DescribePoint(ctx context.Context, point action.Point, opts automation.Options) (string, error) {
	v, err := d.call("DescribePoint", point, opts)
	s, _ := v.(string)
	return s, err
}

func (d *Driver) VerifyLocator(ctx context.Context, prompt string, point action.Point, opts automation.Options) (automation.VerifyResult, error) {
	v, err := d.call("VerifyLocator", prompt, point, opts)
	r, _ := v.(automation.VerifyResult)
	return r, err
}

func (d *Driver) RunScript(ctx context.Context, script string) (any, error) {
	return d.call("RunScript", script)
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	return d.call("Evaluate", script)
}

func (d *Driver) SetContext(text string) {
	d.call("SetContext", text)
	d.mu.Lock()
	d.aiContext = text
	d.mu.Unlock()
}

func (d *Driver) LogScreenshot(ctx context.Context, title string, opts automation.Options) (string, error) {
	v, err := d.call("LogScreenshot", title, opts)
	s, _ := v.(string)
	return s, err
}

func (d *Driver) Freeze(ctx context.Context) error {
	_, err := d.call("Freeze")
	return err
}

func (d *Driver) Unfreeze(ctx context.Context) error {
	_, err := d.call("Unfreeze")
	return err
}

func (d *Driver) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	return nil
}
