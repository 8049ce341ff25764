package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/types"
)

// ErrNoAction is reported for a step that carries no action
var ErrNoAction = errors.New("step has no action")

// Dispatcher runs one step at a time on a freshly created driver.
// ExecuteStep never returns an error; failures are recorded on the step.
type Dispatcher struct {
	factory DriverFactory
	logger  *logging.Logger
	now     func() time.Time
	timeout time.Duration

	mu     sync.Mutex
	driver Driver
	ready  bool
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for step tracing
func WithDispatcherLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDispatcherClock overrides the time source used for step timestamps
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithStepTimeout bounds each step, driver creation included. Zero means no limit.
func WithStepTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a dispatcher that obtains drivers from factory
func NewDispatcher(factory DriverFactory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		factory: factory,
		logger:  logging.GetLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteStep runs step's action and returns the updated step. The input is
// not modified. Success carries the action's result; any failure, including a
// panic in the backend, yields a failed step with a message.
func (d *Dispatcher) ExecuteStep(ctx context.Context, step types.Step) (out types.Step) {
	out = step.Clone()
	if out.Status != types.StepRunning {
		if err := out.Start(d.now()); err != nil {
			return d.reject(out, err)
		}
	}
	if out.Action == nil {
		return d.fail(out, ErrNoAction)
	}

	d.logger.Debug("Executing step %d (%s): %s", out.Index, out.Action.Type(), out.Description)

	// a leftover driver from an interrupted step must not leak into this one
	d.teardown()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	driver, err := d.newDriver(ctx)
	if err != nil {
		return d.fail(out, fmt.Errorf("failed to create driver: %w", err))
	}
	d.mu.Lock()
	d.driver = driver
	d.ready = true
	d.mu.Unlock()
	defer d.teardown()

	result, err := d.invoke(ctx, driver, out)
	if err != nil {
		return d.fail(out, err)
	}
	if err := out.Succeed(d.now(), result); err != nil {
		return d.reject(out, err)
	}
	d.logger.Debug("Step %d succeeded in %s", out.Index, out.Duration())
	return out
}

func (d *Dispatcher) newDriver(ctx context.Context) (driver Driver, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic creating driver: %v", r)
		}
	}()
	driver, err = d.factory.NewDriver(ctx)
	if err == nil && driver == nil {
		err = errors.New("factory returned no driver")
	}
	return driver, err
}

func (d *Dispatcher) invoke(ctx context.Context, driver Driver, step types.Step) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return Invoke(ctx, driver, step.Action, OptionsFor(step.Action))
}

func (d *Dispatcher) fail(step types.Step, err error) types.Step {
	d.logger.Warn("Step %d failed: %v", step.Index, err)
	if ferr := step.Fail(d.now(), err.Error()); ferr != nil {
		return d.reject(step, ferr)
	}
	return step
}

// reject handles a step that was handed over in a state it cannot run from
func (d *Dispatcher) reject(step types.Step, err error) types.Step {
	d.logger.Error("Step %d not executable: %v", step.Index, err)
	step.Status = types.StepFailed
	step.Error = err.Error()
	if step.EndedAt == nil {
		now := d.now()
		step.EndedAt = &now
	}
	return step
}

func (d *Dispatcher) teardown() {
	d.mu.Lock()
	driver := d.driver
	d.driver = nil
	d.ready = false
	d.mu.Unlock()

	if driver == nil {
		return
	}
	if err := destroy(driver); err != nil {
		d.logger.Warn("Failed to destroy driver: %v", err)
	}
}

func destroy(driver Driver) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during destroy: %v", r)
		}
	}()
	return driver.Destroy()
}

// IsReady reports whether a driver is currently live
func (d *Dispatcher) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Close destroys any live driver. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.teardown()
}
