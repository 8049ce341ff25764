package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation"
	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/types"
)

var (
	ErrNoCase         = errors.New("no test case given")
	ErrNoDispatcher   = errors.New("no automation dispatcher")
	ErrNotParsed      = errors.New("case has not been parsed")
	ErrAlreadyParsed  = errors.New("case is already parsed")
	ErrAlreadyRunning = errors.New("case is running")
	ErrDestroyed      = errors.New("orchestrator is destroyed")
	ErrStepNotFound   = errors.New("step not found")
	ErrTwoSources     = errors.New("case has both code and an action sequence")
)

// stepRunner is the part of the dispatcher the orchestrator depends on
type stepRunner interface {
	ExecuteStep(ctx context.Context, step types.Step) types.Step
	IsReady() bool
	Close()
}

// Orchestrator drives one case's steps through a dispatcher, in order,
// stopping at the first failure.
type Orchestrator struct {
	mu         sync.Mutex
	tc         types.Case
	dispatcher stepRunner
	parsed     bool
	running    bool
	destroyed  bool

	subs        subscribers
	logger      *logging.Logger
	now         func() time.Time
	stepTimeout time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator and its dispatcher
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock overrides the time source for case and step timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithStepTimeout fails any step that runs longer than timeout
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = timeout
	}
}

// New creates an orchestrator owning a copy of c. Drivers for each step come
// from factory.
func New(c *types.Case, factory automation.DriverFactory, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, ErrNoCase
	}
	if factory == nil {
		return nil, ErrNoDispatcher
	}
	o := &Orchestrator{
		tc:     c.Clone(),
		logger: logging.GetLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.dispatcher = automation.NewDispatcher(factory,
		automation.WithDispatcherLogger(o.logger),
		automation.WithDispatcherClock(o.now),
		automation.WithStepTimeout(o.stepTimeout),
	)
	return o, nil
}

// On registers h for the named event
func (o *Orchestrator) On(name EventName, h Handler) HandlerID {
	return o.subs.add(name, h)
}

// Off removes a handler registered with On
func (o *Orchestrator) Off(name EventName, id HandlerID) {
	o.subs.remove(name, id)
}

func (o *Orchestrator) emitCase(name EventName, snap types.Case) {
	o.subs.emit(o.logger, Event{Name: name, Orchestrator: o, Case: &snap})
}

func (o *Orchestrator) emitStep(name EventName, step types.Step) {
	o.subs.emit(o.logger, Event{Name: name, Orchestrator: o, Step: &step})
}

// Parse turns the case's code or action sequence into pending steps. On a
// validation failure the case is marked failed with the error recorded, no
// steps are kept, and the error is returned.
func (o *Orchestrator) Parse() error {
	o.mu.Lock()
	switch {
	case o.destroyed:
		o.mu.Unlock()
		return ErrDestroyed
	case o.dispatcher == nil:
		o.mu.Unlock()
		return ErrNoDispatcher
	case o.running:
		o.mu.Unlock()
		return ErrAlreadyRunning
	case o.parsed:
		o.mu.Unlock()
		return ErrAlreadyParsed
	}

	steps, err := buildSteps(o.tc.Code, o.tc.Sequence)
	if err != nil {
		o.tc.Steps = nil
		o.tc.Error = err.Error()
		o.tc.Status = types.CaseFailed
		snap := o.tc.Clone()
		o.mu.Unlock()

		o.logger.Warn("Case %s failed to parse: %v", snap.ID, err)
		o.emitCase(EventCaseStatusChanged, snap)
		return err
	}

	o.tc.Steps = steps
	o.tc.Error = ""
	o.tc.Status = types.CaseCreated
	o.parsed = true
	snap := o.tc.Clone()
	o.mu.Unlock()

	o.logger.Info("Case %s parsed into %d steps", snap.ID, len(snap.Steps))
	o.emitCase(EventCaseParsed, snap)
	return nil
}

func buildSteps(code string, seq *action.Sequence) ([]types.Step, error) {
	switch {
	case code != "" && seq != nil:
		return nil, ErrTwoSources
	case code != "":
		parsed, err := action.ParseCode(code)
		if err != nil {
			return nil, err
		}
		return types.StepsFromSequence(parsed)
	case seq != nil:
		if err := seq.Check(); err != nil {
			return nil, err
		}
		// revalidate through the wire form so hand-built sequences get the same checks
		data, err := json.Marshal(seq)
		if err != nil {
			return nil, fmt.Errorf("failed to encode action sequence: %w", err)
		}
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode action sequence: %w", err)
		}
		validated, err := action.ValidateSequence(raw)
		if err != nil {
			return nil, err
		}
		return types.StepsFromSequence(validated)
	default:
		return []types.Step{}, nil
	}
}

// Execute runs pending steps in index order. Steps already successful or
// skipped are passed over; the first failed step ends the run. Step failures
// are reported through the case status, not the returned error.
func (o *Orchestrator) Execute(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.destroyed:
		o.mu.Unlock()
		return ErrDestroyed
	case !o.parsed:
		o.mu.Unlock()
		return ErrNotParsed
	case o.running:
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	start := o.now()
	o.tc.Status = types.CaseRunning
	o.tc.StartedAt = &start
	o.tc.EndedAt = nil
	o.tc.Error = ""
	snap := o.tc.Clone()
	o.mu.Unlock()

	o.logger.Info("Executing case %s (%d steps)", snap.ID, len(snap.Steps))
	o.emitCase(EventCaseStatusChanged, snap)

	failure := o.runSteps(ctx)

	o.mu.Lock()
	o.running = false
	end := o.now()
	o.tc.EndedAt = &end
	changed := false
	if o.tc.Status == types.CaseRunning {
		changed = true
		switch {
		case failure != "":
			o.tc.Status = types.CaseFailed
			o.tc.Error = failure
		case ctx.Err() != nil:
			o.tc.Status = types.CaseStopped
			o.tc.Error = ctx.Err().Error()
		default:
			o.tc.Status = types.CaseCompleted
		}
	}
	snap = o.tc.Clone()
	o.mu.Unlock()

	o.logger.Info("Case %s finished: %s in %s", snap.ID, snap.Status, snap.Duration())
	if changed {
		o.emitCase(EventCaseStatusChanged, snap)
	}
	o.emitCase(EventCaseExecutionFinished, snap)
	return nil
}

// runSteps returns the error text of the step that failed, if any
func (o *Orchestrator) runSteps(ctx context.Context) string {
	for i := 0; ; i++ {
		o.mu.Lock()
		if i >= len(o.tc.Steps) || o.tc.Status != types.CaseRunning || o.destroyed || ctx.Err() != nil {
			o.mu.Unlock()
			return ""
		}
		step := &o.tc.Steps[i]
		switch step.Status {
		case types.StepSuccess, types.StepSkipped:
			o.mu.Unlock()
			continue
		case types.StepFailed:
			msg := stepFailure(*step)
			o.mu.Unlock()
			return msg
		}
		if err := step.Start(o.now()); err != nil {
			o.mu.Unlock()
			return err.Error()
		}
		started := step.Clone()
		o.mu.Unlock()

		o.emitStep(EventStepStarted, started)

		done := o.dispatcher.ExecuteStep(ctx, started)

		o.mu.Lock()
		// Reset is refused while running, so index i still names the same step
		o.tc.Steps[i] = done.Clone()
		o.mu.Unlock()

		o.emitStep(EventStepCompleted, done)

		if done.Status == types.StepFailed {
			return stepFailure(done)
		}
	}
}

func stepFailure(s types.Step) string {
	return fmt.Sprintf("step %d (%s) failed: %s", s.Index+1, s.Description, s.Error)
}

// Stop marks a running case stopped. The step in flight is not interrupted;
// no further steps start once it settles.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.tc.Status != types.CaseRunning {
		o.mu.Unlock()
		return
	}
	o.tc.Status = types.CaseStopped
	snap := o.tc.Clone()
	o.mu.Unlock()

	o.logger.Info("Case %s stopped", snap.ID)
	o.emitCase(EventCaseStatusChanged, snap)
}

// Reset clears the steps and returns the case to created so it can be parsed again
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	switch {
	case o.destroyed:
		o.mu.Unlock()
		return ErrDestroyed
	case o.running:
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.tc.Steps = nil
	o.tc.Status = types.CaseCreated
	o.tc.StartedAt = nil
	o.tc.EndedAt = nil
	o.tc.Error = ""
	o.parsed = false
	snap := o.tc.Clone()
	o.mu.Unlock()

	o.emitCase(EventCaseStatusChanged, snap)
	return nil
}

// Destroy drops all handlers and tears down any live driver. Later calls do nothing.
func (o *Orchestrator) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.mu.Unlock()

	o.subs.clear()
	if o.dispatcher != nil {
		o.dispatcher.Close()
	}
}

// SkipStep marks a successful step as skipped
func (o *Orchestrator) SkipStep(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.destroyed:
		return ErrDestroyed
	case o.running:
		return ErrAlreadyRunning
	}
	step, ok := o.tc.Step(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	return step.Skip()
}

// RequeueStep returns a pending or failed step to pending, keeping its ID and action
func (o *Orchestrator) RequeueStep(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.destroyed:
		return ErrDestroyed
	case o.running:
		return ErrAlreadyRunning
	}
	step, ok := o.tc.Step(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	return step.Requeue()
}

// RerunStep requeues a step and resumes execution from the first pending step
func (o *Orchestrator) RerunStep(ctx context.Context, id string) error {
	if err := o.RequeueStep(id); err != nil {
		return err
	}
	return o.Execute(ctx)
}

// GetTestCase returns a deep copy of the case
func (o *Orchestrator) GetTestCase() types.Case {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tc.Clone()
}

// GetStatus returns the case status
func (o *Orchestrator) GetStatus() types.CaseStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tc.Status
}

// CanExecute reports whether Execute would start a run now
func (o *Orchestrator) CanExecute() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parsed && !o.running && !o.destroyed && o.dispatcher != nil
}

// IsReady reports whether the dispatcher currently holds a live driver
func (o *Orchestrator) IsReady() bool {
	return o.dispatcher.IsReady()
}
