package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lance13c/casepilot/internal/action"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

// StepStatus is the execution status of a step
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// IsTerminal reports whether the status ends a step's run
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Step is an action plus its execution state. Action and Code never change
// after creation; only status, timestamps, result and error do.
type Step struct {
	ID          string        `json:"id"`
	Index       int           `json:"index"`
	Description string        `json:"description"`
	Action      action.Action `json:"-"`
	Code        string        `json:"code"`
	Status      StepStatus    `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Result      any           `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// NewStep creates a pending step for an action
func NewStep(index int, a action.Action, code string) Step {
	return Step{
		ID:          uuid.NewString(),
		Index:       index,
		Description: a.Describe(),
		Action:      a,
		Code:        code,
		Status:      StepPending,
	}
}

// StepsFromSequence creates one pending step per action of seq
func StepsFromSequence(seq *action.Sequence) ([]Step, error) {
	if err := seq.Check(); err != nil {
		return nil, err
	}
	steps := make([]Step, len(seq.Actions))
	for i, a := range seq.Actions {
		steps[i] = NewStep(i, a, seq.Display.Code[i])
	}
	return steps, nil
}

func (s *Step) transition(to StepStatus, allowed ...StepStatus) error {
	for _, from := range allowed {
		if s.Status == from {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: step %s cannot go from %s to %s", ErrInvalidTransition, s.ID, s.Status, to)
}

// Start moves a pending step to running
func (s *Step) Start(now time.Time) error {
	if err := s.transition(StepRunning, StepPending); err != nil {
		return err
	}
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	return nil
}

// Succeed moves a running step to success with its result
func (s *Step) Succeed(now time.Time, result any) error {
	if err := s.transition(StepSuccess, StepRunning); err != nil {
		return err
	}
	s.Result = result
	s.Error = ""
	if s.EndedAt == nil {
		s.EndedAt = &now
	}
	return nil
}

// Fail moves a running step to failed. A failed step always carries an error message.
func (s *Step) Fail(now time.Time, message string) error {
	if err := s.transition(StepFailed, StepRunning); err != nil {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	s.Error = message
	if s.EndedAt == nil {
		s.EndedAt = &now
	}
	return nil
}

// Skip marks a successful step as skipped. Skipping is always a manual decision.
func (s *Step) Skip() error {
	return s.transition(StepSkipped, StepSuccess)
}

// Requeue returns a pending or failed step to pending for a rerun. The ID and
// action are kept; the action is trusted as already validated.
func (s *Step) Requeue() error {
	if err := s.transition(StepPending, StepPending, StepFailed); err != nil {
		return err
	}
	s.StartedAt = nil
	s.EndedAt = nil
	s.Result = nil
	s.Error = ""
	return nil
}

// Duration returns how long the step ran, or zero if it has not finished
func (s Step) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// Clone returns a copy that shares no mutable state with s
func (s Step) Clone() Step {
	out := s
	out.Action = action.Clone(s.Action)
	out.StartedAt = cloneTime(s.StartedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	out.Result = CloneValue(s.Result)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// CloneValue deep-copies the map and slice shapes a step result can take
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}
