package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/lance13c/casepilot/internal/action"
)

// CaseStatus is the aggregate status of a test case
type CaseStatus string

const (
	CaseCreated   CaseStatus = "created"
	CaseRunning   CaseStatus = "running"
	CaseCompleted CaseStatus = "completed"
	CaseFailed    CaseStatus = "failed"
	CaseStopped   CaseStatus = "stopped"
)

// IsTerminal reports whether the case has finished a run
func (s CaseStatus) IsTerminal() bool {
	return s == CaseCompleted || s == CaseFailed || s == CaseStopped
}

// Case is an ordered list of steps plus where they came from
type Case struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Request string `json:"request"`

	// Code and Sequence are alternative sources; at most one is set before parsing
	Code     string           `json:"code,omitempty"`
	Sequence *action.Sequence `json:"sequence,omitempty"`

	Steps     []Step     `json:"steps"`
	Status    CaseStatus `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NewCase creates an empty case in the created state
func NewCase(name, request string) *Case {
	return &Case{
		ID:      uuid.NewString(),
		Name:    name,
		Request: request,
		Status:  CaseCreated,
	}
}

// NewCaseFromCode creates a case that will be parsed from raw source code
func NewCaseFromCode(name, request, code string) *Case {
	c := NewCase(name, request)
	c.Code = code
	return c
}

// NewCaseFromSequence creates a case that will be parsed from a validated sequence
func NewCaseFromSequence(name, request string, seq *action.Sequence) *Case {
	c := NewCase(name, request)
	c.Sequence = seq
	return c
}

// Step returns a pointer to the step with the given ID
func (c *Case) Step(id string) (*Step, bool) {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i], true
		}
	}
	return nil, false
}

// Counts tallies steps by status
func (c Case) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int)
	for _, s := range c.Steps {
		counts[s.Status]++
	}
	return counts
}

// Duration returns how long the last run took, or zero while unfinished
func (c Case) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// Clone returns a deep copy of the case
func (c Case) Clone() Case {
	out := c
	out.Sequence = c.Sequence.Clone()
	out.StartedAt = cloneTime(c.StartedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	if c.Steps != nil {
		out.Steps = make([]Step, len(c.Steps))
		for i, s := range c.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	return out
}
