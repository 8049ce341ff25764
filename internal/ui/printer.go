package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

// Printer writes one plain line per orchestrator event, for pipes and CI logs
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	total int
}

// NewPrinter creates a printer that writes to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Attach subscribes the printer to every event of o
func (p *Printer) Attach(o *runner.Orchestrator) {
	for _, name := range runner.EventNames() {
		o.On(name, p.Handle)
	}
}

// Handle prints a single event
func (p *Printer) Handle(ev runner.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Name {
	case runner.EventCaseParsed:
		p.total = len(ev.Case.Steps)
		fmt.Fprintf(p.w, "%s: parsed %d step(s)\n", ev.Case.Name, p.total)
	case runner.EventCaseStatusChanged:
		if ev.Case.Status == types.CaseFailed && ev.Case.Steps == nil {
			fmt.Fprintf(p.w, "%s: parse failed: %s\n", ev.Case.Name, ev.Case.Error)
			return
		}
		fmt.Fprintf(p.w, "%s: %s\n", ev.Case.Name, ev.Case.Status)
	case runner.EventStepStarted:
		fmt.Fprintf(p.w, "  %s %s\n", Icon(types.StepRunning), stepLabel(*ev.Step, p.total))
	case runner.EventStepCompleted:
		s := *ev.Step
		line := fmt.Sprintf("  %s %s (%s)", Icon(s.Status), stepLabel(s, p.total), FormatDuration(s.Duration()))
		if s.Status == types.StepFailed {
			line += ": " + firstLine(s.Error)
		}
		fmt.Fprintln(p.w, line)
	case runner.EventCaseExecutionFinished:
		fmt.Fprintf(p.w, "%s: %s\n", ev.Case.Name, Summary(*ev.Case))
	}
}
