package runner

import (
	"sync"

	"github.com/lance13c/casepilot/internal/logging"
	"github.com/lance13c/casepilot/internal/types"
)

// EventName identifies an orchestrator lifecycle event
type EventName string

const (
	EventCaseStatusChanged     EventName = "case-status-changed"
	EventStepStarted           EventName = "step-started"
	EventStepCompleted         EventName = "step-completed"
	EventCaseParsed            EventName = "case-parsed"
	EventCaseExecutionFinished EventName = "case-execution-finished"
)

// EventNames lists every event in the order a full run emits them first
func EventNames() []EventName {
	return []EventName{
		EventCaseParsed,
		EventCaseStatusChanged,
		EventStepStarted,
		EventStepCompleted,
		EventCaseExecutionFinished,
	}
}

// Event is delivered to handlers. Step is set for step events and Case for
// case events; both are copies owned by the receiver.
type Event struct {
	Name         EventName
	Orchestrator *Orchestrator
	Step         *types.Step
	Case         *types.Case
}

// Handler receives orchestrator events synchronously
type Handler func(Event)

// HandlerID identifies a registered handler for Off
type HandlerID uint64

type subscription struct {
	id      HandlerID
	handler Handler
}

type subscribers struct {
	mu       sync.Mutex
	next     HandlerID
	handlers map[EventName][]subscription
}

func (s *subscribers) add(name EventName, h Handler) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[EventName][]subscription)
	}
	s.next++
	s.handlers[name] = append(s.handlers[name], subscription{id: s.next, handler: h})
	return s.next
}

func (s *subscribers) remove(name EventName, id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.handlers[name]
	for i, sub := range subs {
		if sub.id == id {
			s.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.handlers = nil
	s.mu.Unlock()
}

func (s *subscribers) snapshot(name EventName) []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscription(nil), s.handlers[name]...)
}

// emit calls the handlers for ev.Name in registration order
func (s *subscribers) emit(logger *logging.Logger, ev Event) {
	for _, sub := range s.snapshot(ev.Name) {
		call(logger, sub, ev.copy())
	}
}

func (ev Event) copy() Event {
	if ev.Step != nil {
		s := ev.Step.Clone()
		ev.Step = &s
	}
	if ev.Case != nil {
		c := ev.Case.Clone()
		ev.Case = &c
	}
	return ev
}

func call(logger *logging.Logger, sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler %d for %s panicked: %v", sub.id, ev.Name, r)
		}
	}()
	sub.handler(ev)
}
