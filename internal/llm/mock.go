package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoReply is returned by Mock when it has nothing left to say
var ErrNoReply = errors.New("mock model has no scripted reply")

// Mock is a scripted Model for tests and offline runs. Replies are consumed
// in order; when Responder is set it answers instead.
type Mock struct {
	mu        sync.Mutex
	replies   []string
	requests  [][]Message
	Responder func(messages []Message) (string, error)
}

// NewMock creates a mock with the given queued replies
func NewMock(replies ...string) *Mock {
	return &Mock{replies: replies}
}

// Push queues more replies
func (m *Mock) Push(replies ...string) {
	m.mu.Lock()
	m.replies = append(m.replies, replies...)
	m.mu.Unlock()
}

// Requests returns every message list the mock received
func (m *Mock) Requests() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.requests...)
}

// Complete implements Model
func (m *Mock) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, append([]Message(nil), messages...))
	responder := m.Responder
	var reply string
	var ok bool
	if responder == nil && len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
		ok = true
	}
	m.mu.Unlock()

	if responder != nil {
		text, err := responder(messages)
		if err != nil {
			return nil, err
		}
		return &Response{Content: text, Model: "mock"}, nil
	}
	if !ok {
		return nil, ErrNoReply
	}
	return &Response{Content: reply, Model: "mock"}, nil
}
