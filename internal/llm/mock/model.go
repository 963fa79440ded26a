// Package mock provides a scripted llm.Model for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/joseph-ayodele/parts-intake/internal/llm"
)

// Model is a test double for llm.Model. GenerateFunc, when set, handles every call;
// otherwise Responses is consulted by task, in order.
type Model struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)
	Responses    map[llm.Task][]string

	mu       sync.Mutex
	requests []llm.Request
}

func NewModel() *Model {
	return &Model{Responses: map[llm.Task][]string{}}
}

// WithResponses queues canned responses for a task.
func (m *Model) WithResponses(task llm.Task, responses ...string) *Model {
	m.Responses[task] = append(m.Responses[task], responses...)
	return m
}

func (m *Model) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.GenerateFunc != nil {
		m.mu.Unlock()
		return m.GenerateFunc(ctx, req)
	}
	defer m.mu.Unlock()

	queue := m.Responses[req.Task]
	if len(queue) == 0 {
		return "", fmt.Errorf("mock: no response queued for task %q", req.Task)
	}
	m.Responses[req.Task] = queue[1:]
	return queue[0], nil
}

// CallCount returns the number of Generate calls.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request seen.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallsFor counts calls made for one task.
func (m *Model) CallsFor(task llm.Task) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Task == task {
			n++
		}
	}
	return n
}
