package agent

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted Generator for tests. Responses are matched by substring
// against the prompt context; the first match wins, in registration order.
type Mock struct {
	mu        sync.Mutex
	keys      []string
	responses map[string]string
	fallback  string
	errs      []error
	calls     int
}

// NewMock creates a mock generator with a default response.
func NewMock(fallback string) *Mock {
	return &Mock{
		responses: make(map[string]string),
		fallback:  fallback,
	}
}

// Respond registers a response returned when the prompt contains key.
func (m *Mock) Respond(key, response string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.responses[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.responses[key] = response
	return m
}

// FailNext queues errors to return before any successful response, one per
// call. Used to exercise retry paths.
func (m *Mock) FailNext(errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// Calls returns how many times Generate has been invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Generate(ctx context.Context, promptContext string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	for _, key := range m.keys {
		if strings.Contains(promptContext, key) {
			return m.responses[key], nil
		}
	}
	return m.fallback, nil
}
