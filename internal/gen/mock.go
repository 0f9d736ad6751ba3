package gen

import (
	"context"
	"strings"
	"sync"
)

func init() {
	RegisterFactory("mock", func(config map[string]any) (Generator, error) {
		m := NewMockGenerator()
		if resp, ok := config["response"].(string); ok {
			m.Default = resp
		}
		return m, nil
	})
}

// MockGenerator is a scripted Generator for tests and local development.
// Responses are matched by prompt substring; unmatched prompts get the
// default response. All prompts are recorded for inspection.
type MockGenerator struct {
	mu sync.Mutex

	// Default is returned when no rule matches.
	Default string

	// Err, when set, is returned from every Generate call.
	Err error

	rules   []mockRule
	prompts []string
}

type mockRule struct {
	match    string
	response string
	err      error
}

// NewMockGenerator creates a mock with a generic default response.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Default: "mock response"}
}

// Name returns the provider name.
func (m *MockGenerator) Name() string {
	return "mock"
}

// Respond registers a response for prompts containing match.
// Later rules override earlier ones.
func (m *MockGenerator) Respond(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{match: match, response: response})
}

// Fail registers an error for prompts containing match.
func (m *MockGenerator) Fail(match string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{match: match, err: err})
}

// Generate returns the most recently registered matching response.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)

	if m.Err != nil {
		return "", m.Err
	}
	for i := len(m.rules) - 1; i >= 0; i-- {
		rule := m.rules[i]
		if strings.Contains(prompt, rule.match) {
			if rule.err != nil {
				return "", rule.err
			}
			return rule.response, nil
		}
	}
	return m.Default, nil
}

// Prompts returns a copy of all prompts seen so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// CallCount returns the number of Generate calls so far.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
