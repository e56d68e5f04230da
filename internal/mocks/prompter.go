package mocks

import (
	"fmt"
	"sync"
)

// MockUserInteraction answers prompts from canned responses keyed by label.
type MockUserInteraction struct {
	mu sync.Mutex

	SelectResponses map[string]int
	InputResponses  map[string]string
	Errors          map[string]error
	CallLog         []string
}

// NewMockUserInteraction creates an empty mock
func NewMockUserInteraction() *MockUserInteraction {
	return &MockUserInteraction{
		SelectResponses: make(map[string]int),
		InputResponses:  make(map[string]string),
		Errors:          make(map[string]error),
		CallLog:         make([]string, 0),
	}
}

func (m *MockUserInteraction) Select(label string, items []string, cursor int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("Select: %s (%d items)", label, len(items)))

	if err, exists := m.Errors[label]; exists {
		return -1, err
	}
	if idx, exists := m.SelectResponses[label]; exists {
		return idx, nil
	}
	return cursor, nil
}

// Input runs validate on the canned answer like the real prompt does before
// accepting it.
func (m *MockUserInteraction) Input(label, defaultValue string, validate func(string) error) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Input: "+label)

	if err, exists := m.Errors[label]; exists {
		return "", err
	}
	answer, exists := m.InputResponses[label]
	if !exists {
		answer = defaultValue
	}
	if validate != nil {
		if err := validate(answer); err != nil {
			return "", err
		}
	}
	return answer, nil
}
