package temporal

import (
	"context"
	"fmt"
	"sync"
)

// MockJobRunner is a mock implementation of JobRunner for testing.
type MockJobRunner struct {
	mu       sync.Mutex
	jobs     map[string]*JobStatus // map[workflowID]status
	inputs   map[string]BuildGraphInput
	started  int
	startErr error
	getErr   error
}

var _ JobRunner = (*MockJobRunner)(nil)

// NewMockJobRunner creates a new MockJobRunner.
func NewMockJobRunner() *MockJobRunner {
	return &MockJobRunner{
		jobs:   make(map[string]*JobStatus),
		inputs: make(map[string]BuildGraphInput),
	}
}

// StartBuildGraph records a running job with a deterministic ID.
func (m *MockJobRunner) StartBuildGraph(ctx context.Context, input BuildGraphInput) (*JobStatus, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.started++
	id := buildGraphWorkflowID(input.Address, fmt.Sprintf("%d", m.started))
	status := &JobStatus{
		WorkflowID: id,
		RunID:      fmt.Sprintf("run-%d", m.started),
		Status:     JobRunning,
	}
	m.jobs[id] = status
	m.inputs[id] = input

	out := *status
	return &out, nil
}

// GetBuildGraph returns the recorded job.
func (m *MockJobRunner) GetBuildGraph(ctx context.Context, workflowID string) (*JobStatus, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status, exists := m.jobs[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}
	out := *status
	return &out, nil
}

// Complete marks a job as completed with result.
func (m *MockJobRunner) Complete(workflowID string, result *BuildGraphWorkflowResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, exists := m.jobs[workflowID]; exists {
		status.Status = JobCompleted
		status.Result = result
	}
}

// SetStartError makes StartBuildGraph return an error.
func (m *MockJobRunner) SetStartError(err error) {
	m.startErr = err
}

// SetGetError makes GetBuildGraph return an error.
func (m *MockJobRunner) SetGetError(err error) {
	m.getErr = err
}

// StartedInput returns the input a job was started with.
func (m *MockJobRunner) StartedInput(workflowID string) (BuildGraphInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, exists := m.inputs[workflowID]
	return input, exists
}

// JobCount returns the number of started jobs.
func (m *MockJobRunner) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Reset clears all jobs and errors.
func (m *MockJobRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[string]*JobStatus)
	m.inputs = make(map[string]BuildGraphInput)
	m.started = 0
	m.startErr = nil
	m.getErr = nil
}
