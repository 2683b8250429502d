package temporal

import "context"

// JobState is the coarse state of a graph job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobUnknown   JobState = "unknown"
)

// JobStatus describes one BuildGraphWorkflow execution.
type JobStatus struct {
	WorkflowID string                    `json:"workflow_id"`
	RunID      string                    `json:"run_id"`
	Status     JobState                  `json:"status"`
	Result     *BuildGraphWorkflowResult `json:"result,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// JobRunner starts and inspects graph jobs.
// Each job is one BuildGraphWorkflow execution.
type JobRunner interface {
	// StartBuildGraph starts a job and returns immediately.
	StartBuildGraph(ctx context.Context, input BuildGraphInput) (*JobStatus, error)

	// GetBuildGraph returns the current state of a job.
	GetBuildGraph(ctx context.Context, workflowID string) (*JobStatus, error)
}
