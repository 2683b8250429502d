package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of JobRunner that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ JobRunner = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartBuildGraph starts a BuildGraphWorkflow and returns its IDs without
// waiting for it to finish.
func (c *Client) StartBuildGraph(ctx context.Context, input BuildGraphInput) (*JobStatus, error) {
	id := buildGraphWorkflowID(input.Address, uuid.NewString())

	c.logger.Debug("starting build graph workflow",
		"address", input.Address,
		"window_days", input.WindowDays,
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"address":     input.Address,
			"window_days": input.WindowDays,
			"created_by":  "walletgraph",
		},
	}, BuildGraphWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start workflow",
			"address", input.Address,
			"workflow_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("build graph workflow started",
		"address", input.Address,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return &JobStatus{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     JobRunning,
	}, nil
}

// GetBuildGraph reports the state of a BuildGraphWorkflow. Result is set once
// the workflow has completed.
func (c *Client) GetBuildGraph(ctx context.Context, workflowID string) (*JobStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &JobStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     jobStateFromTemporal(info.GetStatus()),
	}

	switch status.Status {
	case JobCompleted:
		var result BuildGraphWorkflowResult
		if err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result %q: %w", workflowID, err)
		}
		status.Result = &result
	case JobFailed:
		var result BuildGraphWorkflowResult
		if err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, &result); err != nil {
			status.Error = err.Error()
		}
	}

	return status, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// buildGraphWorkflowID generates a unique workflow ID for a graph job.
func buildGraphWorkflowID(address, nonce string) string {
	return "build-graph-" + address + "-" + nonce
}

func jobStateFromTemporal(s enumspb.WorkflowExecutionStatus) JobState {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return JobRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return JobCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return JobFailed
	default:
		return JobUnknown
	}
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
