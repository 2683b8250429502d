package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/walletgraph/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// BuildGraphWorkflowResult contains the graph and which sinks received it.
type BuildGraphWorkflowResult struct {
	Result    *pipeline.Result `json:"result"`
	Recorded  bool             `json:"recorded"`
	Published bool             `json:"published"`
	Exported  bool             `json:"exported"`
}

// BuildGraphWorkflow builds a wallet's counterparty graph and delivers it.
//
// The workflow performs these steps:
// 1. Build the graph (BuildGraph activity)
// 2. Record the query in Postgres (RecordQuery activity)
// 3. Publish a graph event to NATS (PublishGraph activity)
// 4. Export the graph to Neo4j when it has counterparties (ExportGraph activity)
//
// Only step 1 can fail the workflow. Sink failures are logged and reported in
// the result.
func BuildGraphWorkflow(ctx workflow.Context, input BuildGraphInput) (*BuildGraphWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BuildGraphWorkflow started", "address", input.Address, "window_days", input.WindowDays)

	buildCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var res *pipeline.Result
	if err := workflow.ExecuteActivity(buildCtx, a.BuildGraph, input).Get(ctx, &res); err != nil {
		logger.Error("failed to build graph", "address", input.Address, "error", err)
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	result := &BuildGraphWorkflowResult{Result: res}

	sinkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var recorded *SinkResult
	if err := workflow.ExecuteActivity(sinkCtx, a.RecordQuery, res).Get(ctx, &recorded); err != nil {
		logger.Warn("failed to record query", "query_id", res.QueryID, "error", err)
	} else {
		result.Recorded = recorded.Delivered
	}

	var published *SinkResult
	if err := workflow.ExecuteActivity(sinkCtx, a.PublishGraph, res).Get(ctx, &published); err != nil {
		logger.Warn("failed to publish graph", "query_id", res.QueryID, "error", err)
	} else {
		result.Published = published.Delivered
	}

	if res.Status == pipeline.StatusOK {
		var exported *SinkResult
		if err := workflow.ExecuteActivity(sinkCtx, a.ExportGraph, res).Get(ctx, &exported); err != nil {
			logger.Warn("failed to export graph", "query_id", res.QueryID, "error", err)
		} else {
			result.Exported = exported.Delivered
		}
	}

	logger.Info("BuildGraphWorkflow completed",
		"address", input.Address,
		"query_id", res.QueryID,
		"status", res.Status,
		"recorded", result.Recorded,
		"published", result.Published,
		"exported", result.Exported,
	)

	return result, nil
}
