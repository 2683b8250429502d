package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types reported by BuildGraph. None of them are retried.
const (
	ErrTypeInvalidRequest = "InvalidRequest"
	ErrTypeConfig         = "ConfigError"
	ErrTypeUpstream       = "UpstreamError"
)

// BuildGraphInput contains the input parameters for building a wallet graph.
type BuildGraphInput struct {
	Address    string `json:"address"`
	WindowDays int    `json:"window_days"`
	// MinValueUSD overrides the worker's value filter when valid.
	MinValueUSD decimal.NullDecimal `json:"min_value_usd"`
}

// Request converts the input to a pipeline request.
func (in BuildGraphInput) Request() pipeline.Request {
	return pipeline.Request{
		Address:     in.Address,
		WindowDays:  in.WindowDays,
		MinValueUSD: in.MinValueUSD,
	}
}

// SinkResult reports whether a sink activity delivered the result. Delivered
// is false when the sink is not configured.
type SinkResult struct {
	Delivered bool `json:"delivered"`
}

// GraphBuilder runs a graph query without delivering it.
// This allows for easy mocking in tests.
type GraphBuilder interface {
	Build(ctx context.Context, req pipeline.Request, progress func(string)) (*pipeline.Result, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	builder   GraphBuilder
	recorder  pipeline.QueryRecorder
	publisher pipeline.Publisher
	exporter  pipeline.Exporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// Any sink may be nil. If metrics is nil, no metrics will be recorded.
func NewActivities(
	builder GraphBuilder,
	recorder pipeline.QueryRecorder,
	publisher pipeline.Publisher,
	exporter pipeline.Exporter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		builder:   builder,
		recorder:  recorder,
		publisher: publisher,
		exporter:  exporter,
		metrics:   m,
		logger:    logger,
	}
}

// BuildGraph fetches, resolves and aggregates the wallet's window. Progress
// messages are recorded as heartbeat details.
func (a *Activities) BuildGraph(ctx context.Context, input BuildGraphInput) (res *pipeline.Result, err error) {
	start := time.Now()
	defer func() { a.record("BuildGraph", start, err) }()

	a.logger.DebugContext(ctx, "building graph",
		"address", input.Address,
		"window_days", input.WindowDays,
	)

	res, err = a.builder.Build(ctx, input.Request(), func(msg string) {
		activity.RecordHeartbeat(ctx, msg)
		a.logger.DebugContext(ctx, "build progress", "address", input.Address, "message", msg)
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to build graph",
			"address", input.Address,
			"error", err,
		)
		return nil, classifyBuildError(err)
	}

	a.logger.InfoContext(ctx, "built graph",
		"address", input.Address,
		"query_id", res.QueryID,
		"status", res.Status,
		"transactions", res.TransactionCount,
	)
	return res, nil
}

// RecordQuery writes the result to the query log.
func (a *Activities) RecordQuery(ctx context.Context, res *pipeline.Result) (sr *SinkResult, err error) {
	start := time.Now()
	defer func() { a.record("RecordQuery", start, err) }()

	if a.recorder == nil {
		return &SinkResult{}, nil
	}
	if err := a.recorder.RecordQuery(ctx, res); err != nil {
		a.logger.ErrorContext(ctx, "failed to record query", "query_id", res.QueryID, "error", err)
		return nil, fmt.Errorf("failed to record query: %w", err)
	}
	return &SinkResult{Delivered: true}, nil
}

// PublishGraph announces the result on NATS.
func (a *Activities) PublishGraph(ctx context.Context, res *pipeline.Result) (sr *SinkResult, err error) {
	start := time.Now()
	defer func() { a.record("PublishGraph", start, err) }()

	if a.publisher == nil {
		return &SinkResult{}, nil
	}
	if err := a.publisher.PublishGraph(ctx, res); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish graph", "query_id", res.QueryID, "error", err)
		return nil, fmt.Errorf("failed to publish graph: %w", err)
	}
	return &SinkResult{Delivered: true}, nil
}

// ExportGraph writes the graph to the graph database.
func (a *Activities) ExportGraph(ctx context.Context, res *pipeline.Result) (sr *SinkResult, err error) {
	start := time.Now()
	defer func() { a.record("ExportGraph", start, err) }()

	if a.exporter == nil || res.Graph == nil {
		return &SinkResult{}, nil
	}
	err = a.exporter.ExportGraph(ctx, res.Graph)
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordGraphExport(status)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to export graph", "query_id", res.QueryID, "error", err)
		return nil, fmt.Errorf("failed to export graph: %w", err)
	}
	return &SinkResult{Delivered: true}, nil
}

func (a *Activities) record(name string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, time.Since(start).Seconds(), err)
	}
}

// classifyBuildError marks errors that a retry cannot fix as non-retryable.
func classifyBuildError(err error) error {
	if errors.Is(err, fetcher.ErrEmptyAddress) || errors.Is(err, fetcher.ErrInvalidWindow) {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}

	var cfgErr *helius.ConfigError
	if errors.As(err, &cfgErr) {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeConfig, err)
	}

	var fetchErr *helius.FetchError
	if errors.As(err, &fetchErr) && !fetchErr.Temporary() {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeUpstream, err)
	}

	return err
}
