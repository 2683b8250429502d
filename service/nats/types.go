package nats

import (
	"time"

	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/shopspring/decimal"
)

// topCounterparties is how many counterparties an event summarizes.
const topCounterparties = 5

// GraphBuiltEvent represents a finished graph query published to NATS.
// This is published to the subject "graphs.{address}" in JetStream.
type GraphBuiltEvent struct {
	// Query identifiers
	QueryID string `json:"query_id"`
	Address string `json:"address"`

	// Query outcome
	WindowDays int    `json:"window_days"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Truncated  bool   `json:"truncated"`

	// Graph totals
	TransactionCount  int                   `json:"transaction_count"`
	Counterparties    int                   `json:"counterparties"`
	ExchangeCount     int                   `json:"exchange_count"`
	TotalSent         decimal.Decimal       `json:"total_sent"`
	TotalReceived     decimal.Decimal       `json:"total_received"`
	NetFlow           decimal.Decimal       `json:"net_flow"`
	TopCounterparties []CounterpartySummary `json:"top_counterparties"`

	// Timing information
	CompletedAt time.Time `json:"completed_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// CounterpartySummary is the short form of a counterparty node.
type CounterpartySummary struct {
	Address          string          `json:"address"`
	Label            string          `json:"label"`
	IsExchange       bool            `json:"is_exchange"`
	TransactionCount int             `json:"transaction_count"`
	NetFlow          decimal.Decimal `json:"net_flow"`
}

// Subject returns the subject events for address are published to.
func Subject(address string) string {
	return SubjectPrefix + address
}

// FromResult converts a pipeline result to a GraphBuiltEvent for publishing.
func FromResult(res *pipeline.Result) *GraphBuiltEvent {
	event := &GraphBuiltEvent{
		QueryID:           res.QueryID,
		Address:           res.Address,
		WindowDays:        res.WindowDays,
		Status:            string(res.Status),
		Message:           res.Message,
		Truncated:         res.Truncated,
		TransactionCount:  res.TransactionCount,
		TopCounterparties: []CounterpartySummary{},
		CompletedAt:       res.CompletedAt,
		PublishedAt:       time.Now().UTC(),
	}
	if res.Graph == nil {
		return event
	}

	st := res.Graph.Stats
	event.Counterparties = st.TotalCounterparties
	event.ExchangeCount = st.ExchangeCount
	event.TotalSent = st.TotalSent
	event.TotalReceived = st.TotalReceived
	event.NetFlow = st.NetFlow

	for _, n := range graph.TopCounterparties(res.Graph, topCounterparties) {
		event.TopCounterparties = append(event.TopCounterparties, CounterpartySummary{
			Address:          n.Address,
			Label:            n.Label,
			IsExchange:       n.IsExchange,
			TransactionCount: n.Stats.TransactionCount,
			NetFlow:          n.Stats.NetFlow,
		})
	}
	return event
}
