// Package graph folds parsed transfers into a root-centered counterparty
// graph with per-counterparty and global statistics.
package graph

import (
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/shopspring/decimal"
)

// Graph is a star: one root node, one node and one edge per counterparty.
type Graph struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// Node is a wallet in the graph. Stats is nil for the root.
type Node struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	Label         string     `json:"label"`
	IsRoot        bool       `json:"is_root"`
	IsExchange    bool       `json:"is_exchange"`
	ExchangeName  string     `json:"exchange_name,omitempty"`
	ExchangeLabel string     `json:"exchange_label,omitempty"`
	Stats         *NodeStats `json:"stats,omitempty"`
}

// Edge connects the root to one counterparty and carries its stats.
type Edge struct {
	ID               string              `json:"id"`
	Source           string              `json:"source"`
	Target           string              `json:"target"`
	PrimaryDirection transfers.Direction `json:"primary_direction"`
	IsBidirectional  bool                `json:"is_bidirectional"`
	Stats            NodeStats           `json:"stats"`
}

// NodeStats is a snapshot of one counterparty's accumulated activity.
type NodeStats struct {
	TotalSent        decimal.Decimal `json:"total_sent"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	NetFlow          decimal.Decimal `json:"net_flow"`
	TransactionCount int             `json:"transaction_count"`
	Tokens           []TokenAmount   `json:"tokens"`
	TokensInvolved   []string        `json:"tokens_involved"`
	FirstInteraction int64           `json:"first_interaction"`
	LastInteraction  int64           `json:"last_interaction"`
	Transactions     []TxSummary     `json:"transactions"`
	AccountType      string          `json:"account_type,omitempty"`
}

// Volume is the total value moved in either direction.
func (s NodeStats) Volume() decimal.Decimal {
	return s.TotalSent.Add(s.TotalReceived)
}

// TokenAmount is a per-token sub-total. Key is the mint, or the symbol when
// no mint is known.
type TokenAmount struct {
	Key      string          `json:"key"`
	Token    string          `json:"token"`
	Sent     decimal.Decimal `json:"sent"`
	Received decimal.Decimal `json:"received"`
}

// TxSummary records one transaction with a counterparty, described by its
// first transfer line to that counterparty.
type TxSummary struct {
	Signature string              `json:"signature"`
	Timestamp int64               `json:"timestamp"`
	Direction transfers.Direction `json:"direction"`
	Amount    decimal.Decimal     `json:"amount"`
	Token     string              `json:"token"`
}

// Stats are graph-wide totals.
type Stats struct {
	TotalCounterparties   int             `json:"total_counterparties"`
	TotalTransactions     int             `json:"total_transactions"`
	TotalSent             decimal.Decimal `json:"total_sent"`
	TotalReceived         decimal.Decimal `json:"total_received"`
	NetFlow               decimal.Decimal `json:"net_flow"`
	TokensInvolved        []string        `json:"tokens_involved"`
	FilteredByValue       int             `json:"filtered_by_value"`
	FilteredByAccountType int             `json:"filtered_by_account_type"`
	ExchangeCount         int             `json:"exchange_count"`
	MinValueUSD           decimal.Decimal `json:"min_value_usd"`
}

// Counterparties returns the non-root nodes.
func (g *Graph) Counterparties() []Node {
	out := make([]Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !n.IsRoot {
			out = append(out, n)
		}
	}
	return out
}

// IsEmpty reports whether no counterparty survived filtering.
func (g *Graph) IsEmpty() bool {
	return len(g.Edges) == 0
}
