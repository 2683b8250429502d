package graphdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/pipeline"
)

// Repository writes counterparty graphs as (:Wallet)-[:INTERACTED_WITH]->(:Wallet).
// Exporting the same graph twice leaves the database unchanged.
type Repository struct {
	client Client
}

var _ pipeline.Exporter = (*Repository)(nil)

// New instantiates a Repository backed by the supplied graph client.
func New(client Client) *Repository {
	return &Repository{client: client}
}

// ExportGraph upserts the root wallet, every counterparty wallet and one
// relationship per edge.
func (r *Repository) ExportGraph(ctx context.Context, g *graph.Graph) error {
	if g == nil || g.Root == "" {
		return errors.New("graph root is required")
	}

	params := map[string]any{
		"root":           g.Root,
		"rootLabel":      graph.TruncateAddress(g.Root),
		"counterparties": counterpartyParams(g),
	}

	if _, err := r.client.ExecuteWrite(ctx, exportGraphCypher, params); err != nil {
		return fmt.Errorf("export graph %s: %w", g.Root, err)
	}
	return nil
}

// StoredCounterparty is one relationship read back from the graph database.
type StoredCounterparty struct {
	Address          string `json:"address"`
	Label            string `json:"label"`
	IsExchange       bool   `json:"is_exchange"`
	TransactionCount int64  `json:"transaction_count"`
	NetFlow          string `json:"net_flow"`
	Direction        string `json:"direction"`
}

// Counterparties returns the stored counterparties of root, most active first.
func (r *Repository) Counterparties(ctx context.Context, root string, limit int) ([]StoredCounterparty, error) {
	if limit <= 0 {
		limit = graph.DefaultTopLimit
	}
	res, err := r.client.ExecuteRead(ctx, counterpartiesCypher, map[string]any{
		"root":  root,
		"limit": int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("read counterparties of %s: %w", root, err)
	}

	out := make([]StoredCounterparty, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, StoredCounterparty{
			Address:          stringValue(rec["address"]),
			Label:            stringValue(rec["label"]),
			IsExchange:       boolValue(rec["isExchange"]),
			TransactionCount: int64Value(rec["transactionCount"]),
			NetFlow:          stringValue(rec["netFlow"]),
			Direction:        stringValue(rec["direction"]),
		})
	}
	return out, nil
}

func counterpartyParams(g *graph.Graph) []map[string]any {
	nodes := make(map[string]graph.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}

	out := make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		n := nodes[e.Target]
		out = append(out, map[string]any{
			"address":          e.Target,
			"label":            n.Label,
			"isExchange":       n.IsExchange,
			"exchangeName":     n.ExchangeName,
			"edgeId":           e.ID,
			"direction":        string(e.PrimaryDirection),
			"bidirectional":    e.IsBidirectional,
			"transactionCount": int64(e.Stats.TransactionCount),
			"totalSent":        e.Stats.TotalSent.String(),
			"totalReceived":    e.Stats.TotalReceived.String(),
			"netFlow":          e.Stats.NetFlow.String(),
			"volume":           e.Stats.Volume().InexactFloat64(),
			"tokens":           e.Stats.TokensInvolved,
			"firstInteraction": e.Stats.FirstInteraction,
			"lastInteraction":  e.Stats.LastInteraction,
		})
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

const exportGraphCypher = `
MERGE (root:Wallet {address: $root})
SET root.label = coalesce(root.label, $rootLabel)
WITH root
UNWIND $counterparties AS cp
MERGE (w:Wallet {address: cp.address})
SET w.label = cp.label,
	w.isExchange = cp.isExchange,
	w.exchangeName = cp.exchangeName
MERGE (root)-[rel:INTERACTED_WITH {edgeId: cp.edgeId}]->(w)
SET rel.direction = cp.direction,
	rel.bidirectional = cp.bidirectional,
	rel.transactionCount = cp.transactionCount,
	rel.totalSent = cp.totalSent,
	rel.totalReceived = cp.totalReceived,
	rel.netFlow = cp.netFlow,
	rel.volume = cp.volume,
	rel.tokens = cp.tokens,
	rel.firstInteraction = cp.firstInteraction,
	rel.lastInteraction = cp.lastInteraction
`

const counterpartiesCypher = `
MATCH (:Wallet {address: $root})-[rel:INTERACTED_WITH]->(w:Wallet)
RETURN w.address AS address,
	w.label AS label,
	w.isExchange AS isExchange,
	rel.transactionCount AS transactionCount,
	rel.netFlow AS netFlow,
	rel.direction AS direction
ORDER BY rel.transactionCount DESC, w.address ASC
LIMIT $limit
`
