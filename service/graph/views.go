package graph

import (
	"slices"
	"strings"
)

const (
	DefaultTopLimit = 10
	DefaultMaxNodes = 50
)

// TopCounterparties returns up to limit counterparties by transaction count.
func TopCounterparties(g *Graph, limit int) []Node {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	cps := g.Counterparties()
	if len(cps) > limit {
		cps = cps[:limit]
	}
	return cps
}

// FilterByToken keeps counterparties that moved token, matched against the
// symbol or the mint. Totals are recomputed over the kept counterparties.
func FilterByToken(g *Graph, token string) *Graph {
	if token == "" {
		return g
	}
	return restrict(g, func(n Node) bool {
		for _, t := range n.Stats.Tokens {
			if strings.EqualFold(t.Token, token) || t.Key == token {
				return true
			}
		}
		return false
	})
}

// FilterByMinTransactions keeps counterparties with at least n transactions.
func FilterByMinTransactions(g *Graph, n int) *Graph {
	if n <= 1 {
		return g
	}
	return restrict(g, func(node Node) bool {
		return node.Stats.TransactionCount >= n
	})
}

// Limit caps the node count for rendering. Edges whose target was cut are
// dropped; stats describe the full graph and are kept as is.
func Limit(g *Graph, maxNodes int) *Graph {
	if maxNodes <= 0 || len(g.Nodes) <= maxNodes {
		return g
	}
	out := &Graph{
		Root:  g.Root,
		Nodes: slices.Clone(g.Nodes[:maxNodes]),
		Stats: g.Stats,
	}
	kept := make(map[string]struct{}, len(out.Nodes))
	for _, n := range out.Nodes {
		kept[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		_, src := kept[e.Source]
		_, dst := kept[e.Target]
		if src && dst {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// restrict returns a copy of g with only the counterparties matching keep.
func restrict(g *Graph, keep func(Node) bool) *Graph {
	out := &Graph{Root: g.Root}
	kept := make(map[string]struct{})
	for _, n := range g.Nodes {
		if n.IsRoot || (n.Stats != nil && keep(n)) {
			out.Nodes = append(out.Nodes, n)
			kept[n.ID] = struct{}{}
		}
	}
	for _, e := range g.Edges {
		if _, ok := kept[e.Target]; ok {
			out.Edges = append(out.Edges, e)
		}
	}
	out.Stats = computeStats(out)
	out.Stats.FilteredByValue = g.Stats.FilteredByValue
	out.Stats.FilteredByAccountType = g.Stats.FilteredByAccountType
	out.Stats.MinValueUSD = g.Stats.MinValueUSD
	return out
}

// Summary highlights for a graph.
type Summary struct {
	MostFrequent  *Node  `json:"most_frequent,omitempty"`
	LargestVolume *Node  `json:"largest_volume,omitempty"`
	Exchanges     []Node `json:"exchanges"`
	Stats         Stats  `json:"stats"`
}

// Summarize picks the most frequent and largest volume counterparties and
// lists exchange wallets. Ties go to the earlier node in graph order.
func Summarize(g *Graph) Summary {
	s := Summary{Exchanges: []Node{}, Stats: g.Stats}
	for _, n := range g.Counterparties() {
		n := n
		if s.MostFrequent == nil || n.Stats.TransactionCount > s.MostFrequent.Stats.TransactionCount {
			s.MostFrequent = &n
		}
		if s.LargestVolume == nil || n.Stats.Volume().GreaterThan(s.LargestVolume.Stats.Volume()) {
			s.LargestVolume = &n
		}
		if n.IsExchange {
			s.Exchanges = append(s.Exchanges, n)
		}
	}
	return s
}
