package thoughtdb

import (
	"sort"

	"mindloop/internal/types"
)

// Direction selects which edges a traversal follows from a frontier id.
type Direction string

const (
	DirectionOut  Direction = "out"  // edges where the id is from_id
	DirectionIn   Direction = "in"   // edges where the id is to_id
	DirectionBoth Direction = "both"
)

// DefaultMaxSubgraphNodes bounds expansion when the caller does not.
const DefaultMaxSubgraphNodes = 200

// SubgraphOptions parameterizes a bounded breadth-first expansion.
type SubgraphOptions struct {
	Seeds     []string
	Depth     int
	EdgeTypes []types.EdgeType // empty: all types
	Direction Direction
	MaxNodes  int
}

// Subgraph is a traversal result: the reached ids and the edges walked.
type Subgraph struct {
	IDs   []string
	Edges []*Edge
}

// Subgraph expands breadth-first from the seed ids. The visited set makes the
// walk terminate on cyclic graphs; depth and node-count bounds keep the
// result small enough for explanation prompts.
func (s *Store) Subgraph(opts SubgraphOptions) Subgraph {
	if opts.Depth <= 0 {
		opts.Depth = 1
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxSubgraphNodes
	}
	if opts.Direction == "" {
		opts.Direction = DirectionBoth
	}
	typeSet := make(map[types.EdgeType]struct{}, len(opts.EdgeTypes))
	for _, t := range opts.EdgeTypes {
		typeSet[t] = struct{}{}
	}
	admit := func(e *Edge) bool {
		if len(typeSet) == 0 {
			return true
		}
		_, ok := typeSet[e.EdgeType]
		return ok
	}

	visited := make(map[string]struct{})
	edgeSeen := make(map[string]struct{})
	var out Subgraph

	frontier := make([]string, 0, len(opts.Seeds))
	for _, id := range opts.Seeds {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		frontier = append(frontier, id)
		out.IDs = append(out.IDs, id)
	}

	for depth := 0; depth < opts.Depth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			var adjacent []*Edge
			if opts.Direction == DirectionOut || opts.Direction == DirectionBoth {
				adjacent = append(adjacent, s.EdgesFrom(id)...)
			}
			if opts.Direction == DirectionIn || opts.Direction == DirectionBoth {
				adjacent = append(adjacent, s.EdgesTo(id)...)
			}
			for _, e := range adjacent {
				if !admit(e) {
					continue
				}
				if _, ok := edgeSeen[e.EdgeID]; !ok {
					edgeSeen[e.EdgeID] = struct{}{}
					out.Edges = append(out.Edges, e)
				}
				for _, other := range []string{e.FromID, e.ToID} {
					if other == id {
						continue
					}
					if _, ok := visited[other]; ok {
						continue
					}
					if len(out.IDs) >= opts.MaxNodes {
						continue
					}
					visited[other] = struct{}{}
					out.IDs = append(out.IDs, other)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	sort.Strings(out.IDs)
	sort.Slice(out.Edges, func(i, j int) bool { return out.Edges[i].EdgeID < out.Edges[j].EdgeID })
	return out
}

// CollapseSCC groups a subgraph's ids into strongly connected components
// (Tarjan). Explanation output renders each cycle as one cluster; storage is
// never rewritten.
func CollapseSCC(g Subgraph) [][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.FromID] = append(adj[e.FromID], e.ToID)
	}

	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var clusters [][]string
	counter := 0

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && index[w] < low[v] {
				low[v] = index[w]
			}
		}

		if low[v] == index[v] {
			var cluster []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				cluster = append(cluster, w)
				if w == v {
					break
				}
			}
			sort.Strings(cluster)
			clusters = append(clusters, cluster)
		}
	}

	for _, id := range g.IDs {
		if _, seen := index[id]; !seen {
			strongconnect(id)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}
