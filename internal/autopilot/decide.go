package autopilot

import (
	"context"

	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// Context-build caps. The decision prompt stays compact: recent nodes, the
// canonical preference/goal claims, pinned operational settings, text-ranked
// claims for the current work, and a small adjacent edge set.
const (
	ctxRecentNodes   = 5
	ctxCanonClaims   = 10
	ctxRankedClaims  = 8
	ctxAdjacentEdges = 12
)

// TagPinned marks operational-setting claims that are always in context.
const TagPinned = "pinned"

// Decision is a validated decide_next response.
type Decision struct {
	NextAction string // continue | ask_user | stop
	Status     string // not_done | done | blocked
	NextInput  string
	Question   string
	Rationale  string
}

// decideNext builds the Thought DB context and asks for the next move. The
// second return is false when the judgment service was unavailable (error or
// open circuit); the session falls back to the user.
func (s *Session) decideNext(ctx context.Context, task, lastMessage string) (Decision, bool) {
	res := s.caller.Call(ctx, mind.SchemaDecideNext, s.decisionContext(task, lastMessage))
	if res.State != mind.StateOK {
		return Decision{}, false
	}
	d := Decision{}
	d.NextAction, _ = res.Response["next_action"].(string)
	d.Status, _ = res.Response["status"].(string)
	d.Rationale, _ = res.Response["rationale"].(string)
	if v, ok := res.Response["next_input"].(string); ok {
		d.NextInput = v
	}
	if v, ok := res.Response["question"].(string); ok {
		d.Question = v
	}
	return d, true
}

func (s *Session) decisionContext(task, lastMessage string) map[string]any {
	recent := s.store.Run(thoughtdb.Query{
		NodeTypes: []types.NodeType{types.NodeDecision, types.NodeAction, types.NodeSummary},
		Limit:     ctxRecentNodes,
	})
	canon := s.store.Run(thoughtdb.Query{
		ClaimTypes: []types.ClaimType{types.ClaimPreference, types.ClaimGoal},
		Limit:      ctxCanonClaims,
	})
	pinned := s.store.Run(thoughtdb.Query{
		Tags:  []string{TagPinned},
		Limit: ctxCanonClaims,
	})

	var ranked []*thoughtdb.Claim
	var seedIDs []string
	if s.search != nil {
		for _, id := range s.search(task+" "+lastMessage, ctxRankedClaims) {
			if c := s.store.GetClaim(id); c != nil && c.Status == types.StatusActive {
				ranked = append(ranked, c)
				seedIDs = append(seedIDs, c.ClaimID)
			}
		}
	}

	var edges []map[string]any
	if len(seedIDs) > 0 {
		sg := s.store.Subgraph(thoughtdb.SubgraphOptions{
			Seeds: seedIDs,
			Depth: 1,
		})
		for i, e := range sg.Edges {
			if i == ctxAdjacentEdges {
				break
			}
			edges = append(edges, map[string]any{
				"edge_type": string(e.EdgeType),
				"from_id":   e.FromID,
				"to_id":     e.ToID,
			})
		}
	}

	return map[string]any{
		"task":           task,
		"last_message":   lastMessage,
		"recent_nodes":   nodeSummaries(recent.Nodes),
		"claims":         claimSummaries(append(canon.Claims, ranked...)),
		"pinned_claims":  claimSummaries(pinned.Claims),
		"adjacent_edges": edges,
	}
}

func claimSummaries(claims []*thoughtdb.Claim) []map[string]any {
	seen := make(map[string]struct{}, len(claims))
	out := make([]map[string]any, 0, len(claims))
	for _, c := range claims {
		if _, dup := seen[c.ClaimID]; dup {
			continue
		}
		seen[c.ClaimID] = struct{}{}
		out = append(out, map[string]any{
			"claim_id":   c.ClaimID,
			"claim_type": string(c.ClaimType),
			"text":       c.Text,
			"tags":       c.Tags,
			"confidence": c.Confidence,
		})
	}
	return out
}

func nodeSummaries(nodes []*thoughtdb.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"node_id":   n.NodeID,
			"node_type": string(n.NodeType),
			"title":     n.Title,
		})
	}
	return out
}
