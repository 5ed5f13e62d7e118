package thoughtdb

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// maxRedirectHops bounds same_as chain resolution. A chain longer than this
// (or a cycle) resolves to the last id reached before the bound.
const maxRedirectHops = 20

// View is the materialized state of one scope: the replay of its three logs.
// It is a derived structure; the logs are the source of truth and replaying
// them twice yields an identical view.
type View struct {
	Claims map[string]*Claim
	Nodes  map[string]*Node
	Edges  map[string]*Edge

	// Redirect maps duplicate ids to their canonical id (same_as edges).
	Redirect map[string]string

	// BySignature maps claim dedup signatures to the latest claim id.
	BySignature map[string]string

	ByTag     map[string][]string
	EdgesFrom map[string][]*Edge
	EdgesTo   map[string][]*Edge
}

func newView() *View {
	return &View{
		Claims:      make(map[string]*Claim),
		Nodes:       make(map[string]*Node),
		Edges:       make(map[string]*Edge),
		Redirect:    make(map[string]string),
		BySignature: make(map[string]string),
		ByTag:       make(map[string][]string),
		EdgesFrom:   make(map[string][]*Edge),
		EdgesTo:     make(map[string][]*Edge),
	}
}

// BuildView replays the scope's logs into a fresh view.
func BuildView(l *Log) (*View, error) {
	v := newView()
	if err := v.replayClaims(l.claimsPath()); err != nil {
		return nil, err
	}
	if err := v.replayNodes(l.nodesPath()); err != nil {
		return nil, err
	}
	if err := v.replayEdges(l.edgesPath()); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *View) replayClaims(path string) error {
	return evidence.IterJSONL(path, func(raw []byte) bool {
		kind := recordKind(raw)
		switch kind {
		case recordClaim:
			var c Claim
			if json.Unmarshal(raw, &c) != nil || c.ClaimID == "" {
				return true
			}
			v.applyClaim(&c)
		case recordRetract:
			var r retraction
			if json.Unmarshal(raw, &r) == nil {
				if c, ok := v.Claims[r.TargetID]; ok {
					c.Status = types.StatusRetracted
				}
			}
		}
		return true
	}, nil)
}

func (v *View) replayNodes(path string) error {
	return evidence.IterJSONL(path, func(raw []byte) bool {
		switch recordKind(raw) {
		case recordNode:
			var n Node
			if json.Unmarshal(raw, &n) != nil || n.NodeID == "" {
				return true
			}
			v.applyNode(&n)
		case recordRetract:
			var r retraction
			if json.Unmarshal(raw, &r) == nil {
				if n, ok := v.Nodes[r.TargetID]; ok {
					n.Status = types.StatusRetracted
				}
			}
		}
		return true
	}, nil)
}

func (v *View) replayEdges(path string) error {
	return evidence.IterJSONL(path, func(raw []byte) bool {
		var e Edge
		if json.Unmarshal(raw, &e) != nil || e.EdgeID == "" {
			return true
		}
		v.applyEdge(&e)
		return true
	}, nil)
}

func recordKind(raw []byte) string {
	var probe struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Kind
}

func (v *View) applyClaim(c *Claim) {
	v.Claims[c.ClaimID] = c
	v.BySignature[c.Signature()] = c.ClaimID
	for _, t := range c.Tags {
		v.ByTag[t] = append(v.ByTag[t], c.ClaimID)
	}
}

func (v *View) applyNode(n *Node) {
	v.Nodes[n.NodeID] = n
	for _, t := range n.Tags {
		v.ByTag[t] = append(v.ByTag[t], n.NodeID)
	}
}

func (v *View) applyEdge(e *Edge) {
	v.Edges[e.EdgeID] = e
	v.EdgesFrom[e.FromID] = append(v.EdgesFrom[e.FromID], e)
	v.EdgesTo[e.ToID] = append(v.EdgesTo[e.ToID], e)
	switch e.EdgeType {
	case types.EdgeSupersedes:
		// supersedes(old -> new): old drops out of active queries.
		if c, ok := v.Claims[e.FromID]; ok && c.Status == types.StatusActive {
			c.Status = types.StatusSuperseded
		}
		if n, ok := v.Nodes[e.FromID]; ok && n.Status == types.StatusActive {
			n.Status = types.StatusSuperseded
		}
	case types.EdgeSameAs:
		// same_as(dup -> canonical): queries resolve dup to canonical.
		v.Redirect[e.FromID] = e.ToID
	}
}

// ResolveRedirect follows same_as redirects from id to its canonical id,
// bounded against cycles.
func (v *View) ResolveRedirect(id string) string {
	seen := make(map[string]struct{})
	cur := id
	for i := 0; i < maxRedirectHops; i++ {
		next, ok := v.Redirect[cur]
		if !ok {
			return cur
		}
		if _, cycled := seen[next]; cycled {
			return cur
		}
		seen[cur] = struct{}{}
		cur = next
	}
	return cur
}

// ResolveSupersede follows supersedes edges from a claim id to the newest
// non-superseded claim in the chain.
func (v *View) ResolveSupersede(id string) string {
	seen := map[string]struct{}{id: {}}
	cur := id
	for i := 0; i < maxRedirectHops; i++ {
		var next string
		for _, e := range v.EdgesFrom[cur] {
			if e.EdgeType == types.EdgeSupersedes {
				next = e.ToID
				break
			}
		}
		if next == "" {
			return cur
		}
		if _, cycled := seen[next]; cycled {
			return cur
		}
		seen[next] = struct{}{}
		cur = next
	}
	return cur
}

// HasEntity reports whether id names a claim or node in this view.
func (v *View) HasEntity(id string) bool {
	if _, ok := v.Claims[id]; ok {
		return true
	}
	_, ok := v.Nodes[id]
	return ok
}

// snapshot is the on-disk cache of a view, keyed by the log files' identity
// so a stale snapshot is detected and discarded.
type snapshot struct {
	Key    string   `json:"key"`
	Claims []*Claim `json:"claims"`
	Nodes  []*Node  `json:"nodes"`
	Edges  []*Edge  `json:"edges"`
}

func snapshotKey(l *Log) string {
	key := ""
	for _, p := range []string{l.claimsPath(), l.edgesPath(), l.nodesPath()} {
		if fi, err := os.Stat(p); err == nil {
			key += fmt.Sprintf("%d:%d;", fi.Size(), fi.ModTime().UnixNano())
		} else {
			key += "0:0;"
		}
	}
	return key
}

// LoadView returns the scope's view, reusing the snapshot cache when it
// matches the current logs and replaying from scratch otherwise. Snapshot
// problems are never fatal; a quarantined snapshot just forces a replay.
func LoadView(l *Log, snapshotPath string) (*View, error) {
	log := logging.Get(logging.CategoryStore).With("scope", l.scope)
	if snapshotPath != "" {
		var snap snapshot
		found, err := evidence.ReadJSONState(snapshotPath, &snap)
		if err != nil {
			log.Warnw("view snapshot unreadable, replaying logs", "error", err)
		} else if found && snap.Key == snapshotKey(l) {
			return viewFromSnapshot(&snap), nil
		}
	}
	v, err := BuildView(l)
	if err != nil {
		return nil, err
	}
	if snapshotPath != "" {
		if err := saveSnapshot(l, v, snapshotPath); err != nil {
			log.Warnw("view snapshot write failed", "error", err)
		}
	}
	return v, nil
}

func viewFromSnapshot(snap *snapshot) *View {
	v := newView()
	for _, c := range snap.Claims {
		// Status was already derived when the snapshot was taken; re-derive
		// indexes only.
		v.Claims[c.ClaimID] = c
		v.BySignature[c.Signature()] = c.ClaimID
		for _, t := range c.Tags {
			v.ByTag[t] = append(v.ByTag[t], c.ClaimID)
		}
	}
	for _, n := range snap.Nodes {
		v.Nodes[n.NodeID] = n
		for _, t := range n.Tags {
			v.ByTag[t] = append(v.ByTag[t], n.NodeID)
		}
	}
	for _, e := range snap.Edges {
		v.Edges[e.EdgeID] = e
		v.EdgesFrom[e.FromID] = append(v.EdgesFrom[e.FromID], e)
		v.EdgesTo[e.ToID] = append(v.EdgesTo[e.ToID], e)
		if e.EdgeType == types.EdgeSameAs {
			v.Redirect[e.FromID] = e.ToID
		}
	}
	return v
}

func saveSnapshot(l *Log, v *View, path string) error {
	snap := snapshot{Key: snapshotKey(l)}
	for _, c := range v.Claims {
		snap.Claims = append(snap.Claims, c)
	}
	for _, n := range v.Nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range v.Edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Claims, func(i, j int) bool { return snap.Claims[i].ClaimID < snap.Claims[j].ClaimID })
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].NodeID < snap.Nodes[j].NodeID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].EdgeID < snap.Edges[j].EdgeID })
	return evidence.WriteJSONAtomic(path, &snap)
}
