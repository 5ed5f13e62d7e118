package thoughtdb

import (
	"sort"
	"strings"
	"sync"

	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// Store is the two-scope Thought DB facade: a project partition merged with
// the global partition, project entries winning on id collision. All writes
// go through the append-only logs; the in-memory views track them
// incrementally.
type Store struct {
	mu      sync.RWMutex
	project *scopeStore
	global  *scopeStore
}

type scopeStore struct {
	log          *Log
	view         *View
	snapshotPath string
	dirty        bool
}

// OpenOptions locates the two scope partitions.
type OpenOptions struct {
	ProjectDir          string
	GlobalDir           string
	ProjectID           string
	ProjectSnapshotPath string
	GlobalSnapshotPath  string

	// KnownEvent validates evidence citations on append. Nil skips the check.
	KnownEvent EventChecker
}

// Open loads both scope views, replaying logs where the snapshot cache is
// stale or absent.
func Open(opts OpenOptions) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store open")
	defer timer.Stop()

	proj, err := openScope(opts.ProjectDir, types.ScopeProject, opts.ProjectID, opts.ProjectSnapshotPath, opts.KnownEvent)
	if err != nil {
		return nil, err
	}
	glob, err := openScope(opts.GlobalDir, types.ScopeGlobal, "", opts.GlobalSnapshotPath, opts.KnownEvent)
	if err != nil {
		return nil, err
	}
	return &Store{project: proj, global: glob}, nil
}

func openScope(dir string, scope types.Scope, projectID, snapshotPath string, checker EventChecker) (*scopeStore, error) {
	log := NewLog(dir, scope, projectID, checker)
	view, err := LoadView(log, snapshotPath)
	if err != nil {
		return nil, err
	}
	return &scopeStore{log: log, view: view, snapshotPath: snapshotPath}, nil
}

func (s *Store) scopeFor(scope types.Scope) *scopeStore {
	if scope == types.ScopeGlobal {
		return s.global
	}
	return s.project
}

// Flush persists the view snapshots for any scope written since open.
// Snapshot failures are logged, never fatal: the logs remain authoritative.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range []*scopeStore{s.project, s.global} {
		if !sc.dirty || sc.snapshotPath == "" {
			continue
		}
		if err := saveSnapshot(sc.log, sc.view, sc.snapshotPath); err != nil {
			logging.Get(logging.CategoryStore).Warnw("snapshot flush failed",
				"scope", sc.log.scope, "error", err)
			continue
		}
		sc.dirty = false
	}
}

// AppendClaim appends a new claim to the given scope and returns its id.
func (s *Store) AppendClaim(scope types.Scope, c *Claim) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scopeFor(scope)
	id, err := sc.log.AppendClaim(c)
	if err != nil {
		return "", err
	}
	sc.view.applyClaim(c)
	sc.dirty = true
	return id, nil
}

// AppendNode appends a new node to the given scope and returns its id.
func (s *Store) AppendNode(scope types.Scope, n *Node) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scopeFor(scope)
	id, err := sc.log.AppendNode(n)
	if err != nil {
		return "", err
	}
	sc.view.applyNode(n)
	sc.dirty = true
	return id, nil
}

// AppendEdge appends an edge after checking both endpoints exist in the
// merged view.
func (s *Store) AppendEdge(scope types.Scope, e *Edge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endpointOKLocked(e.FromID) {
		return "", invalid("from_id", "unknown id %q", e.FromID)
	}
	if !s.endpointOKLocked(e.ToID) {
		return "", invalid("to_id", "unknown id %q", e.ToID)
	}
	sc := s.scopeFor(scope)
	id, err := sc.log.AppendEdge(e)
	if err != nil {
		return "", err
	}
	sc.view.applyEdge(e)
	sc.dirty = true
	return id, nil
}

// endpointOKLocked admits claim/node ids plus evidence event ids: why-trace
// materializes depends_on(event -> claim) edges anchored at the event itself.
func (s *Store) endpointOKLocked(id string) bool {
	if strings.HasPrefix(id, "ev_") {
		return true
	}
	return s.project.view.HasEntity(id) || s.global.view.HasEntity(id)
}

// GetClaim resolves a claim id through same_as redirects, project scope
// winning over global. Returns nil when unknown.
func (s *Store) GetClaim(id string) *Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getClaimLocked(id)
}

func (s *Store) getClaimLocked(id string) *Claim {
	for _, sc := range []*scopeStore{s.project, s.global} {
		resolved := sc.view.ResolveRedirect(id)
		if c, ok := sc.view.Claims[resolved]; ok {
			return c
		}
	}
	return nil
}

// GetNode resolves a node id, project scope winning over global.
func (s *Store) GetNode(id string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range []*scopeStore{s.project, s.global} {
		resolved := sc.view.ResolveRedirect(id)
		if n, ok := sc.view.Nodes[resolved]; ok {
			return n
		}
	}
	return nil
}

// FindBySignature returns the claim with the given dedup signature, if any.
func (s *Store) FindBySignature(sig string) *Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range []*scopeStore{s.project, s.global} {
		if id, ok := sc.view.BySignature[sig]; ok {
			if c, exists := sc.view.Claims[id]; exists {
				return c
			}
		}
	}
	return nil
}

// FindActiveByText returns the active claim matching the dedup signature a
// new claim with this type and text would get in the given scope.
func (s *Store) FindActiveByText(ct types.ClaimType, scope types.Scope, text string) *Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.scopeFor(scope)
	sig := ClaimSignature(ct, scope, sc.log.projectID, text)
	id, ok := sc.view.BySignature[sig]
	if !ok {
		return nil
	}
	c, exists := sc.view.Claims[id]
	if !exists || c.Status != types.StatusActive {
		return nil
	}
	return c
}

// Retract marks a claim or node retracted in its owning scope. The target
// must currently be active.
func (s *Store) Retract(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range []*scopeStore{s.project, s.global} {
		if c, ok := sc.view.Claims[id]; ok {
			if c.Status != types.StatusActive {
				return invalid("status", "claim %s is %s, not active", id, c.Status)
			}
			if err := sc.log.AppendClaimRetraction(id, reason); err != nil {
				return err
			}
			c.Status = types.StatusRetracted
			sc.dirty = true
			return nil
		}
		if n, ok := sc.view.Nodes[id]; ok {
			if n.Status != types.StatusActive {
				return invalid("status", "node %s is %s, not active", id, n.Status)
			}
			if err := sc.log.AppendNodeRetraction(id, reason); err != nil {
				return err
			}
			n.Status = types.StatusRetracted
			sc.dirty = true
			return nil
		}
	}
	return invalid("id", "unknown id %q", id)
}

// Supersede appends a replacement claim and a supersedes(old -> new) edge.
// The old claim must be active; it becomes superseded. Returns the new id.
func (s *Store) Supersede(oldID, newText string, refs []SourceRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sc *scopeStore
	var old *Claim
	for _, cand := range []*scopeStore{s.project, s.global} {
		if c, ok := cand.view.Claims[oldID]; ok {
			sc, old = cand, c
			break
		}
	}
	if old == nil {
		return "", invalid("old_id", "unknown claim %q", oldID)
	}
	if old.Status != types.StatusActive {
		return "", invalid("status", "claim %s is %s, not active", oldID, old.Status)
	}

	next := &Claim{
		ClaimType:  old.ClaimType,
		Text:       newText,
		Visibility: old.Visibility,
		Tags:       append([]string(nil), old.Tags...),
		SourceRefs: refs,
		Confidence: old.Confidence,
	}
	newID, err := sc.log.AppendClaim(next)
	if err != nil {
		return "", err
	}
	sc.view.applyClaim(next)

	edge := &Edge{
		EdgeType:   types.EdgeSupersedes,
		FromID:     oldID,
		ToID:       newID,
		Visibility: old.Visibility,
		SourceRefs: refs,
	}
	if _, err := sc.log.AppendEdge(edge); err != nil {
		return "", err
	}
	sc.view.applyEdge(edge)
	sc.dirty = true
	return newID, nil
}

// SameAs appends a same_as(dup -> canonical) redirect edge. Both ids must
// exist and the duplicate must be active.
func (s *Store) SameAs(dupID, canonicalID string, refs []SourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dupID == canonicalID {
		return invalid("same_as", "duplicate and canonical are the same id")
	}
	dup := s.getClaimLocked(dupID)
	if dup == nil {
		return invalid("dup_id", "unknown claim %q", dupID)
	}
	if dup.Status != types.StatusActive {
		return invalid("status", "claim %s is %s, not active", dupID, dup.Status)
	}
	if s.getClaimLocked(canonicalID) == nil {
		return invalid("canonical_id", "unknown claim %q", canonicalID)
	}

	sc := s.scopeFor(dup.Scope)
	edge := &Edge{
		EdgeType:   types.EdgeSameAs,
		FromID:     dupID,
		ToID:       canonicalID,
		Visibility: dup.Visibility,
		SourceRefs: refs,
	}
	if _, err := sc.log.AppendEdge(edge); err != nil {
		return err
	}
	sc.view.applyEdge(edge)
	sc.dirty = true
	return nil
}

// Query selects claims and nodes from the merged view.
type Query struct {
	// Scope restricts to one partition; empty means merged (project wins).
	Scope types.Scope

	ClaimTypes []types.ClaimType
	NodeTypes  []types.NodeType

	// Status defaults: active only.
	IncludeSuperseded bool
	IncludeRetracted  bool

	// Tags must all be present on a match (set intersection).
	Tags []string

	// Contains is a case-insensitive substring over text and titles.
	Contains string

	// AsOf keeps only claims whose validity window admits the timestamp.
	AsOf string

	Limit int
}

// QueryResult holds matched records, newest first.
type QueryResult struct {
	Claims []*Claim
	Nodes  []*Node
}

// Run evaluates the query against the store.
func (s *Store) Run(q Query) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := []*scopeStore{s.project, s.global}
	switch q.Scope {
	case types.ScopeProject:
		scopes = []*scopeStore{s.project}
	case types.ScopeGlobal:
		scopes = []*scopeStore{s.global}
	}

	var res QueryResult
	seenClaims := make(map[string]struct{})
	seenNodes := make(map[string]struct{})
	needle := strings.ToLower(q.Contains)

	claimsWanted := len(q.NodeTypes) == 0 || len(q.ClaimTypes) > 0
	nodesWanted := len(q.ClaimTypes) == 0 || len(q.NodeTypes) > 0

	for _, sc := range scopes {
		if claimsWanted {
			for id, c := range sc.view.Claims {
				if _, dup := seenClaims[id]; dup {
					continue
				}
				seenClaims[id] = struct{}{}
				if !q.admitStatus(c.Status) {
					continue
				}
				if len(q.ClaimTypes) > 0 && !containsClaimType(q.ClaimTypes, c.ClaimType) {
					continue
				}
				if !hasAllTags(c.Tags, q.Tags) {
					continue
				}
				if needle != "" && !strings.Contains(strings.ToLower(c.Text), needle) {
					continue
				}
				if q.AsOf != "" && !c.ValidAt(q.AsOf) {
					continue
				}
				res.Claims = append(res.Claims, c)
			}
		}
		if nodesWanted {
			for id, n := range sc.view.Nodes {
				if _, dup := seenNodes[id]; dup {
					continue
				}
				seenNodes[id] = struct{}{}
				if !q.admitStatus(n.Status) {
					continue
				}
				if len(q.NodeTypes) > 0 && !containsNodeType(q.NodeTypes, n.NodeType) {
					continue
				}
				if !hasAllTags(n.Tags, q.Tags) {
					continue
				}
				if needle != "" &&
					!strings.Contains(strings.ToLower(n.Title), needle) &&
					!strings.Contains(strings.ToLower(n.Text), needle) {
					continue
				}
				res.Nodes = append(res.Nodes, n)
			}
		}
	}

	// Newest first; claim/node ids embed creation time, so they break
	// same-second ties deterministically.
	sort.Slice(res.Claims, func(i, j int) bool {
		if res.Claims[i].AssertedTS != res.Claims[j].AssertedTS {
			return res.Claims[i].AssertedTS > res.Claims[j].AssertedTS
		}
		return res.Claims[i].ClaimID > res.Claims[j].ClaimID
	})
	sort.Slice(res.Nodes, func(i, j int) bool {
		if res.Nodes[i].AssertedTS != res.Nodes[j].AssertedTS {
			return res.Nodes[i].AssertedTS > res.Nodes[j].AssertedTS
		}
		return res.Nodes[i].NodeID > res.Nodes[j].NodeID
	})
	if q.Limit > 0 {
		if len(res.Claims) > q.Limit {
			res.Claims = res.Claims[:q.Limit]
		}
		if len(res.Nodes) > q.Limit {
			res.Nodes = res.Nodes[:q.Limit]
		}
	}
	return res
}

func (q Query) admitStatus(st types.Status) bool {
	switch st {
	case types.StatusActive:
		return true
	case types.StatusSuperseded:
		return q.IncludeSuperseded
	case types.StatusRetracted:
		return q.IncludeRetracted
	}
	return false
}

func containsClaimType(set []types.ClaimType, t types.ClaimType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsNodeType(set []types.NodeType, t types.NodeType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// EdgesFrom and EdgesTo expose adjacency for traversal, merged across scopes.
func (s *Store) EdgesFrom(id string) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	out = append(out, s.project.view.EdgesFrom[id]...)
	out = append(out, s.global.view.EdgesFrom[id]...)
	return out
}

func (s *Store) EdgesTo(id string) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	out = append(out, s.project.view.EdgesTo[id]...)
	out = append(out, s.global.view.EdgesTo[id]...)
	return out
}

// AllEdges returns every edge across both scopes.
func (s *Store) AllEdges() []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for _, sc := range []*scopeStore{s.project, s.global} {
		for _, e := range sc.view.Edges {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out
}

// ClaimsCiting returns claims whose source refs cite the given evidence
// event id, across both scopes.
func (s *Store) ClaimsCiting(eventID string) []*Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Claim
	seen := make(map[string]struct{})
	for _, sc := range []*scopeStore{s.project, s.global} {
		for id, c := range sc.view.Claims {
			if _, dup := seen[id]; dup {
				continue
			}
			for _, r := range c.SourceRefs {
				if r.EventID == eventID {
					seen[id] = struct{}{}
					out = append(out, c)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	return out
}

// ResolveNewest follows same_as then supersedes chains to the id queries
// should surface for the given claim id.
func (s *Store) ResolveNewest(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range []*scopeStore{s.project, s.global} {
		resolved := sc.view.ResolveRedirect(id)
		if _, ok := sc.view.Claims[resolved]; ok {
			return sc.view.ResolveSupersede(resolved)
		}
	}
	return id
}
