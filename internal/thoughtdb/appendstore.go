package thoughtdb

import (
	"fmt"
	"path/filepath"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// ValidationError rejects a malformed entity or an unknown referenced id.
// It is fatal to the single operation and never corrupts the log.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("thoughtdb: invalid %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// EventChecker reports whether an evidence event id exists and may be cited.
type EventChecker func(eventID string) bool

// Log owns the three append-only JSONL files of one Thought DB scope and
// performs all validated appends. It holds no derived state; the View replays
// the logs.
type Log struct {
	dir        string
	scope      types.Scope
	projectID  string
	knownEvent EventChecker
}

// NewLog opens the log set under dir for the given scope. knownEvent
// validates source refs before any append; pass nil to skip citation checks
// (tests and offline tooling only).
func NewLog(dir string, scope types.Scope, projectID string, knownEvent EventChecker) *Log {
	return &Log{dir: dir, scope: scope, projectID: projectID, knownEvent: knownEvent}
}

func (l *Log) claimsPath() string { return filepath.Join(l.dir, "claims.jsonl") }
func (l *Log) edgesPath() string  { return filepath.Join(l.dir, "edges.jsonl") }
func (l *Log) nodesPath() string  { return filepath.Join(l.dir, "nodes.jsonl") }

// Dir returns the scope's storage directory.
func (l *Log) Dir() string { return l.dir }

// Scope returns the scope this log set serves.
func (l *Log) Scope() types.Scope { return l.scope }

func (l *Log) checkRefs(refs []SourceRef, max int) error {
	if len(refs) == 0 {
		return invalid("source_refs", "at least one evidence event ref is required")
	}
	if len(refs) > max {
		return invalid("source_refs", "too many refs: %d > %d", len(refs), max)
	}
	for _, r := range refs {
		if r.Kind != "evidence_event" {
			return invalid("source_refs", "unsupported ref kind %q", r.Kind)
		}
		if r.EventID == "" {
			return invalid("source_refs", "empty event id")
		}
		if l.knownEvent != nil && !l.knownEvent(r.EventID) {
			return invalid("source_refs", "unknown event id %q", r.EventID)
		}
	}
	return nil
}

// AppendClaim validates the claim, assigns identity and defaults, and appends
// it. The claim's ClaimID, AssertedTS and Status fields are set on success.
func (l *Log) AppendClaim(c *Claim) (string, error) {
	if !c.ClaimType.Valid() {
		return "", invalid("claim_type", "unknown type %q", c.ClaimType)
	}
	if NormalizeText(c.Text) == "" {
		return "", invalid("text", "claim text is empty")
	}
	if err := l.checkRefs(c.SourceRefs, MaxClaimSourceRefs); err != nil {
		return "", err
	}
	c.Tags = dedupeTags(c.Tags)
	if len(c.Tags) > MaxTags {
		return "", invalid("tags", "too many tags: %d > %d", len(c.Tags), MaxTags)
	}
	if c.Visibility == "" {
		c.Visibility = types.VisibilityProject
	}
	if !c.Visibility.Valid() {
		return "", invalid("visibility", "unknown visibility %q", c.Visibility)
	}
	if c.ValidFrom != nil && c.ValidTo != nil && *c.ValidTo <= *c.ValidFrom {
		return "", invalid("valid_to", "validity window is empty")
	}

	c.Kind = recordClaim
	c.Version = RecordVersion
	c.ClaimID = NewClaimID()
	c.Scope = l.scope
	c.ProjectID = l.projectID
	c.AssertedTS = evidence.NowRFC3339()
	c.Status = types.StatusActive
	c.Confidence = ClampConfidence(c.Confidence)

	if err := evidence.AppendJSONL(l.claimsPath(), c); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryStore).Debugw("claim appended",
		"claim_id", c.ClaimID, "type", c.ClaimType, "scope", c.Scope)
	return c.ClaimID, nil
}

// AppendNode validates and appends a node record. Oversized titles truncate.
func (l *Log) AppendNode(n *Node) (string, error) {
	if !n.NodeType.Valid() {
		return "", invalid("node_type", "unknown type %q", n.NodeType)
	}
	if NormalizeText(n.Title) == "" {
		return "", invalid("title", "node title is empty")
	}
	if err := l.checkRefs(n.SourceRefs, MaxNodeSourceRefs); err != nil {
		return "", err
	}
	n.Tags = dedupeTags(n.Tags)
	if len(n.Tags) > MaxTags {
		return "", invalid("tags", "too many tags: %d > %d", len(n.Tags), MaxTags)
	}
	if n.Visibility == "" {
		n.Visibility = types.VisibilityProject
	}
	if !n.Visibility.Valid() {
		return "", invalid("visibility", "unknown visibility %q", n.Visibility)
	}

	n.Kind = recordNode
	n.Version = RecordVersion
	n.NodeID = NewNodeID()
	n.Title = TruncateTitle(n.Title)
	n.Scope = l.scope
	n.ProjectID = l.projectID
	n.AssertedTS = evidence.NowRFC3339()
	n.Status = types.StatusActive

	if err := evidence.AppendJSONL(l.nodesPath(), n); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryStore).Debugw("node appended",
		"node_id", n.NodeID, "type", n.NodeType, "scope", n.Scope)
	return n.NodeID, nil
}

// AppendEdge validates and appends an edge record. Endpoint existence is the
// caller's concern (the Store checks against its merged view); the log only
// enforces shape.
func (l *Log) AppendEdge(e *Edge) (string, error) {
	if !e.EdgeType.Valid() {
		return "", invalid("edge_type", "unknown type %q", e.EdgeType)
	}
	if e.FromID == "" || e.ToID == "" {
		return "", invalid("edge", "both endpoints are required")
	}
	if e.FromID == e.ToID {
		return "", invalid("edge", "self edge %s", e.FromID)
	}
	if err := l.checkRefs(e.SourceRefs, MaxClaimSourceRefs); err != nil {
		return "", err
	}
	if e.Visibility == "" {
		e.Visibility = types.VisibilityProject
	}
	if !e.Visibility.Valid() {
		return "", invalid("visibility", "unknown visibility %q", e.Visibility)
	}

	e.Kind = recordEdge
	e.Version = RecordVersion
	e.EdgeID = NewEdgeID()
	e.Scope = l.scope
	e.ProjectID = l.projectID
	e.AssertedTS = evidence.NowRFC3339()

	if err := evidence.AppendJSONL(l.edgesPath(), e); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryStore).Debugw("edge appended",
		"edge_id", e.EdgeID, "type", e.EdgeType, "from", e.FromID, "to", e.ToID)
	return e.EdgeID, nil
}

// AppendClaimRetraction appends a retract record to the claims log.
func (l *Log) AppendClaimRetraction(claimID, reason string) error {
	return evidence.AppendJSONL(l.claimsPath(), retraction{
		Kind: recordRetract, Version: RecordVersion,
		TargetID: claimID, TS: evidence.NowRFC3339(), Reason: reason,
	})
}

// AppendNodeRetraction appends a retract record to the nodes log.
func (l *Log) AppendNodeRetraction(nodeID, reason string) error {
	return evidence.AppendJSONL(l.nodesPath(), retraction{
		Kind: recordRetract, Version: RecordVersion,
		TargetID: nodeID, TS: evidence.NowRFC3339(), Reason: reason,
	})
}
