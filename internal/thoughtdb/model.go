// Package thoughtdb implements the append-only claim/edge/node graph store.
//
// Each scope (project or global) owns three JSONL logs: claims, edges, nodes.
// Records are never rewritten; retraction, supersession and deduplication are
// all later appends. An in-memory view materializes the current state by
// replaying the logs, with an optional snapshot used purely as a cache.
package thoughtdb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mindloop/internal/types"
)

// RecordVersion stamps every persisted record.
const RecordVersion = "v1"

// Record kinds on disk. Claim and node logs also carry retract records;
// status transitions from supersedes/same_as edges are derived on replay.
const (
	recordClaim   = "claim"
	recordNode    = "node"
	recordEdge    = "edge"
	recordRetract = "retract"
)

// Field caps. Oversized inputs are rejected except titles, which truncate.
const (
	MaxTags            = 20
	MaxClaimSourceRefs = 8
	MaxNodeSourceRefs  = 12
	MaxTitleLen        = 140
)

// SourceRef cites one evidence event. Evidence event ids are the only
// admissible provenance anchor; raw transcript lines are never cited.
type SourceRef struct {
	Kind    string `json:"kind"` // always "evidence_event"
	EventID string `json:"event_id"`
}

// EventRef builds the canonical source ref for an evidence event id.
func EventRef(eventID string) SourceRef {
	return SourceRef{Kind: "evidence_event", EventID: eventID}
}

// Claim is an atomic, reusable assertion. Text, type and scope are immutable
// once appended; evolution happens through new claims plus linking edges.
type Claim struct {
	Kind       string           `json:"kind"`
	Version    string           `json:"version"`
	ClaimID    string           `json:"claim_id"`
	ClaimType  types.ClaimType  `json:"claim_type"`
	Text       string           `json:"text"`
	Scope      types.Scope      `json:"scope"`
	ProjectID  string           `json:"project_id,omitempty"`
	Visibility types.Visibility `json:"visibility"`
	AssertedTS string           `json:"asserted_ts"`
	ValidFrom  *string          `json:"valid_from"`
	ValidTo    *string          `json:"valid_to"`
	Status     types.Status     `json:"status"`
	Tags       []string         `json:"tags"`
	SourceRefs []SourceRef      `json:"source_refs"`
	Confidence float64          `json:"confidence"`
	Notes      string           `json:"notes,omitempty"`
}

// Node is a higher-level reasoning artifact (decision, action, summary) with
// the same append-only shape as a claim.
type Node struct {
	Kind       string           `json:"kind"`
	Version    string           `json:"version"`
	NodeID     string           `json:"node_id"`
	NodeType   types.NodeType   `json:"node_type"`
	Title      string           `json:"title"`
	Text       string           `json:"text"`
	Scope      types.Scope      `json:"scope"`
	ProjectID  string           `json:"project_id,omitempty"`
	Visibility types.Visibility `json:"visibility"`
	AssertedTS string           `json:"asserted_ts"`
	Status     types.Status     `json:"status"`
	Tags       []string         `json:"tags"`
	SourceRefs []SourceRef      `json:"source_refs"`
	Notes      string           `json:"notes,omitempty"`
}

// Edge is a directed relation between two claim/node ids. Edges are never
// deleted; an endpoint's retraction hides it from active queries instead.
type Edge struct {
	Kind       string           `json:"kind"`
	Version    string           `json:"version"`
	EdgeID     string           `json:"edge_id"`
	EdgeType   types.EdgeType   `json:"edge_type"`
	FromID     string           `json:"from_id"`
	ToID       string           `json:"to_id"`
	Scope      types.Scope      `json:"scope"`
	ProjectID  string           `json:"project_id,omitempty"`
	Visibility types.Visibility `json:"visibility"`
	AssertedTS string           `json:"asserted_ts"`
	SourceRefs []SourceRef      `json:"source_refs"`
	Notes      string           `json:"notes,omitempty"`
}

// retraction is the on-disk retract record for a claim or node log.
type retraction struct {
	Kind     string `json:"kind"`
	Version  string `json:"version"`
	TargetID string `json:"target_id"`
	TS       string `json:"ts"`
	Reason   string `json:"reason,omitempty"`
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// NewClaimID, NewNodeID and NewEdgeID mint fresh record identifiers.
func NewClaimID() string { return newID("cl") }
func NewNodeID() string  { return newID("nd") }
func NewEdgeID() string  { return newID("ed") }

// NormalizeText lowercases and collapses whitespace for signature purposes.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ClaimSignature is the dedup key for claims: two claims with the same type,
// scope, project and normalized text are considered the same assertion.
func ClaimSignature(claimType types.ClaimType, scope types.Scope, projectID, text string) string {
	h := sha256.Sum256([]byte(string(claimType) + "|" + string(scope) + "|" + projectID + "|" + NormalizeText(text)))
	return hex.EncodeToString(h[:])
}

// Signature returns the claim's dedup signature.
func (c *Claim) Signature() string {
	return ClaimSignature(c.ClaimType, c.Scope, c.ProjectID, c.Text)
}

// ClampConfidence forces a confidence into [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TruncateTitle caps a node title, marking the cut with an ellipsis.
func TruncateTitle(s string) string {
	if len(s) <= MaxTitleLen {
		return s
	}
	return s[:MaxTitleLen-3] + "..."
}

// ValidAt reports whether the claim's validity window admits ts. A nil bound
// is open: valid_from=nil means "since forever", valid_to=nil "until revoked".
func (c *Claim) ValidAt(ts string) bool {
	if c.ValidFrom != nil && *c.ValidFrom > ts {
		return false
	}
	if c.ValidTo != nil && ts >= *c.ValidTo {
		return false
	}
	return true
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
