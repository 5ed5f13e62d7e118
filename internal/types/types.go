// Package types holds the shared enums, value types, and boundary interfaces
// for mindloop. Keeping these here breaks import cycles between the store,
// the providers, and the orchestrator.
package types

import "context"

// Scope partitions Thought DB records between a single project and the
// cross-project global store.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool { return s == ScopeProject || s == ScopeGlobal }

// Visibility controls where a record may be surfaced.
// private < project < global (least to most visible).
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityProject Visibility = "project"
	VisibilityGlobal  Visibility = "global"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityProject || v == VisibilityGlobal
}

// MinVisibility returns the more restrictive of two visibility labels.
// Unknown labels collapse to project.
func MinVisibility(a, b Visibility) Visibility {
	rank := func(v Visibility) int {
		switch v {
		case VisibilityPrivate:
			return 0
		case VisibilityProject:
			return 1
		case VisibilityGlobal:
			return 2
		}
		return 1
	}
	if rank(a) <= rank(b) {
		if !a.Valid() {
			return VisibilityProject
		}
		return a
	}
	if !b.Valid() {
		return VisibilityProject
	}
	return b
}

// ClaimType classifies an atomic assertion.
type ClaimType string

const (
	ClaimFact       ClaimType = "fact"
	ClaimPreference ClaimType = "preference"
	ClaimAssumption ClaimType = "assumption"
	ClaimGoal       ClaimType = "goal"
)

func (c ClaimType) Valid() bool {
	switch c {
	case ClaimFact, ClaimPreference, ClaimAssumption, ClaimGoal:
		return true
	}
	return false
}

// NodeType classifies a higher-level reasoning artifact.
type NodeType string

const (
	NodeDecision NodeType = "decision"
	NodeAction   NodeType = "action"
	NodeSummary  NodeType = "summary"
)

func (n NodeType) Valid() bool {
	return n == NodeDecision || n == NodeAction || n == NodeSummary
}

// EdgeType is the closed set of directed relations between claim/node ids.
type EdgeType string

const (
	EdgeDependsOn   EdgeType = "depends_on"
	EdgeSupports    EdgeType = "supports"
	EdgeContradicts EdgeType = "contradicts"
	EdgeDerivedFrom EdgeType = "derived_from"
	EdgeMentions    EdgeType = "mentions"
	EdgeSupersedes  EdgeType = "supersedes"
	EdgeSameAs      EdgeType = "same_as"
)

func (e EdgeType) Valid() bool {
	switch e {
	case EdgeDependsOn, EdgeSupports, EdgeContradicts, EdgeDerivedFrom,
		EdgeMentions, EdgeSupersedes, EdgeSameAs:
		return true
	}
	return false
}

// Status is the derived lifecycle state of a claim or node. Records are never
// rewritten; status changes are modeled by later append-only records.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusRetracted  Status = "retracted"
)

// RiskSeverity grades a risk judgment from the Mind service.
type RiskSeverity string

const (
	RiskLow    RiskSeverity = "low"
	RiskMedium RiskSeverity = "medium"
	RiskHigh   RiskSeverity = "high"
)

// MindClient is the judgment-service boundary. Invoke sends a structured
// context object and returns a response already validated against the named
// schema; any transport or validation failure surfaces as a *mind.ServiceError.
type MindClient interface {
	Invoke(ctx context.Context, schema string, contextObj map[string]any) (map[string]any, error)
}

// HandsEvent is one parsed line from the execution agent's output stream.
// JSON is set when the line parsed as a JSON object; Line always carries the
// raw text.
type HandsEvent struct {
	Stream string         `json:"stream"`
	Line   string         `json:"line"`
	JSON   map[string]any `json:"json,omitempty"`
}

// HandsResult is the outcome of one execution-agent invocation.
type HandsResult struct {
	ThreadID       string
	ExitCode       int
	DurationMs     int64
	Events         []HandsEvent
	TranscriptPath string
	LastMessage    string
	RiskMarkers    []string
	Interrupted    bool
}

// HandsProvider is the execution-agent boundary. Start opens a fresh agent
// session; Resume continues an existing one identified by threadID.
type HandsProvider interface {
	Start(ctx context.Context, input string) (*HandsResult, error)
	Resume(ctx context.Context, threadID, input string) (*HandsResult, error)
}
