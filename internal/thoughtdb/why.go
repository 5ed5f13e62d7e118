package thoughtdb

import (
	"context"
	"strings"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// Candidate-set bounds for a why trace.
const (
	DefaultTraceK = 12
	MaxTraceK     = 40
	MaxChosen     = 10
)

// SchemaWhyTrace names the judgment-service schema for minimal-support-set
// selection.
const SchemaWhyTrace = "why_trace"

// SearchFunc ranks claim ids for a free-text query. Used to backfill the
// candidate set when the graph around the target is sparse; nil disables the
// backfill.
type SearchFunc func(query string, k int) []string

// Tracer answers "why is this true?" for an evidence event or a claim: it
// collects a bounded candidate set from the graph, asks the judgment service
// for the minimal support set, and materializes depends_on edges so the
// explanation is durable.
type Tracer struct {
	Store  *Store
	Mind   types.MindClient
	Writer *evidence.Writer
	Search SearchFunc

	// MinWriteConfidence gates edge materialization.
	MinWriteConfidence float64
}

// TraceResult is the outcome of one why trace. State is "ok" or "error";
// error traces carry the failure in Explanation and write no edges.
type TraceResult struct {
	State          string   `json:"state"`
	TargetID       string   `json:"target_id"`
	CandidateIDs   []string `json:"candidate_ids"`
	ChosenClaimIDs []string `json:"chosen_claim_ids"`
	Explanation    string   `json:"explanation"`
	Confidence     float64  `json:"confidence"`
	EdgeIDs        []string `json:"edge_ids,omitempty"`
	TraceEventID   string   `json:"trace_event_id,omitempty"`
}

// Trace explains targetID (an event or claim id) as of the given timestamp.
// Service failure is non-fatal: the trace is recorded with state=error and
// the caller decides what to surface.
func (t *Tracer) Trace(ctx context.Context, targetID, asOf string, k int) (*TraceResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "why trace")
	defer timer.Stop()

	if asOf == "" {
		asOf = evidence.NowRFC3339()
	}
	if k <= 0 {
		k = DefaultTraceK
	}
	if k > MaxTraceK {
		k = MaxTraceK
	}

	candidates := t.collectCandidates(targetID, asOf, k)
	res := &TraceResult{State: "ok", TargetID: targetID}
	for _, c := range candidates {
		res.CandidateIDs = append(res.CandidateIDs, c.ClaimID)
	}
	if len(candidates) == 0 {
		res.State = "error"
		res.Explanation = "no candidate claims reachable from target"
		t.record(res)
		return res, nil
	}

	resp, err := t.Mind.Invoke(ctx, SchemaWhyTrace, traceContext(targetID, asOf, candidates))
	if err != nil {
		res.State = "error"
		res.Explanation = err.Error()
		t.record(res)
		return res, nil
	}

	chosen, explanation, confidence, verr := t.validateResponse(resp, res.CandidateIDs)
	if verr != nil {
		res.State = "error"
		res.Explanation = verr.Error()
		t.record(res)
		return res, nil
	}
	res.ChosenClaimIDs = chosen
	res.Explanation = explanation
	res.Confidence = confidence
	t.record(res)

	if confidence >= t.MinWriteConfidence {
		res.EdgeIDs = t.materialize(res)
	}
	return res, nil
}

func (t *Tracer) collectCandidates(targetID, asOf string, k int) []*Claim {
	seen := make(map[string]struct{})
	var out []*Claim
	add := func(c *Claim) {
		if c == nil || len(out) >= k {
			return
		}
		if _, dup := seen[c.ClaimID]; dup {
			return
		}
		if c.Status != types.StatusActive || !c.ValidAt(asOf) {
			return
		}
		seen[c.ClaimID] = struct{}{}
		out = append(out, c)
	}

	// Direct citers first: claims whose provenance includes the target event.
	if strings.HasPrefix(targetID, "ev_") {
		for _, c := range t.Store.ClaimsCiting(targetID) {
			add(c)
		}
	}

	// One-hop expansion over dependency/derivation edges around the target
	// and the citers found so far.
	seeds := append([]string{targetID}, idsOf(out)...)
	sg := t.Store.Subgraph(SubgraphOptions{
		Seeds:     seeds,
		Depth:     2,
		EdgeTypes: []types.EdgeType{types.EdgeDependsOn, types.EdgeSupports, types.EdgeDerivedFrom},
		Direction: DirectionBoth,
		MaxNodes:  MaxTraceK * 2,
	})
	for _, id := range sg.IDs {
		add(t.Store.GetClaim(id))
	}

	// Text-ranked backfill when the graph alone is too sparse.
	if len(out) < k && t.Search != nil {
		query := targetID
		if c := t.Store.GetClaim(targetID); c != nil {
			query = c.Text
		}
		for _, id := range t.Search(query, k-len(out)) {
			add(t.Store.GetClaim(id))
		}
	}
	return out
}

func idsOf(claims []*Claim) []string {
	out := make([]string, 0, len(claims))
	for _, c := range claims {
		out = append(out, c.ClaimID)
	}
	return out
}

func traceContext(targetID, asOf string, candidates []*Claim) map[string]any {
	cands := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		cands = append(cands, map[string]any{
			"claim_id":   c.ClaimID,
			"claim_type": string(c.ClaimType),
			"text":       c.Text,
			"confidence": c.Confidence,
		})
	}
	return map[string]any{
		"target_id":  targetID,
		"as_of":      asOf,
		"candidates": cands,
	}
}

func (t *Tracer) validateResponse(resp map[string]any, candidateIDs []string) ([]string, string, float64, error) {
	explanation, _ := resp["explanation"].(string)
	if strings.TrimSpace(explanation) == "" {
		return nil, "", 0, invalid("explanation", "empty explanation in trace response")
	}
	confidence, ok := resp["confidence"].(float64)
	if !ok {
		return nil, "", 0, invalid("confidence", "missing confidence in trace response")
	}
	confidence = ClampConfidence(confidence)

	allowed := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		allowed[id] = struct{}{}
	}
	rawIDs, _ := resp["chosen_claim_ids"].([]any)
	var chosen []string
	for _, v := range rawIDs {
		id, _ := v.(string)
		if id == "" {
			continue
		}
		if _, ok := allowed[id]; !ok {
			return nil, "", 0, invalid("chosen_claim_ids", "id %q not in candidate set", id)
		}
		chosen = append(chosen, id)
		if len(chosen) == MaxChosen {
			break
		}
	}
	if len(chosen) == 0 {
		return nil, "", 0, invalid("chosen_claim_ids", "empty support set in trace response")
	}
	return chosen, explanation, confidence, nil
}

// record appends the why_trace evidence event; edges appended afterwards can
// cite it. A writer is optional for offline inspection tooling.
func (t *Tracer) record(res *TraceResult) {
	if t.Writer == nil {
		return
	}
	ev, err := t.Writer.Append(evidence.KindWhyTrace, map[string]any{
		"state":            res.State,
		"target_id":        res.TargetID,
		"candidate_ids":    res.CandidateIDs,
		"chosen_claim_ids": res.ChosenClaimIDs,
		"explanation":      res.Explanation,
		"confidence":       res.Confidence,
	})
	if err != nil {
		logging.Get(logging.CategoryStore).Warnw("why trace event write failed", "error", err)
		return
	}
	res.TraceEventID = ev.EventID
}

// materialize writes depends_on(target -> claim) edges for the chosen
// support set. Edge visibility follows the claim: a private claim yields a
// private edge.
func (t *Tracer) materialize(res *TraceResult) []string {
	anchor := res.TargetID
	if !strings.HasPrefix(anchor, "ev_") {
		// Claim targets anchor provenance at the trace event itself.
		anchor = res.TraceEventID
	}
	if anchor == "" {
		return nil
	}
	var edgeIDs []string
	for _, claimID := range res.ChosenClaimIDs {
		c := t.Store.GetClaim(claimID)
		if c == nil {
			continue
		}
		vis := types.VisibilityProject
		if c.Visibility == types.VisibilityPrivate {
			vis = types.VisibilityPrivate
		}
		id, err := t.Store.AppendEdge(c.Scope, &Edge{
			EdgeType:   types.EdgeDependsOn,
			FromID:     res.TargetID,
			ToID:       claimID,
			Visibility: vis,
			SourceRefs: []SourceRef{EventRef(anchor)},
		})
		if err != nil {
			logging.Get(logging.CategoryStore).Warnw("trace edge write failed",
				"claim_id", claimID, "error", err)
			continue
		}
		edgeIDs = append(edgeIDs, id)
	}
	return edgeIDs
}
