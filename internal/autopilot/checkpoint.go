package autopilot

import (
	"context"
	"fmt"
	"strings"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// Checkpointer decides segment boundaries and applies the resulting Thought
// DB writes in the required order: snapshot first, then mining, then node
// materialization, so every later write can cite the snapshot's event id.
type Checkpointer struct {
	Mind    *mind.Caller
	Writer  *evidence.Writer
	Store   *thoughtdb.Store
	Segment *SegmentTracker
	Miner   *Miner
	Enabled bool
}

// Evaluate runs one checkpoint decision for the current segment. Called once
// before each batch input and once at run end; the batch/status dedupe key
// keeps the same boundary from being judged twice. Returns whether a boundary
// was found.
func (c *Checkpointer) Evaluate(ctx context.Context, batchID, statusHint string) bool {
	if !c.Enabled || c.Segment.Len() == 0 {
		return false
	}
	key := batchID + ":" + statusHint
	if c.Segment.AlreadyEvaluated(key) {
		return false
	}
	c.Segment.MarkEvaluated(key)

	log := logging.Get(logging.CategoryCheckpoint)
	records := c.Segment.Records()
	contextObj := segmentContext(records)
	contextObj["status_hint"] = statusHint

	res := c.Mind.Call(ctx, mind.SchemaCheckpointDecide, contextObj)
	if res.State != mind.StateOK {
		log.Warnw("checkpoint decision unavailable", "state", res.State)
		return false
	}
	boundary, _ := res.Response["boundary"].(bool)
	reason, _ := res.Response["reason"].(string)
	mineWorkflow, _ := res.Response["should_mine_workflow"].(bool)
	minePrefs, _ := res.Response["should_mine_preferences"].(bool)
	mineClaims, _ := res.Response["should_mine_claims"].(bool)

	c.append(evidence.KindCheckpoint, map[string]any{
		"boundary":                boundary,
		"reason":                  reason,
		"should_mine_workflow":    mineWorkflow,
		"should_mine_preferences": minePrefs,
		"should_mine_claims":      mineClaims,
		"segment_size":            len(records),
	})
	if !boundary {
		return false
	}
	log.Infow("checkpoint boundary", "reason", reason, "segment_size", len(records))

	// 1. Snapshot record, traceable back to the segment's events.
	snapshotID := c.snapshot(records, reason)

	// 2. Mining. Claims always run at a boundary; workflow and preference
	// passes only when the decision asked for them. Each is independently
	// fallible.
	c.Miner.MineClaims(ctx, records)
	if minePrefs {
		c.Miner.MinePreferences(ctx, records)
	}
	if mineWorkflow {
		c.mineWorkflow(ctx, records, snapshotID)
	}

	// 3. Node materialization citing the snapshot.
	if snapshotID != "" {
		c.materializeSummary(records, reason, snapshotID)
	}

	c.Segment.Reset()
	return true
}

func (c *Checkpointer) snapshot(records []SegmentRecord, reason string) string {
	var summaries []string
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.EventID)
		if r.Summary != "" {
			summaries = append(summaries, r.Summary)
		}
	}
	ev, err := c.Writer.Append(evidence.KindSnapshot, map[string]any{
		"reason":      reason,
		"event_ids":   ids,
		"summary":     strings.Join(summaries, "; "),
		"record_kind": "segment",
	})
	if err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("snapshot write failed", "error", err)
		return ""
	}
	return ev.EventID
}

// mineWorkflow either suggests a fresh workflow for the project or, when one
// already exists, grades the segment's progress against its steps.
func (c *Checkpointer) mineWorkflow(ctx context.Context, records []SegmentRecord, snapshotID string) {
	if snapshotID == "" {
		return
	}
	existing := c.Store.Run(thoughtdb.Query{
		NodeTypes: []types.NodeType{types.NodeAction},
		Tags:      []string{"workflow"},
		Limit:     1,
	})
	if len(existing.Nodes) > 0 {
		c.workflowProgress(ctx, existing.Nodes[0], records, snapshotID)
		return
	}

	res := c.Mind.Call(ctx, mind.SchemaSuggestWorkflow, segmentContext(records))
	if res.State != mind.StateOK {
		return
	}
	name, _ := res.Response["name"].(string)
	steps := stringSlice(res.Response["steps"])
	if name == "" || len(steps) == 0 {
		return
	}
	_, err := c.Store.AppendNode(types.ScopeProject, &thoughtdb.Node{
		NodeType:   types.NodeAction,
		Title:      "workflow: " + name,
		Text:       strings.Join(steps, "\n"),
		Tags:       []string{"workflow"},
		SourceRefs: []thoughtdb.SourceRef{thoughtdb.EventRef(snapshotID)},
	})
	if err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("workflow node rejected", "error", err)
	}
}

func (c *Checkpointer) workflowProgress(ctx context.Context, wf *thoughtdb.Node, records []SegmentRecord, snapshotID string) {
	contextObj := segmentContext(records)
	contextObj["workflow_title"] = wf.Title
	contextObj["workflow_steps"] = wf.Text
	res := c.Mind.Call(ctx, mind.SchemaWorkflowProgress, contextObj)
	if res.State != mind.StateOK {
		return
	}
	notes, _ := res.Response["notes"].(string)
	if notes == "" {
		return
	}
	current := 0
	if v, ok := res.Response["current_step"].(float64); ok {
		current = int(v)
	}
	done := 0
	if v, ok := res.Response["done_steps"].([]any); ok {
		done = len(v)
	}
	_, err := c.Store.AppendNode(types.ScopeProject, &thoughtdb.Node{
		NodeType:   types.NodeSummary,
		Title:      "progress: " + strings.TrimPrefix(wf.Title, "workflow: "),
		Text:       notes,
		Tags:       []string{"workflow_progress"},
		SourceRefs: []thoughtdb.SourceRef{thoughtdb.EventRef(snapshotID)},
		Notes:      fmt.Sprintf("step %d, %d step(s) done", current, done),
	})
	if err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("workflow progress node rejected", "error", err)
	}
}

func (c *Checkpointer) materializeSummary(records []SegmentRecord, reason, snapshotID string) {
	title := reason
	if title == "" {
		title = "segment completed"
	}
	var lines []string
	for _, r := range records {
		if r.Summary != "" {
			lines = append(lines, r.Summary)
		}
	}
	_, err := c.Store.AppendNode(types.ScopeProject, &thoughtdb.Node{
		NodeType:   types.NodeSummary,
		Title:      title,
		Text:       strings.Join(lines, "\n"),
		SourceRefs: []thoughtdb.SourceRef{thoughtdb.EventRef(snapshotID)},
	})
	if err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("summary node rejected", "error", err)
	}
}

func (c *Checkpointer) append(kind string, payload map[string]any) {
	if _, err := c.Writer.Append(kind, payload); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("evidence write failed", "kind", kind, "error", err)
	}
}
