package autopilot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

func newTestCheckpointer(t *testing.T, script *scriptedMind) (*Checkpointer, *thoughtdb.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := thoughtdb.Open(thoughtdb.OpenOptions{
		ProjectDir: filepath.Join(dir, "project"),
		GlobalDir:  filepath.Join(dir, "global"),
		ProjectID:  "proj1",
	})
	require.NoError(t, err)
	evidencePath := filepath.Join(dir, "evidence.jsonl")
	writer := evidence.NewWriter(evidencePath, "run_cp")
	caller := &mind.Caller{Client: script, Writer: writer, Threshold: 5}
	segment, err := NewSegmentTracker(filepath.Join(dir, "segment.json"), 60)
	require.NoError(t, err)
	segment.Record("ev_run_cp_000001", evidence.KindEvidence, "did the thing")
	miner := NewMiner(store, caller, writer, 0.9, 2, filepath.Join(dir, "candidates.json"))
	cp := &Checkpointer{
		Mind:    caller,
		Writer:  writer,
		Store:   store,
		Segment: segment,
		Miner:   miner,
		Enabled: true,
	}
	return cp, store, evidencePath
}

func TestCheckpointSuggestsWorkflowWhenNoneExists(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaCheckpointDecide: {checkpointResp(true, true, false, true)},
		mind.SchemaMineClaims:       {{"claims": []any{}}},
		mind.SchemaSuggestWorkflow: {{
			"name":       "release",
			"steps":      []any{"bump version", "tag", "push"},
			"confidence": 0.9,
		}},
	}}
	cp, store, _ := newTestCheckpointer(t, script)

	require.True(t, cp.Evaluate(context.Background(), "batch_1", "done"))
	assert.Equal(t, 1, script.count(mind.SchemaSuggestWorkflow))
	assert.Zero(t, script.count(mind.SchemaWorkflowProgress))

	nodes := store.Run(thoughtdb.Query{Tags: []string{"workflow"}}).Nodes
	require.Len(t, nodes, 1)
	assert.Equal(t, types.NodeAction, nodes[0].NodeType)
	assert.Equal(t, "workflow: release", nodes[0].Title)
}

func TestCheckpointGradesProgressAgainstExistingWorkflow(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaCheckpointDecide: {checkpointResp(true, true, false, true)},
		mind.SchemaMineClaims:       {{"claims": []any{}}},
		mind.SchemaWorkflowProgress: {{
			"current_step": float64(2),
			"done_steps":   []any{float64(0), float64(1)},
			"notes":        "version bumped and tagged",
		}},
	}}
	cp, store, _ := newTestCheckpointer(t, script)

	_, err := store.AppendNode(types.ScopeProject, &thoughtdb.Node{
		NodeType:   types.NodeAction,
		Title:      "workflow: release",
		Text:       "bump version\ntag\npush",
		Tags:       []string{"workflow"},
		SourceRefs: []thoughtdb.SourceRef{thoughtdb.EventRef("ev_run_cp_000001")},
	})
	require.NoError(t, err)

	require.True(t, cp.Evaluate(context.Background(), "batch_1", "not_done"))
	assert.Zero(t, script.count(mind.SchemaSuggestWorkflow), "existing workflow is graded, not re-suggested")
	assert.Equal(t, 1, script.count(mind.SchemaWorkflowProgress))

	progress := store.Run(thoughtdb.Query{Tags: []string{"workflow_progress"}}).Nodes
	require.Len(t, progress, 1)
	assert.Equal(t, "progress: release", progress[0].Title)
	assert.Equal(t, "version bumped and tagged", progress[0].Text)
	assert.Equal(t, "step 2, 2 step(s) done", progress[0].Notes)
}

func TestCheckpointBoundaryDedupedByKey(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaCheckpointDecide: {checkpointResp(false, false, false, false)},
	}}
	cp, _, _ := newTestCheckpointer(t, script)
	ctx := context.Background()

	assert.False(t, cp.Evaluate(ctx, "batch_1", "not_done"))
	assert.False(t, cp.Evaluate(ctx, "batch_1", "not_done"), "same key is not re-judged")
	assert.Equal(t, 1, script.count(mind.SchemaCheckpointDecide))
}
