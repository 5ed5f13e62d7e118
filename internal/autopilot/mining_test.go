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

func newTestMiner(t *testing.T, script *scriptedMind, minOccurrences int) (*Miner, *thoughtdb.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := thoughtdb.Open(thoughtdb.OpenOptions{
		ProjectDir: filepath.Join(dir, "project"),
		GlobalDir:  filepath.Join(dir, "global"),
		ProjectID:  "proj1",
	})
	require.NoError(t, err)
	writer := evidence.NewWriter(filepath.Join(dir, "evidence.jsonl"), "run_mine")
	caller := &mind.Caller{Client: script, Writer: writer, Threshold: 5}
	m := NewMiner(store, caller, writer, 0.9, minOccurrences, filepath.Join(dir, "candidates.json"))
	return m, store
}

func minedClaim(confidence float64, highBenefit bool) map[string]any {
	return map[string]any{
		"claims": []any{map[string]any{
			"claim_type":   "fact",
			"text":         "the deploy script lives in scripts/deploy.sh",
			"tags":         []any{"deploy"},
			"confidence":   confidence,
			"high_benefit": highBenefit,
		}},
	}
}

var miningSegment = []SegmentRecord{
	{EventID: "ev_run_x_000001", Kind: "evidence", Summary: "found deploy script"},
	{EventID: "ev_run_x_000002", Kind: "evidence", Summary: "ran deploy"},
}

func TestMinerClaimPromotesOnFirstSight(t *testing.T) {
	// A confident claim never waits on the occurrence counter.
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMineClaims: {minedClaim(0.95, false)},
	}}
	m, store := newTestMiner(t, script, 2)

	ids := m.MineClaims(context.Background(), miningSegment)
	require.Len(t, ids, 1)

	claims := store.Run(thoughtdb.Query{}).Claims
	require.Len(t, claims, 1)
	assert.Equal(t, types.ClaimFact, claims[0].ClaimType)
	assert.Equal(t, []thoughtdb.SourceRef{
		thoughtdb.EventRef("ev_run_x_000001"),
		thoughtdb.EventRef("ev_run_x_000002"),
	}, claims[0].SourceRefs)
}

func minedPreference(confidence float64, highBenefit bool) map[string]any {
	return map[string]any{
		"preferences": []any{map[string]any{
			"text":         "prefer squash merges",
			"tags":         []any{"git"},
			"confidence":   confidence,
			"high_benefit": highBenefit,
		}},
	}
}

func TestMinerPreferenceOccurrenceGate(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMinePreferences: {minedPreference(0.95, false)},
	}}
	m, store := newTestMiner(t, script, 2)
	ctx := context.Background()

	// First sighting counts but does not promote.
	assert.Empty(t, m.MinePreferences(ctx, miningSegment))
	assert.Empty(t, store.Run(thoughtdb.Query{}).Claims)

	// Second sighting clears the gate.
	ids := m.MinePreferences(ctx, miningSegment)
	require.Len(t, ids, 1)
	claims := store.Run(thoughtdb.Query{}).Claims
	require.Len(t, claims, 1)
	assert.Equal(t, types.ClaimPreference, claims[0].ClaimType)
}

func TestMinerHighBenefitPreferencePromotesImmediately(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMinePreferences: {minedPreference(0.95, true)},
	}}
	m, store := newTestMiner(t, script, 2)

	ids := m.MinePreferences(context.Background(), miningSegment)
	require.Len(t, ids, 1)
	assert.Len(t, store.Run(thoughtdb.Query{}).Claims, 1)
}

func TestMinerConfidenceGate(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMineClaims: {minedClaim(0.85, true)},
	}}
	m, store := newTestMiner(t, script, 1)

	assert.Empty(t, m.MineClaims(context.Background(), miningSegment))
	assert.Empty(t, store.Run(thoughtdb.Query{}).Claims, "0.85 < 0.9 threshold")
}

func TestMinerSkipsKnownClaims(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMineClaims: {minedClaim(0.95, true)},
	}}
	m, store := newTestMiner(t, script, 1)
	ctx := context.Background()

	require.Len(t, m.MineClaims(ctx, miningSegment), 1)
	assert.Empty(t, m.MineClaims(ctx, miningSegment), "same suggestion again is a no-op")
	assert.Len(t, store.Run(thoughtdb.Query{}).Claims, 1)
}

func TestMinerServiceFailureIsQuiet(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{}}
	m, store := newTestMiner(t, script, 1)
	assert.Empty(t, m.MineClaims(context.Background(), miningSegment))
	assert.Empty(t, store.Run(thoughtdb.Query{}).Claims)
}

func TestMinePreferencesForcesPreferenceType(t *testing.T) {
	script := &scriptedMind{responses: map[string][]map[string]any{
		mind.SchemaMinePreferences: {{
			"preferences": []any{map[string]any{
				"text":         "prefer squash merges",
				"tags":         []any{"git"},
				"confidence":   0.95,
				"high_benefit": true,
			}},
		}},
	}}
	m, store := newTestMiner(t, script, 2)

	ids := m.MinePreferences(context.Background(), miningSegment)
	require.Len(t, ids, 1)
	claims := store.Run(thoughtdb.Query{}).Claims
	require.Len(t, claims, 1)
	assert.Equal(t, types.ClaimPreference, claims[0].ClaimType)
}
