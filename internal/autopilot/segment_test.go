package autopilot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindloop/internal/evidence"
)

func TestSegmentTrackerRecordAndReset(t *testing.T) {
	tr, err := NewSegmentTracker("", 10)
	require.NoError(t, err)

	tr.Record("ev_1", "evidence", "did a thing")
	tr.Record("ev_2", "risk_event", "risky thing")
	assert.Equal(t, []string{"ev_1", "ev_2"}, tr.EventIDs())
	assert.Equal(t, 2, tr.Len())

	tr.Reset()
	assert.Zero(t, tr.Len())
}

func TestSegmentTrackerSizeBound(t *testing.T) {
	tr, err := NewSegmentTracker("", 3)
	require.NoError(t, err)
	for _, id := range []string{"ev_1", "ev_2", "ev_3", "ev_4", "ev_5"} {
		tr.Record(id, "evidence", "")
	}
	assert.Equal(t, []string{"ev_3", "ev_4", "ev_5"}, tr.EventIDs())
}

func TestSegmentTrackerPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment_state.json")
	tr, err := NewSegmentTracker(path, 10)
	require.NoError(t, err)
	tr.Record("ev_1", "evidence", "survives restarts")
	tr.MarkEvaluated("batch_1:not_done")

	reloaded, err := NewSegmentTracker(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev_1"}, reloaded.EventIDs())
	assert.True(t, reloaded.AlreadyEvaluated("batch_1:not_done"))
	assert.False(t, reloaded.AlreadyEvaluated("batch_2:not_done"))
}

func TestSegmentTrackerQuarantinesCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr, err := NewSegmentTracker(path, 10)
	require.Error(t, err)
	assert.True(t, evidence.IsStorageCorruption(err))
	assert.Zero(t, tr.Len(), "corrupt state degrades to empty")

	// The corrupt file was renamed aside for audit.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	matches, globErr := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, globErr)
	assert.Len(t, matches, 1)
}

func TestCheckpointDedupeKey(t *testing.T) {
	tr, err := NewSegmentTracker("", 10)
	require.NoError(t, err)
	assert.False(t, tr.AlreadyEvaluated("batch_1:not_done"))
	tr.MarkEvaluated("batch_1:not_done")
	assert.True(t, tr.AlreadyEvaluated("batch_1:not_done"))
	assert.False(t, tr.AlreadyEvaluated("batch_1:done"), "status changes re-arm evaluation")
	assert.False(t, tr.AlreadyEvaluated(""))
}
