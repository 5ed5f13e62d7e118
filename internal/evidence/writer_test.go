package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAssignsGaplessSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	w := NewWriter(path, "run_test_1")

	var ids []string
	for i := 0; i < 5; i++ {
		ev, err := w.Append(KindEvidence, map[string]any{"facts": []string{"x"}})
		require.NoError(t, err)
		ids = append(ids, ev.EventID)
		assert.Equal(t, i+1, ev.Seq)
	}

	assert.Equal(t, "ev_run_test_1_000001", ids[0])
	assert.Equal(t, "ev_run_test_1_000005", ids[4])

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq, "replayed seq must be gapless")
		assert.Equal(t, "run_test_1", ev.RunID)
		assert.NotEmpty(t, ev.TS)
	}
}

func TestWriterPayloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	w := NewWriter(path, "run_rt")

	_, err := w.Append(KindDecideNext, map[string]any{
		"next_action": "continue",
		"status":      "not_done",
		"notes":       "keep going",
	})
	require.NoError(t, err)

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindDecideNext, events[0].Kind)
	assert.Equal(t, "continue", events[0].Payload["next_action"])
	assert.Equal(t, "not_done", events[0].Payload["status"])

	// Envelope fields must not leak into the payload.
	_, has := events[0].Payload["event_id"]
	assert.False(t, has)
}

func TestReaderIgnoresTrailingPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	w := NewWriter(path, "run_partial")
	_, err := w.Append(KindEvidence, nil)
	require.NoError(t, err)

	// Simulate an in-progress write from another process.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"ev_run_partial_00`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := ReadEvents(path)
	require.NoError(t, err)
	assert.Len(t, events, 1, "partial trailing line must be ignored")
}

func TestFindEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	w := NewWriter(path, "run_find")
	first, err := w.Append(KindHandsInput, map[string]any{"input": "do the thing"})
	require.NoError(t, err)
	_, err = w.Append(KindEvidence, nil)
	require.NoError(t, err)

	got, err := FindEvent(path, first.EventID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "do the thing", got.Payload["input"])

	missing, err := FindEvent(path, "ev_nope_000001")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReadEventsMissingFile(t *testing.T) {
	events, err := ReadEvents(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, events)
}
