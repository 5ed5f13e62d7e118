package mind

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindloop/internal/evidence"
)

type flakyClient struct {
	failures int // fail this many calls, then succeed
	calls    int
}

func (f *flakyClient) Invoke(_ context.Context, schema string, _ map[string]any) (map[string]any, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, transportErr(schema, errors.New("unavailable"))
	}
	return map[string]any{"answer": "ok", "confidence": 1.0, "needs_user": false}, nil
}

func newTestCaller(t *testing.T, client *flakyClient, threshold int) (*Caller, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	return &Caller{
		Client:    client,
		Writer:    evidence.NewWriter(path, "run_cb"),
		Threshold: threshold,
	}, path
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	client := &flakyClient{failures: 100}
	c, path := newTestCaller(t, client, 2)
	ctx := context.Background()

	r1 := c.Call(ctx, SchemaAutoAnswer, nil)
	assert.Equal(t, StateError, r1.State)
	assert.False(t, c.Open())

	r2 := c.Call(ctx, SchemaAutoAnswer, nil)
	assert.Equal(t, StateError, r2.State)
	assert.True(t, c.Open())

	// The third attempt is skipped entirely: the provider is not touched.
	r3 := c.Call(ctx, SchemaAutoAnswer, nil)
	assert.Equal(t, StateSkipped, r3.State)
	r4 := c.Call(ctx, SchemaAutoAnswer, nil)
	assert.Equal(t, StateSkipped, r4.State)
	assert.Equal(t, 2, client.calls)

	// Exactly one circuit record, regardless of skipped attempts.
	events, err := evidence.ReadEvents(path)
	require.NoError(t, err)
	var circuits, mindErrors int
	for _, ev := range events {
		switch ev.Kind {
		case evidence.KindMindCircuit:
			circuits++
		case evidence.KindMindError:
			mindErrors++
		}
	}
	assert.Equal(t, 1, circuits)
	assert.Equal(t, 2, mindErrors)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	client := &flakyClient{failures: 1}
	c, _ := newTestCaller(t, client, 2)
	ctx := context.Background()

	assert.Equal(t, StateError, c.Call(ctx, SchemaAutoAnswer, nil).State)
	assert.Equal(t, StateOK, c.Call(ctx, SchemaAutoAnswer, nil).State)

	// One more failure must not open the circuit: the streak was broken.
	client.failures = client.calls + 1
	assert.Equal(t, StateError, c.Call(ctx, SchemaAutoAnswer, nil).State)
	assert.False(t, c.Open())
}

func TestCallerStats(t *testing.T) {
	client := &flakyClient{failures: 1}
	c, _ := newTestCaller(t, client, 5)
	ctx := context.Background()
	c.Call(ctx, SchemaAutoAnswer, nil)
	c.Call(ctx, SchemaAutoAnswer, nil)

	calls, errCount, open := c.Stats()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, errCount)
	assert.False(t, open)
}
