package autopilot

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mindloop/internal/config"
	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// scriptedMind plays back queued responses per schema; the last response for
// a schema repeats. Unscripted schemas fail like a transport error.
type scriptedMind struct {
	responses map[string][]map[string]any
	calls     []string
}

func (m *scriptedMind) Invoke(_ context.Context, schema string, _ map[string]any) (map[string]any, error) {
	m.calls = append(m.calls, schema)
	queue := m.responses[schema]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", schema)
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[schema] = queue[1:]
	}
	return resp, nil
}

func (m *scriptedMind) count(schema string) int {
	n := 0
	for _, s := range m.calls {
		if s == schema {
			n++
		}
	}
	return n
}

// handsStub returns one scripted result per invocation; the last repeats.
// A non-nil resumeErr makes every Resume call fail.
type handsStub struct {
	results   []*types.HandsResult
	resumeErr error
	starts    int
	resumes   int
}

func (h *handsStub) next() *types.HandsResult {
	if len(h.results) == 0 {
		return &types.HandsResult{LastMessage: "ok", ExitCode: 0}
	}
	res := h.results[0]
	if len(h.results) > 1 {
		h.results = h.results[1:]
	}
	return res
}

func (h *handsStub) Start(context.Context, string) (*types.HandsResult, error) {
	h.starts++
	return h.next(), nil
}

func (h *handsStub) Resume(context.Context, string, string) (*types.HandsResult, error) {
	h.resumes++
	if h.resumeErr != nil {
		return nil, h.resumeErr
	}
	return h.next(), nil
}

type sessionFixture struct {
	session      *Session
	mind         *scriptedMind
	hands        *handsStub
	evidencePath string
	store        *thoughtdb.Store
}

func extractOK(facts ...string) map[string]any {
	anyFacts := make([]any, 0, len(facts))
	for _, f := range facts {
		anyFacts = append(anyFacts, f)
	}
	return map[string]any{
		"facts":            anyFacts,
		"risks":            []any{},
		"open_questions":   []any{},
		"progress_summary": "made progress",
	}
}

func checkpointResp(boundary, mineWorkflow, minePrefs, mineClaims bool) map[string]any {
	return map[string]any{
		"boundary":                boundary,
		"reason":                  "segment judged",
		"should_mine_workflow":    mineWorkflow,
		"should_mine_preferences": minePrefs,
		"should_mine_claims":      mineClaims,
	}
}

func decideResp(action, status, nextInput string) map[string]any {
	return map[string]any{
		"next_action": action,
		"status":      status,
		"next_input":  nextInput,
		"question":    nil,
		"rationale":   "scripted",
	}
}

func newFixture(t *testing.T, cfg config.Config, mindScript *scriptedMind, agent *handsStub, ask AskFunc) *sessionFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := thoughtdb.Open(thoughtdb.OpenOptions{
		ProjectDir: filepath.Join(dir, "thoughtdb", "project"),
		GlobalDir:  filepath.Join(dir, "thoughtdb", "global"),
		ProjectID:  "proj1",
	})
	require.NoError(t, err)

	evidencePath := filepath.Join(dir, "evidence.jsonl")
	writer := evidence.NewWriter(evidencePath, "run_test")
	caller := &mind.Caller{
		Client:    mindScript,
		Writer:    writer,
		Threshold: cfg.Run.CircuitThreshold,
	}

	session, err := NewSession(Options{
		Config: cfg,
		Store:  store,
		Caller: caller,
		Hands:  agent,
		Writer: writer,
		Ask:    ask,
	}, filepath.Join(dir, "segment_state.json"), filepath.Join(dir, "mining_candidates.json"))
	require.NoError(t, err)

	return &sessionFixture{
		session:      session,
		mind:         mindScript,
		hands:        agent,
		evidencePath: evidencePath,
		store:        store,
	}
}

func eventsOfKind(t *testing.T, path, kind string) []evidence.Event {
	t.Helper()
	events, err := evidence.ReadEvents(path)
	require.NoError(t, err)
	var out []evidence.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
