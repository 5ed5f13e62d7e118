package thoughtdb

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindloop/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(OpenOptions{
		ProjectDir: filepath.Join(dir, "project"),
		GlobalDir:  filepath.Join(dir, "global"),
		ProjectID:  "proj1",
	})
	require.NoError(t, err)
	return s
}

func testClaim(text string) *Claim {
	return &Claim{
		ClaimType:  types.ClaimFact,
		Text:       text,
		SourceRefs: []SourceRef{EventRef("ev_run_x_000001")},
		Confidence: 0.8,
	}
}

func TestAppendClaimAssignsIdentity(t *testing.T) {
	s := openTestStore(t)
	c := testClaim("tests run with make check")
	id, err := s.AppendClaim(types.ScopeProject, c)
	require.NoError(t, err)

	assert.Regexp(t, `^cl_\d+_[0-9a-f-]{8}$`, id)
	assert.Equal(t, types.StatusActive, c.Status)
	assert.Equal(t, "proj1", c.ProjectID)
	assert.Equal(t, types.VisibilityProject, c.Visibility)
	assert.NotEmpty(t, c.AssertedTS)

	got := s.GetClaim(id)
	require.NotNil(t, got)
	assert.Equal(t, "tests run with make check", got.Text)
}

func TestAppendClaimValidation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AppendClaim(types.ScopeProject, &Claim{
		ClaimType:  "opinion",
		Text:       "x",
		SourceRefs: []SourceRef{EventRef("ev_run_x_000001")},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "claim_type", verr.Field)

	_, err = s.AppendClaim(types.ScopeProject, &Claim{ClaimType: types.ClaimFact, Text: "x"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source_refs", verr.Field)

	_, err = s.AppendClaim(types.ScopeProject, &Claim{
		ClaimType:  types.ClaimFact,
		Text:       "   ",
		SourceRefs: []SourceRef{EventRef("ev_run_x_000001")},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
}

func TestUnknownEventRefRejected(t *testing.T) {
	dir := t.TempDir()
	known := map[string]struct{}{"ev_ok_000001": {}}
	s, err := Open(OpenOptions{
		ProjectDir: filepath.Join(dir, "project"),
		GlobalDir:  filepath.Join(dir, "global"),
		ProjectID:  "proj1",
		KnownEvent: func(id string) bool { _, ok := known[id]; return ok },
	})
	require.NoError(t, err)

	_, err = s.AppendClaim(types.ScopeProject, &Claim{
		ClaimType:  types.ClaimFact,
		Text:       "cited from nowhere",
		SourceRefs: []SourceRef{EventRef("ev_missing_000009")},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = s.AppendClaim(types.ScopeProject, &Claim{
		ClaimType:  types.ClaimFact,
		Text:       "cited properly",
		SourceRefs: []SourceRef{EventRef("ev_ok_000001")},
	})
	require.NoError(t, err)
}

func TestSupersedeChainResolution(t *testing.T) {
	s := openTestStore(t)
	refs := []SourceRef{EventRef("ev_run_x_000001")}

	aID, err := s.AppendClaim(types.ScopeProject, testClaim("deploys happen on fridays"))
	require.NoError(t, err)
	bID, err := s.Supersede(aID, "deploys happen on mondays", refs)
	require.NoError(t, err)
	cID, err := s.Supersede(bID, "deploys happen on demand", refs)
	require.NoError(t, err)

	active := s.Run(Query{})
	require.Len(t, active.Claims, 1)
	assert.Equal(t, cID, active.Claims[0].ClaimID)

	all := s.Run(Query{IncludeSuperseded: true})
	require.Len(t, all.Claims, 3)
	statuses := map[string]types.Status{}
	for _, c := range all.Claims {
		statuses[c.ClaimID] = c.Status
	}
	assert.Equal(t, types.StatusSuperseded, statuses[aID])
	assert.Equal(t, types.StatusSuperseded, statuses[bID])
	assert.Equal(t, types.StatusActive, statuses[cID])

	assert.Equal(t, cID, s.ResolveNewest(aID))

	// A superseded claim cannot be superseded again.
	_, err = s.Supersede(aID, "deploys never happen", refs)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRetract(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AppendClaim(types.ScopeProject, testClaim("retract me"))
	require.NoError(t, err)

	require.NoError(t, s.Retract(id, "no longer true"))
	assert.Empty(t, s.Run(Query{}).Claims)

	res := s.Run(Query{IncludeRetracted: true})
	require.Len(t, res.Claims, 1)
	assert.Equal(t, types.StatusRetracted, res.Claims[0].Status)

	err = s.Retract(id, "again")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSameAsRedirect(t *testing.T) {
	s := openTestStore(t)
	dupID, err := s.AppendClaim(types.ScopeProject, testClaim("build uses makefiles"))
	require.NoError(t, err)
	canonID, err := s.AppendClaim(types.ScopeProject, testClaim("the build system is make"))
	require.NoError(t, err)

	require.NoError(t, s.SameAs(dupID, canonID, []SourceRef{EventRef("ev_run_x_000001")}))

	got := s.GetClaim(dupID)
	require.NotNil(t, got)
	assert.Equal(t, canonID, got.ClaimID, "lookups resolve duplicates to the canonical claim")
}

func TestAsOfFiltering(t *testing.T) {
	s := openTestStore(t)
	from := "2026-01-01T00:00:00Z"
	to := "2026-06-01T00:00:00Z"
	c := testClaim("the staging cluster is frozen")
	c.ValidFrom = &from
	c.ValidTo = &to
	_, err := s.AppendClaim(types.ScopeProject, c)
	require.NoError(t, err)

	assert.Len(t, s.Run(Query{AsOf: "2026-03-01T00:00:00Z"}).Claims, 1)
	assert.Empty(t, s.Run(Query{AsOf: "2025-12-31T00:00:00Z"}).Claims, "before valid_from")
	assert.Empty(t, s.Run(Query{AsOf: "2026-06-01T00:00:00Z"}).Claims, "valid_to is exclusive")
}

func TestQueryFilters(t *testing.T) {
	s := openTestStore(t)
	pref := testClaim("prefer table driven tests")
	pref.ClaimType = types.ClaimPreference
	pref.Tags = []string{"testing", "style"}
	_, err := s.AppendClaim(types.ScopeProject, pref)
	require.NoError(t, err)
	_, err = s.AppendClaim(types.ScopeProject, testClaim("ci runs on every push"))
	require.NoError(t, err)

	res := s.Run(Query{ClaimTypes: []types.ClaimType{types.ClaimPreference}})
	require.Len(t, res.Claims, 1)
	assert.Empty(t, res.Nodes, "claim-typed query excludes nodes")

	res = s.Run(Query{Tags: []string{"testing", "style"}})
	require.Len(t, res.Claims, 1)
	assert.Empty(t, s.Run(Query{Tags: []string{"testing", "missing"}}).Claims)

	res = s.Run(Query{Contains: "CI RUNS"})
	require.Len(t, res.Claims, 1)
}

func TestProjectWinsOverGlobalOnMerge(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendClaim(types.ScopeGlobal, testClaim("a global fact"))
	require.NoError(t, err)
	_, err = s.AppendClaim(types.ScopeProject, testClaim("a project fact"))
	require.NoError(t, err)

	merged := s.Run(Query{})
	assert.Len(t, merged.Claims, 2)
	assert.Len(t, s.Run(Query{Scope: types.ScopeProject}).Claims, 1)
	assert.Len(t, s.Run(Query{Scope: types.ScopeGlobal}).Claims, 1)
}

func TestNodeAppendAndTitleTruncation(t *testing.T) {
	s := openTestStore(t)
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	n := &Node{
		NodeType:   types.NodeDecision,
		Title:      long,
		Text:       "full decision text",
		SourceRefs: []SourceRef{EventRef("ev_run_x_000001")},
	}
	id, err := s.AppendNode(types.ScopeProject, n)
	require.NoError(t, err)

	got := s.GetNode(id)
	require.NotNil(t, got)
	assert.Len(t, got.Title, MaxTitleLen)
	assert.Equal(t, "...", got.Title[MaxTitleLen-3:])
}

func TestEdgeEndpointValidation(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AppendClaim(types.ScopeProject, testClaim("endpoint"))
	require.NoError(t, err)

	_, err = s.AppendEdge(types.ScopeProject, &Edge{
		EdgeType:   types.EdgeSupports,
		FromID:     "cl_unknown",
		ToID:       id,
		SourceRefs: []SourceRef{EventRef("ev_run_x_000001")},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "from_id", verr.Field)

	// Evidence event ids are valid endpoints.
	_, err = s.AppendEdge(types.ScopeProject, &Edge{
		EdgeType:   types.EdgeDependsOn,
		FromID:     "ev_run_x_000002",
		ToID:       id,
		SourceRefs: []SourceRef{EventRef("ev_run_x_000002")},
	})
	require.NoError(t, err)
}

func TestReplayMatchesIncrementalView(t *testing.T) {
	dir := t.TempDir()
	opts := OpenOptions{
		ProjectDir: filepath.Join(dir, "project"),
		GlobalDir:  filepath.Join(dir, "global"),
		ProjectID:  "proj1",
	}
	s, err := Open(opts)
	require.NoError(t, err)

	refs := []SourceRef{EventRef("ev_run_x_000001")}
	aID, err := s.AppendClaim(types.ScopeProject, testClaim("first"))
	require.NoError(t, err)
	bID, err := s.Supersede(aID, "second", refs)
	require.NoError(t, err)
	require.NoError(t, s.Retract(bID, "done"))
	_, err = s.AppendNode(types.ScopeProject, &Node{
		NodeType: types.NodeSummary, Title: "segment summary",
		Text: "what happened", SourceRefs: refs,
	})
	require.NoError(t, err)

	// A fresh open replays the logs from scratch; the resulting view must
	// match the incrementally maintained one.
	reopened, err := Open(opts)
	require.NoError(t, err)

	want := s.Run(Query{IncludeSuperseded: true, IncludeRetracted: true})
	got := reopened.Run(Query{IncludeSuperseded: true, IncludeRetracted: true})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replayed view differs from incremental view:\n%s", diff)
	}
}

func TestSnapshotIsPureCache(t *testing.T) {
	dir := t.TempDir()
	opts := OpenOptions{
		ProjectDir:          filepath.Join(dir, "project"),
		GlobalDir:           filepath.Join(dir, "global"),
		ProjectID:           "proj1",
		ProjectSnapshotPath: filepath.Join(dir, "project", "view.snapshot.json"),
		GlobalSnapshotPath:  filepath.Join(dir, "global", "view.snapshot.json"),
	}
	s, err := Open(opts)
	require.NoError(t, err)
	_, err = s.AppendClaim(types.ScopeProject, testClaim("cached fact"))
	require.NoError(t, err)
	s.Flush()

	// Reopen with the snapshot present.
	withSnap, err := Open(opts)
	require.NoError(t, err)

	// Reopen with snapshots disabled to force a full replay.
	noSnapOpts := opts
	noSnapOpts.ProjectSnapshotPath = ""
	noSnapOpts.GlobalSnapshotPath = ""
	replayed, err := Open(noSnapOpts)
	require.NoError(t, err)

	want := replayed.Run(Query{IncludeSuperseded: true, IncludeRetracted: true})
	got := withSnap.Run(Query{IncludeSuperseded: true, IncludeRetracted: true})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot view differs from replayed view:\n%s", diff)
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	dir := t.TempDir()
	opts := OpenOptions{
		ProjectDir:          filepath.Join(dir, "project"),
		GlobalDir:           filepath.Join(dir, "global"),
		ProjectID:           "proj1",
		ProjectSnapshotPath: filepath.Join(dir, "project", "view.snapshot.json"),
	}
	s, err := Open(opts)
	require.NoError(t, err)
	_, err = s.AppendClaim(types.ScopeProject, testClaim("first fact"))
	require.NoError(t, err)
	s.Flush()

	// Append past the snapshot without flushing: the snapshot key no longer
	// matches the logs.
	_, err = s.AppendClaim(types.ScopeProject, testClaim("second fact"))
	require.NoError(t, err)

	reopened, err := Open(opts)
	require.NoError(t, err)
	assert.Len(t, reopened.Run(Query{}).Claims, 2, "stale snapshot must be discarded in favor of replay")
}

func TestClaimSignatureNormalization(t *testing.T) {
	a := ClaimSignature(types.ClaimFact, types.ScopeProject, "p1", "Tests  Run with MAKE check")
	b := ClaimSignature(types.ClaimFact, types.ScopeProject, "p1", "tests run with make check")
	c := ClaimSignature(types.ClaimFact, types.ScopeProject, "p2", "tests run with make check")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
