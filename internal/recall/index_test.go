package recall

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"), 12)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestTokenize(t *testing.T) {
	toks := Tokenize("The build, uses MAKE; make check runs CI!")
	assert.Equal(t, []string{"build", "check", "ci", "make", "runs", "the", "uses"}, toks)
	assert.Empty(t, Tokenize("a ! ?"))
}

func TestIngestAndSearchRanking(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Ingest("cl_1", KindClaim, "project", "the deploy pipeline uses docker"))
	require.NoError(t, ix.Ingest("cl_2", KindClaim, "project", "docker images are cached in the registry"))
	require.NoError(t, ix.Ingest("cl_3", KindClaim, "project", "tests run with make check"))

	got := ix.Search("project", []string{KindClaim}, "docker deploy pipeline", 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "cl_1", got[0], "most token overlap ranks first")
	assert.NotContains(t, got, "cl_3")
}

func TestSearchScopeAndKindFilters(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Ingest("cl_p", KindClaim, "project", "editor config uses tabs"))
	require.NoError(t, ix.Ingest("cl_g", KindClaim, "global", "editor config uses tabs"))
	require.NoError(t, ix.Ingest("nd_1", KindNode, "project", "editor config decision"))

	assert.Equal(t, []string{"cl_p"}, ix.Search("project", []string{KindClaim}, "editor tabs", 10))
	assert.ElementsMatch(t, []string{"cl_p", "cl_g", "nd_1"}, ix.Search("", nil, "editor", 10))
}

func TestReingestReplacesTokens(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Ingest("cl_1", KindClaim, "project", "original wording here"))
	require.NoError(t, ix.Ingest("cl_1", KindClaim, "project", "completely different text"))

	assert.Empty(t, ix.Search("project", nil, "original wording", 10))
	assert.Equal(t, []string{"cl_1"}, ix.Search("project", nil, "different text", 10))
}

func TestRemove(t *testing.T) {
	ix := openTestIndex(t)
	require.NoError(t, ix.Ingest("cl_1", KindClaim, "project", "short lived entry"))
	require.NoError(t, ix.Remove("cl_1"))
	assert.Empty(t, ix.Search("project", nil, "short lived", 10))
}

func TestSearchTopKBound(t *testing.T) {
	ix := openTestIndex(t)
	for _, id := range []string{"cl_1", "cl_2", "cl_3", "cl_4"} {
		require.NoError(t, ix.Ingest(id, KindClaim, "project", "shared keyword alpha"))
	}
	assert.Len(t, ix.Search("project", nil, "alpha", 2), 2)
}
