package hands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindloop/internal/config"
	"mindloop/internal/evidence"
)

func newProvider(t *testing.T, cfg config.HandsConfig) *CLIProvider {
	t.Helper()
	p, err := NewCLI(cfg, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	return p
}

func TestStartCapturesStreamAndLastMessage(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv: []string{"sh", "-c", `echo "working on it"; echo "all done"`},
	})
	res, err := p.Start(context.Background(), "do the task")
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "working on it", res.Events[0].Line)
	assert.Equal(t, "all done", res.LastMessage)
	assert.False(t, res.Interrupted)
}

func TestJSONEventsAndSessionIDSniffing(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv: []string{"sh", "-c",
			`echo '{"session_id":"th_42","message":"starting"}'; echo plain`},
	})
	res, err := p.Start(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, "th_42", res.ThreadID)
	require.Len(t, res.Events, 2)
	require.NotNil(t, res.Events[0].JSON)
	assert.Equal(t, "starting", res.Events[0].JSON["message"])
	assert.Nil(t, res.Events[1].JSON)
}

func TestThreadIDRegexTakesFirstCaptureGroup(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv:      []string{"sh", "-c", `echo "session started: abc-123"`},
		ThreadIDRegex: `session started: ([a-z0-9-]+)`,
	})
	res, err := p.Start(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.ThreadID)
}

func TestPromptOverStdin(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv:   []string{"sh", "-c", "cat"},
		PromptMode: "stdin",
	})
	res, err := p.Start(context.Background(), "the prompt text")
	require.NoError(t, err)
	assert.Equal(t, "the prompt text", res.LastMessage)
}

func TestPromptAsArgv(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv:   []string{"echo", "{prompt}"},
		PromptMode: "arg",
	})
	res, err := p.Start(context.Background(), "argv prompt")
	require.NoError(t, err)
	assert.Equal(t, "argv prompt", res.LastMessage)
}

func TestTranscriptWritten(t *testing.T) {
	dir := t.TempDir()
	p, err := NewCLI(config.HandsConfig{
		ExecArgv: []string{"sh", "-c", `echo one; echo two 1>&2`},
	}, t.TempDir(), dir)
	require.NoError(t, err)

	res, err := p.Start(context.Background(), "go")
	require.NoError(t, err)
	require.NotEmpty(t, res.TranscriptPath)

	var lines []map[string]any
	require.NoError(t, evidence.IterJSONL(res.TranscriptPath, func(raw []byte) bool {
		var rec map[string]any
		if json.Unmarshal(raw, &rec) == nil {
			lines = append(lines, rec)
		}
		return true
	}, nil))
	require.Len(t, lines, 2)
	streams := map[string]bool{}
	for _, rec := range lines {
		streams[rec["stream"].(string)] = true
		assert.NotEmpty(t, rec["ts"])
	}
	assert.True(t, streams["stdout"])
	assert.True(t, streams["stderr"])
}

func TestRiskMarkerScan(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv:      []string{"sh", "-c", `echo "about to run rm -rf build"; echo "then sudo make install"`},
		InterruptMode: "off",
	})
	res, err := p.Start(context.Background(), "go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rm -rf", "sudo "}, res.RiskMarkers)
	assert.False(t, res.Interrupted, "interrupt mode off never signals")
}

func TestNonZeroExit(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv: []string{"sh", "-c", "echo failing; exit 3"},
	})
	res, err := p.Start(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestResumeWithoutCommandFails(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv: []string{"sh", "-c", "echo hi"},
	})
	_, err := p.Resume(context.Background(), "th_1", "go")
	require.Error(t, err)
	assert.True(t, IsAgentProcessError(err))
}

func TestResumeTemplatesThreadID(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv:   []string{"sh", "-c", "echo start"},
		ResumeArgv: []string{"echo", "resuming", "{thread_id}"},
		PromptMode: "arg",
	})
	res, err := p.Resume(context.Background(), "th_9", "go")
	require.NoError(t, err)
	assert.Equal(t, "resuming th_9", res.LastMessage)
	assert.Equal(t, "th_9", res.ThreadID)
}

func TestBadThreadRegexRejectedAtConstruction(t *testing.T) {
	_, err := NewCLI(config.HandsConfig{
		ExecArgv:      []string{"sh"},
		ThreadIDRegex: "([unclosed",
	}, t.TempDir(), t.TempDir())
	require.Error(t, err)
}

func TestMissingBinaryIsAgentProcessError(t *testing.T) {
	p := newProvider(t, config.HandsConfig{
		ExecArgv: []string{"/nonexistent/agent-binary"},
	})
	_, err := p.Start(context.Background(), "go")
	require.Error(t, err)
	assert.True(t, IsAgentProcessError(err))
}
