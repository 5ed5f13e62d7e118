// Package hands drives the external execution agent as a subprocess: argv
// templating, prompt delivery over stdin or argv, incremental line parsing of
// the output stream, transcript capture, thread-id discovery, and an
// escalating-signal interrupt path for high-risk actions.
package hands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mindloop/internal/config"
	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// AgentProcessError reports an agent process that could not be started, died
// unexpectedly, or failed to resume. The orchestrator falls back to a fresh
// session and records the fallback.
type AgentProcessError struct {
	Op  string // start | resume | stream
	Err error
}

func (e *AgentProcessError) Error() string {
	return fmt.Sprintf("hands: %s failed: %v", e.Op, e.Err)
}

func (e *AgentProcessError) Unwrap() error { return e.Err }

// IsAgentProcessError reports whether err wraps an AgentProcessError.
func IsAgentProcessError(err error) bool {
	var ae *AgentProcessError
	return errors.As(err, &ae)
}

// riskMarkers are scanned best-effort on every output line, structured or
// not. A hit never blocks by itself; the interrupt mode decides.
var riskMarkers = []string{
	"rm -rf",
	"git push --force",
	"git push -f",
	"git reset --hard",
	"drop table",
	"drop database",
	"truncate table",
	"sudo ",
	"chmod -r 777",
	"mkfs",
	"> /dev/",
}

// CLIProvider runs the agent CLI configured by HandsConfig.
type CLIProvider struct {
	cfg           config.HandsConfig
	projectRoot   string
	transcriptDir string
	threadRe      *regexp.Regexp
}

// NewCLI builds a provider. The thread-id regex is compiled eagerly so a bad
// pattern fails at startup, not mid-run.
func NewCLI(cfg config.HandsConfig, projectRoot, transcriptDir string) (*CLIProvider, error) {
	if len(cfg.ExecArgv) == 0 {
		return nil, fmt.Errorf("hands: exec_argv is required")
	}
	var re *regexp.Regexp
	if cfg.ThreadIDRegex != "" {
		var err error
		re, err = regexp.Compile(cfg.ThreadIDRegex)
		if err != nil {
			return nil, fmt.Errorf("hands: bad thread_id_regex: %w", err)
		}
	}
	return &CLIProvider{
		cfg:           cfg,
		projectRoot:   projectRoot,
		transcriptDir: transcriptDir,

		threadRe: re,
	}, nil
}

// Start opens a fresh agent session.
func (p *CLIProvider) Start(ctx context.Context, input string) (*types.HandsResult, error) {
	res, err := p.run(ctx, p.cfg.ExecArgv, "", input)
	if err != nil {
		return nil, &AgentProcessError{Op: "start", Err: err}
	}
	return res, nil
}

// Resume continues an existing session. Providers without a resume command
// report an AgentProcessError so the caller can fall back to Start.
func (p *CLIProvider) Resume(ctx context.Context, threadID, input string) (*types.HandsResult, error) {
	if len(p.cfg.ResumeArgv) == 0 || threadID == "" {
		return nil, &AgentProcessError{Op: "resume", Err: fmt.Errorf("no resume command or thread id")}
	}
	res, err := p.run(ctx, p.cfg.ResumeArgv, threadID, input)
	if err != nil {
		return nil, &AgentProcessError{Op: "resume", Err: err}
	}
	return res, nil
}

func (p *CLIProvider) run(ctx context.Context, argvTemplate []string, threadID, input string) (*types.HandsResult, error) {
	log := logging.Get(logging.CategoryHands)
	argv := p.expandArgv(argvTemplate, threadID, input)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv after templating")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.projectRoot
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if p.cfg.PromptMode != "arg" {
		cmd.Stdin = strings.NewReader(input)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	transcript, err := p.openTranscript()
	if err != nil {
		return nil, err
	}
	defer transcript.Close()

	start := time.Now()
	log.Infow("agent starting", "argv0", argv[0], "thread_id", threadID)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	collector := &streamCollector{
		threadRe:   p.threadRe,
		transcript: transcript,
	}
	interrupt := newInterrupter(cmd.Process, p.cfg)

	g := new(errgroup.Group)
	g.Go(func() error { return collector.pump("stdout", stdout, interrupt) })
	g.Go(func() error { return collector.pump("stderr", stderr, interrupt) })
	pumpErr := g.Wait()

	waitErr := cmd.Wait()
	interrupt.stop()

	res := collector.result()
	res.ThreadID = firstNonEmpty(res.ThreadID, threadID)
	res.ExitCode = exitCode(waitErr)
	res.DurationMs = time.Since(start).Milliseconds()
	res.TranscriptPath = transcript.path
	res.Interrupted = interrupt.fired()

	if pumpErr != nil && !res.Interrupted {
		return nil, fmt.Errorf("stream: %w", pumpErr)
	}
	if ctx.Err() != nil && !res.Interrupted {
		return nil, ctx.Err()
	}
	log.Infow("agent finished",
		"exit_code", res.ExitCode, "events", len(res.Events),
		"duration_ms", res.DurationMs, "interrupted", res.Interrupted)
	return res, nil
}

// expandArgv substitutes the {project_root}, {thread_id} and {prompt}
// placeholders. In stdin prompt mode a bare {prompt} argument is dropped.
func (p *CLIProvider) expandArgv(template []string, threadID, input string) []string {
	out := make([]string, 0, len(template))
	for _, arg := range template {
		if arg == "{prompt}" && p.cfg.PromptMode != "arg" {
			continue
		}
		arg = strings.ReplaceAll(arg, "{project_root}", p.projectRoot)
		arg = strings.ReplaceAll(arg, "{thread_id}", threadID)
		arg = strings.ReplaceAll(arg, "{prompt}", input)
		out = append(out, arg)
	}
	return out
}

// transcriptFile appends one JSONL record per raw output line.
type transcriptFile struct {
	path string
	f    *os.File
	mu   sync.Mutex
	enc  *json.Encoder
}

func (p *CLIProvider) openTranscript() (*transcriptFile, error) {
	if err := os.MkdirAll(p.transcriptDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(p.transcriptDir, fmt.Sprintf("hands_%d.jsonl", time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &transcriptFile{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (t *transcriptFile) write(stream, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.enc.Encode(map[string]string{
		"ts":     evidence.NowRFC3339(),
		"stream": stream,
		"line":   line,
	})
}

func (t *transcriptFile) Close() error { return t.f.Close() }

// streamCollector parses agent output incrementally: JSON lines become
// structured events, everything else is kept as raw text. Thread ids are
// sniffed from both forms.
type streamCollector struct {
	threadRe   *regexp.Regexp
	transcript *transcriptFile

	mu          sync.Mutex
	events      []types.HandsEvent
	threadID    string
	lastMessage string
	markers     []string
	markerSeen  map[string]struct{}
}

func (c *streamCollector) pump(stream string, r interface{ Read([]byte) (int, error) }, interrupt *interrupter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		c.transcript.write(stream, line)
		c.ingest(stream, line, interrupt)
	}
	return scanner.Err()
}

func (c *streamCollector) ingest(stream, line string, interrupt *interrupter) {
	ev := types.HandsEvent{Stream: stream, Line: line}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			ev.JSON = obj
		}
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	if c.threadID == "" {
		c.threadID = sniffThreadID(c.threadRe, line, ev.JSON)
	}
	if msg := messageOf(ev); msg != "" {
		c.lastMessage = msg
	}
	lower := strings.ToLower(line)
	var hit bool
	for _, m := range riskMarkers {
		if strings.Contains(lower, m) {
			if c.markerSeen == nil {
				c.markerSeen = make(map[string]struct{})
			}
			if _, dup := c.markerSeen[m]; !dup {
				c.markerSeen[m] = struct{}{}
				c.markers = append(c.markers, m)
			}
			hit = true
		}
	}
	c.mu.Unlock()

	if hit {
		interrupt.onHighRisk()
	}
}

func sniffThreadID(re *regexp.Regexp, line string, obj map[string]any) string {
	if re != nil {
		if m := re.FindStringSubmatch(line); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	if obj != nil {
		for _, key := range []string{"session_id", "thread_id"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func messageOf(ev types.HandsEvent) string {
	if ev.JSON != nil {
		for _, key := range []string{"message", "text", "content"} {
			if v, ok := ev.JSON[key].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
		return ""
	}
	if ev.Stream == "stdout" && strings.TrimSpace(ev.Line) != "" {
		return ev.Line
	}
	return ""
}

func (c *streamCollector) result() *types.HandsResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.HandsResult{
		ThreadID:    c.threadID,
		Events:      c.events,
		LastMessage: c.lastMessage,
		RiskMarkers: append([]string(nil), c.markers...),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return ee.ExitCode()
	}
	return -1
}
