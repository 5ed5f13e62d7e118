// Package config loads mindloop configuration from YAML with environment
// overrides and sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mindloop configuration.
type Config struct {
	Run     RunConfig     `yaml:"run"`
	Mind    MindConfig    `yaml:"mind"`
	Hands   HandsConfig   `yaml:"hands"`
	Recall  RecallConfig  `yaml:"recall"`
	Logging LoggingConfig `yaml:"logging"`
}

// RunConfig configures the batch orchestration loop.
type RunConfig struct {
	// MaxBatches caps agent invocations per run.
	MaxBatches int `yaml:"max_batches"`

	// CircuitThreshold is the number of consecutive Mind failures that opens
	// the circuit breaker for the remainder of the run.
	CircuitThreshold int `yaml:"circuit_threshold"`

	// CheckpointEnabled toggles segment tracking and checkpoint mining.
	CheckpointEnabled bool `yaml:"checkpoint_enabled"`

	// SegmentMaxRecords bounds the in-flight segment evidence buffer.
	SegmentMaxRecords int `yaml:"segment_max_records"`

	// LoopBreakPolicy is the fallback when a loop-break call cannot produce a
	// safe action: "ask" to escalate to the user, "halt" to stop blocked.
	LoopBreakPolicy string `yaml:"loop_break_policy"`
}

// MindConfig configures the judgment service.
type MindConfig struct {
	Provider string   `yaml:"provider"` // gemini
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Timeout  Duration `yaml:"timeout"`

	// MinWriteConfidence gates why-trace edge materialization.
	MinWriteConfidence float64 `yaml:"min_write_confidence"`

	// MiningMinConfidence gates promotion of mined claims.
	MiningMinConfidence float64 `yaml:"mining_min_confidence"`

	// MiningMinOccurrences is the counter gate for promoting a mined
	// suggestion into a durable claim. High-benefit suggestions promote at 1.
	MiningMinOccurrences int `yaml:"mining_min_occurrences"`
}

// HandsConfig configures the execution agent subprocess.
type HandsConfig struct {
	// ExecArgv starts a fresh session; ResumeArgv continues one. Both support
	// {project_root}, {thread_id} and {prompt} placeholders.
	ExecArgv   []string `yaml:"exec_argv"`
	ResumeArgv []string `yaml:"resume_argv"`

	// PromptMode is "stdin" (default) or "arg".
	PromptMode string `yaml:"prompt_mode"`

	// ThreadIDRegex extracts the session/thread id from output lines
	// (first capture group).
	ThreadIDRegex string `yaml:"thread_id_regex"`

	// InterruptMode: "off", "on_high_risk".
	InterruptMode string `yaml:"interrupt_mode"`

	// EscalationDelays are the wait windows before each signal in the
	// interrupt -> terminate -> kill sequence.
	EscalationDelays []Duration `yaml:"escalation_delays"`

	Env map[string]string `yaml:"env"`
}

// RecallConfig configures the rebuildable text index.
type RecallConfig struct {
	Enabled bool `yaml:"enabled"`
	// TopKDefault is the default result cap for searches.
	TopKDefault int `yaml:"top_k_default"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Run: RunConfig{
			MaxBatches:        8,
			CircuitThreshold:  2,
			CheckpointEnabled: true,
			SegmentMaxRecords: 60,
			LoopBreakPolicy:   "ask",
		},
		Mind: MindConfig{
			Provider:             "gemini",
			Model:                "gemini-2.0-flash",
			Timeout:              Duration(120 * time.Second),
			MinWriteConfidence:   0.7,
			MiningMinConfidence:  0.9,
			MiningMinOccurrences: 2,
		},
		Hands: HandsConfig{
			PromptMode:       "stdin",
			InterruptMode:    "on_high_risk",
			EscalationDelays: []Duration{0, Duration(5 * time.Second), Duration(10 * time.Second)},
		},
		Recall: RecallConfig{
			Enabled:     true,
			TopKDefault: 12,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, merging over defaults. A missing file
// returns defaults without error; a malformed file is an error (user-authored
// config is never silently quarantined).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINDLOOP_API_KEY"); v != "" {
		cfg.Mind.APIKey = v
	}
	if v := os.Getenv("MINDLOOP_MODEL"); v != "" {
		cfg.Mind.Model = v
	}
	if v := os.Getenv("MINDLOOP_MAX_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Run.MaxBatches = n
		}
	}
	if v := os.Getenv("MINDLOOP_DEBUG"); v != "" {
		cfg.Logging.DebugMode = v == "1" || v == "true"
	}
}

// Paths resolves the per-project and global storage layout.
type Paths struct {
	HomeDir     string // e.g. ~/.mindloop
	ProjectID   string
	ProjectRoot string
}

// DefaultHome returns the mindloop home directory.
func DefaultHome() string {
	if v := os.Getenv("MINDLOOP_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindloop"
	}
	return filepath.Join(home, ".mindloop")
}

func (p Paths) projectDir() string {
	return filepath.Join(p.HomeDir, "projects", p.ProjectID)
}

// EvidenceLogPath is the per-project append-only evidence log.
func (p Paths) EvidenceLogPath() string {
	return filepath.Join(p.projectDir(), "evidence.jsonl")
}

// TranscriptDir holds raw subprocess transcripts.
func (p Paths) TranscriptDir() string {
	return filepath.Join(p.projectDir(), "transcripts")
}

// ThoughtDir returns the Thought DB directory for a scope.
func (p Paths) ThoughtDir(global bool) string {
	if global {
		return filepath.Join(p.HomeDir, "global", "thoughtdb")
	}
	return filepath.Join(p.projectDir(), "thoughtdb")
}

// ClaimsPath, EdgesPath and NodesPath are the three append-only logs of one
// Thought DB scope.
func (p Paths) ClaimsPath(global bool) string { return filepath.Join(p.ThoughtDir(global), "claims.jsonl") }
func (p Paths) EdgesPath(global bool) string  { return filepath.Join(p.ThoughtDir(global), "edges.jsonl") }
func (p Paths) NodesPath(global bool) string  { return filepath.Join(p.ThoughtDir(global), "nodes.jsonl") }

// ViewSnapshotPath is the optional materialized-view cache for a scope.
func (p Paths) ViewSnapshotPath(global bool) string {
	return filepath.Join(p.ThoughtDir(global), "view.snapshot.json")
}

// SegmentStatePath is the persisted in-flight segment buffer.
func (p Paths) SegmentStatePath() string {
	return filepath.Join(p.projectDir(), "segment_state.json")
}

// MiningCandidatesPath holds occurrence counters for mined suggestions.
func (p Paths) MiningCandidatesPath() string {
	return filepath.Join(p.projectDir(), "mining_candidates.json")
}

// RecallIndexPath is the sqlite recall index (a rebuildable cache).
func (p Paths) RecallIndexPath() string {
	return filepath.Join(p.HomeDir, "recall", "index.db")
}
