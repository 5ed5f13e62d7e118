package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mindloop/internal/config"
	"mindloop/internal/evidence"
	"mindloop/internal/recall"
	"mindloop/internal/thoughtdb"
)

// Output styles shared across commands.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// app bundles the per-invocation plumbing: resolved paths, the Thought DB
// store and an evidence writer scoped to this CLI invocation.
type app struct {
	paths  config.Paths
	store  *thoughtdb.Store
	writer *evidence.Writer
}

// openApp resolves the project identity and opens the store. Claim and node
// appends validate their evidence citations against the project evidence log,
// re-reading it on a miss so events written by this same invocation count.
func openApp() (*app, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	paths := config.Paths{
		HomeDir:     homeDir,
		ProjectID:   projectIDFor(root),
		ProjectRoot: root,
	}

	evidencePath := paths.EvidenceLogPath()
	known, err := evidence.KnownEventIDs(evidencePath)
	if err != nil {
		return nil, err
	}
	checker := func(eventID string) bool {
		if _, ok := known[eventID]; ok {
			return true
		}
		fresh, err := evidence.KnownEventIDs(evidencePath)
		if err != nil {
			return false
		}
		known = fresh
		_, ok := known[eventID]
		return ok
	}

	store, err := thoughtdb.Open(thoughtdb.OpenOptions{
		ProjectDir:          paths.ThoughtDir(false),
		GlobalDir:           paths.ThoughtDir(true),
		ProjectID:           paths.ProjectID,
		ProjectSnapshotPath: paths.ViewSnapshotPath(false),
		GlobalSnapshotPath:  paths.ViewSnapshotPath(true),
		KnownEvent:          checker,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		paths:  paths,
		store:  store,
		writer: evidence.NewWriter(evidencePath, evidence.NewRunID("cli")),
	}, nil
}

// close flushes dirty view snapshots.
func (a *app) close() {
	a.store.Flush()
}

// openRecall opens the recall index when enabled. A nil return means search
// backfill is simply unavailable; nothing in the store depends on it.
func (a *app) openRecall() *recall.Index {
	if !cfg.Recall.Enabled {
		return nil
	}
	ix, err := recall.OpenIndex(a.paths.RecallIndexPath(), cfg.Recall.TopKDefault)
	if err != nil {
		return nil
	}
	return ix
}

// projectIDFor derives a stable project identifier from the root path:
// readable directory name plus a short path hash to keep same-named
// checkouts apart.
func projectIDFor(root string) string {
	base := strings.ToLower(filepath.Base(root))
	var b strings.Builder
	for _, r := range base {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	sum := sha256.Sum256([]byte(root))
	return b.String() + "-" + hex.EncodeToString(sum[:])[:8]
}

// refsFromFlags turns --ref values into source refs.
func refsFromFlags(eventIDs []string) []thoughtdb.SourceRef {
	refs := make([]thoughtdb.SourceRef, 0, len(eventIDs))
	for _, id := range eventIDs {
		refs = append(refs, thoughtdb.EventRef(id))
	}
	return refs
}

// selfRef records a user_input evidence event for a manual CLI assertion and
// returns a ref citing it. Manual writes get provenance like any other write.
func (a *app) selfRef(kind, text string) ([]thoughtdb.SourceRef, error) {
	ev, err := a.writer.Append(evidence.KindUserInput, map[string]any{
		"input":  text,
		"origin": kind,
	})
	if err != nil {
		return nil, err
	}
	return []thoughtdb.SourceRef{thoughtdb.EventRef(ev.EventID)}, nil
}

func clipText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
