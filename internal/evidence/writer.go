package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mindloop/internal/logging"
)

// NewRunID returns a fresh run identifier: prefix + time component + entropy.
func NewRunID(prefix string) string {
	if prefix == "" {
		prefix = "run"
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// Writer appends evidence events for one run.
//
// Guarantees:
//   - seq is strictly increasing and gapless within the run
//   - event_id = ev_<run_id>_<seq:06d> is globally unique
//   - each record is written with a single O_APPEND write under an advisory
//     lock, so concurrent runs appending to the same log never interleave
//     partial records
type Writer struct {
	mu    sync.Mutex
	path  string
	runID string
	seq   int
}

// NewWriter creates a writer for the log at path under the given run id.
func NewWriter(path, runID string) *Writer {
	return &Writer{path: path, runID: runID}
}

// RunID returns the writer's run identifier.
func (w *Writer) RunID() string { return w.runID }

// Seq returns the last assigned sequence number.
func (w *Writer) Seq() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Append assigns the next sequence number and event id, stamps ts when
// missing, and appends the record to the log. The returned event carries the
// assigned identifiers.
func (w *Writer) Append(kind string, payload map[string]any) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	ev := Event{
		EventID: fmt.Sprintf("ev_%s_%06d", w.runID, w.seq),
		RunID:   w.runID,
		Seq:     w.seq,
		TS:      NowRFC3339(),
		Kind:    kind,
		Payload: p,
	}
	if ts, ok := p["ts"].(string); ok && ts != "" {
		ev.TS = ts
		delete(p, "ts")
	}

	if err := appendLine(w.path, ev); err != nil {
		w.seq-- // the record never hit the log
		return Event{}, err
	}
	logging.Get(logging.CategoryStore).Debugw("evidence appended", "event_id", ev.EventID, "kind", kind)
	return ev, nil
}

// appendLine writes one newline-terminated JSON record with a single write
// call while holding an advisory flock on the file.
func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("evidence: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("evidence: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("evidence: open %s: %w", path, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("evidence: lock %s: %w", path, err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("evidence: append %s: %w", path, err)
	}
	return nil
}

// AppendJSONL appends an arbitrary record to a JSONL file with the same
// atomic-append discipline as evidence events. Used by the Thought DB logs
// and the transcript store.
func AppendJSONL(path string, v any) error {
	return appendLine(path, v)
}
