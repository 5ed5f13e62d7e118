package autopilot

import (
	"mindloop/internal/evidence"
	"mindloop/internal/logging"
)

// SegmentRecord is one buffered evidence entry for the in-flight segment.
type SegmentRecord struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

// segmentState is the persisted form of the tracker, so an aborted run does
// not lose its buffered evidence.
type segmentState struct {
	Records           []SegmentRecord `json:"records"`
	LastCheckpointKey string          `json:"last_checkpoint_key"`
}

// SegmentTracker accumulates evidence since the last checkpoint boundary.
// Recording is purely additive; only a positive checkpoint decision resets
// the buffer.
type SegmentTracker struct {
	maxRecords int
	statePath  string
	state      segmentState
}

// NewSegmentTracker loads any persisted segment state. A corrupt state file
// is quarantined and the tracker starts empty; the quarantine is reported to
// the caller for audit.
func NewSegmentTracker(statePath string, maxRecords int) (*SegmentTracker, error) {
	t := &SegmentTracker{maxRecords: maxRecords, statePath: statePath}
	if statePath != "" {
		if _, err := evidence.ReadJSONState(statePath, &t.state); err != nil {
			t.state = segmentState{}
			return t, err
		}
	}
	return t, nil
}

// Record buffers one evidence entry. The oldest entries fall off past the
// size bound; the evidence log itself keeps everything.
func (t *SegmentTracker) Record(eventID, kind, summary string) {
	t.state.Records = append(t.state.Records, SegmentRecord{
		EventID: eventID, Kind: kind, Summary: summary,
	})
	if t.maxRecords > 0 && len(t.state.Records) > t.maxRecords {
		t.state.Records = t.state.Records[len(t.state.Records)-t.maxRecords:]
	}
	t.persist()
}

// Records returns the buffered entries in order.
func (t *SegmentTracker) Records() []SegmentRecord {
	return append([]SegmentRecord(nil), t.state.Records...)
}

// EventIDs returns the buffered event ids in order.
func (t *SegmentTracker) EventIDs() []string {
	out := make([]string, 0, len(t.state.Records))
	for _, r := range t.state.Records {
		out = append(out, r.EventID)
	}
	return out
}

// Len reports the buffer size.
func (t *SegmentTracker) Len() int { return len(t.state.Records) }

// AlreadyEvaluated dedupes checkpoint evaluations: the same batch/status pair
// is only judged once.
func (t *SegmentTracker) AlreadyEvaluated(key string) bool {
	return key != "" && key == t.state.LastCheckpointKey
}

// MarkEvaluated records the dedupe key of the latest checkpoint evaluation.
func (t *SegmentTracker) MarkEvaluated(key string) {
	t.state.LastCheckpointKey = key
	t.persist()
}

// Reset clears the buffer after a checkpoint boundary.
func (t *SegmentTracker) Reset() {
	t.state.Records = nil
	t.persist()
}

func (t *SegmentTracker) persist() {
	if t.statePath == "" {
		return
	}
	if err := evidence.WriteJSONAtomic(t.statePath, &t.state); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("segment state write failed", "error", err)
	}
}
