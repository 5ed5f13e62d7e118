// Package evidence implements the append-only evidence log: one JSON object
// per line, single writer per run, durable sequence numbers. Event ids are
// the only citable provenance anchor in the system; claims, nodes and edges
// reference them and never raw transcript lines.
package evidence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds written by the orchestrator. The set is closed; unknown kinds
// in a log are preserved on replay but never produced.
const (
	KindHandsInput    = "hands_input"
	KindEvidence      = "evidence"
	KindRiskEvent     = "risk_event"
	KindCheckPlan     = "check_plan"
	KindAutoAnswer    = "auto_answer"
	KindDecideNext    = "decide_next"
	KindCheckpoint    = "checkpoint"
	KindSnapshot      = "snapshot"
	KindUserInput     = "user_input"
	KindLoopDetected  = "loop_detected"
	KindLoopBreak     = "loop_break"
	KindMindError     = "mind_error"
	KindMindCircuit   = "mind_circuit"
	KindStateWarning  = "state_warning"
	KindHandsFallback = "hands_fallback"
	KindWhyTrace      = "why_trace"
)

// Event is one evidence log record. Payload carries the kind-specific fields;
// on disk the record is a single flat JSON object.
type Event struct {
	EventID string
	RunID   string
	Seq     int
	TS      string
	Kind    string
	Payload map[string]any
}

// MarshalJSON flattens the payload into the envelope fields.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+5)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["event_id"] = e.EventID
	out["run_id"] = e.RunID
	out["seq"] = e.Seq
	out["ts"] = e.TS
	out["kind"] = e.Kind
	return json.Marshal(out)
}

// UnmarshalJSON splits the envelope fields back out of the flat object.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.EventID, _ = raw["event_id"].(string)
	e.RunID, _ = raw["run_id"].(string)
	if f, ok := raw["seq"].(float64); ok {
		e.Seq = int(f)
	}
	e.TS, _ = raw["ts"].(string)
	e.Kind, _ = raw["kind"].(string)
	delete(raw, "event_id")
	delete(raw, "run_id")
	delete(raw, "seq")
	delete(raw, "ts")
	delete(raw, "kind")
	e.Payload = raw
	return nil
}

// String returns a compact identity for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s(%s seq=%d)", e.Kind, e.EventID, e.Seq)
}

// NowRFC3339 formats the current UTC time the way every log record does.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
