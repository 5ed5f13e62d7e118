package autopilot

import (
	"context"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// candidateState persists occurrence counters for preference suggestions
// across runs, keyed by claim signature. The counter gate keeps one-shot
// noise out of the store.
type candidateState struct {
	Counters map[string]int `json:"counters"`
}

// Miner promotes judgment-service mining suggestions into durable claims.
// Claims promote on confidence alone; preferences additionally need a
// minimum occurrence count, with high-benefit ones promoting on first sight.
type Miner struct {
	Store          *thoughtdb.Store
	Mind           *mind.Caller
	Writer         *evidence.Writer
	MinConfidence  float64
	MinOccurrences int

	statePath string
	state     candidateState
}

// NewMiner loads persisted occurrence counters. A corrupt counter file is
// quarantined and counting restarts; at worst a preference needs to re-earn
// its occurrences.
func NewMiner(store *thoughtdb.Store, caller *mind.Caller, writer *evidence.Writer,
	minConfidence float64, minOccurrences int, statePath string) *Miner {
	m := &Miner{
		Store:          store,
		Mind:           caller,
		Writer:         writer,
		MinConfidence:  minConfidence,
		MinOccurrences: minOccurrences,
		statePath:      statePath,
	}
	if statePath != "" {
		if _, err := evidence.ReadJSONState(statePath, &m.state); err != nil {
			logging.Get(logging.CategoryCheckpoint).Warnw("mining counters quarantined", "error", err)
		}
	}
	if m.state.Counters == nil {
		m.state.Counters = make(map[string]int)
	}
	return m
}

// MineClaims asks for durable claims over the segment and promotes the ones
// that clear the gates. Returns the ids of newly appended claims.
func (m *Miner) MineClaims(ctx context.Context, records []SegmentRecord) []string {
	res := m.Mind.Call(ctx, mind.SchemaMineClaims, segmentContext(records))
	if res.State != mind.StateOK {
		return nil
	}
	raw, _ := res.Response["claims"].([]any)
	return m.promote(raw, records, false)
}

// MinePreferences mines stable user preferences; same gates, preference type
// forced.
func (m *Miner) MinePreferences(ctx context.Context, records []SegmentRecord) []string {
	res := m.Mind.Call(ctx, mind.SchemaMinePreferences, segmentContext(records))
	if res.State != mind.StateOK {
		return nil
	}
	raw, _ := res.Response["preferences"].([]any)
	return m.promote(raw, records, true)
}

func (m *Miner) promote(suggestions []any, records []SegmentRecord, forcePreference bool) []string {
	log := logging.Get(logging.CategoryCheckpoint)
	refs := segmentRefs(records)
	var appended []string

	for _, rawItem := range suggestions {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		text, _ := item["text"].(string)
		confidence, _ := item["confidence"].(float64)
		highBenefit, _ := item["high_benefit"].(bool)
		claimType := types.ClaimPreference
		if !forcePreference {
			if ct, ok := item["claim_type"].(string); ok {
				claimType = types.ClaimType(ct)
			}
		}
		if text == "" || !claimType.Valid() {
			continue
		}
		if confidence < m.MinConfidence {
			log.Debugw("suggestion below confidence gate", "confidence", confidence)
			continue
		}

		// Counter keys are project-local files, so the bare signature is fine
		// as a key; dedupe against the store goes through its own scope id.
		sig := thoughtdb.ClaimSignature(claimType, types.ScopeProject, "", text)
		if m.Store.FindActiveByText(claimType, types.ScopeProject, text) != nil {
			continue // already known
		}
		// Only preferences carry the occurrence gate; a confident claim is
		// worth keeping the first time it is proposed.
		if forcePreference {
			m.state.Counters[sig]++
			needed := m.MinOccurrences
			if highBenefit {
				needed = 1
			}
			if m.state.Counters[sig] < needed {
				log.Debugw("preference below occurrence gate",
					"occurrences", m.state.Counters[sig], "needed", needed)
				continue
			}
		}

		claim := &thoughtdb.Claim{
			ClaimType:  claimType,
			Text:       text,
			Tags:       stringSlice(item["tags"]),
			SourceRefs: refs,
			Confidence: confidence,
		}
		id, err := m.Store.AppendClaim(types.ScopeProject, claim)
		if err != nil {
			log.Warnw("mined claim rejected", "error", err)
			continue
		}
		delete(m.state.Counters, sig)
		appended = append(appended, id)
		log.Infow("claim mined", "claim_id", id, "type", claimType, "confidence", confidence)
	}
	m.persist()
	return appended
}

func (m *Miner) persist() {
	if m.statePath == "" {
		return
	}
	if err := evidence.WriteJSONAtomic(m.statePath, &m.state); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warnw("mining counters write failed", "error", err)
	}
}

// segmentRefs cites the segment's events, newest kept within the ref cap.
func segmentRefs(records []SegmentRecord) []thoughtdb.SourceRef {
	if len(records) > thoughtdb.MaxClaimSourceRefs {
		records = records[len(records)-thoughtdb.MaxClaimSourceRefs:]
	}
	refs := make([]thoughtdb.SourceRef, 0, len(records))
	for _, r := range records {
		refs = append(refs, thoughtdb.EventRef(r.EventID))
	}
	return refs
}

func segmentContext(records []SegmentRecord) map[string]any {
	items := make([]map[string]any, 0, len(records))
	for _, r := range records {
		items = append(items, map[string]any{
			"event_id": r.EventID,
			"kind":     r.Kind,
			"summary":  r.Summary,
		})
	}
	return map[string]any{"segment": items}
}

func stringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
