package autopilot

import (
	"context"
	"strings"

	"mindloop/internal/evidence"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// TagVerification marks the canonical per-project claim describing how work
// is verified when there is no test suite. Asked for at most once.
const TagVerification = "verification_strategy"

// Pre-action outcomes. First applicable rule wins; send and answer skip the
// full decision call for this iteration.
const (
	actAskUser = "ask_user"
	actSend    = "send"
	actDecide  = "decide"
)

type preAction struct {
	kind     string
	input    string
	question string
	// storeAsVerification records the user's answer as the canonical
	// verification-strategy claim before re-planning.
	storeAsVerification bool
}

// arbitrate picks the next move ahead of the full decision call:
//  1. a question that needs the user is forwarded to the user;
//  2. a project without a verification strategy gets asked once, and the
//     answer is stored as a canonical claim;
//  3. an available auto-answer or minimal-check instruction is sent directly.
//
// Anything else falls through to decide_next.
func (s *Session) arbitrate(ctx context.Context, ext extraction) preAction {
	if s.pendingQuestion != "" {
		q := s.pendingQuestion
		s.pendingQuestion = ""
		return preAction{kind: actAskUser, question: q}
	}

	if s.needsVerificationStrategy(ext) {
		return preAction{
			kind:                actAskUser,
			question:            "No test suite was found in this project. How should completed work be verified? The answer is stored and reused.",
			storeAsVerification: true,
		}
	}

	if len(ext.OpenQuestions) > 0 {
		if act, ok := s.tryAutoAnswer(ctx, ext.OpenQuestions[0]); ok {
			return act
		}
	}

	if ext.maxRiskSeverity() != types.RiskLow && len(ext.Risks) > 0 {
		if act, ok := s.tryMinChecks(ctx, ext); ok {
			return act
		}
	}
	return preAction{kind: actDecide}
}

// extraction is the parsed extract_evidence response plus stream-level risk
// markers.
type extraction struct {
	Facts           []string
	OpenQuestions   []string
	ProgressSummary string
	Risks           []riskItem
}

type riskItem struct {
	Severity    types.RiskSeverity
	Description string
}

func (e extraction) maxRiskSeverity() types.RiskSeverity {
	max := types.RiskLow
	for _, r := range e.Risks {
		if r.Severity == types.RiskHigh {
			return types.RiskHigh
		}
		if r.Severity == types.RiskMedium {
			max = types.RiskMedium
		}
	}
	return max
}

// noTestMarkers trigger the one-time verification-strategy question.
var noTestMarkers = []string{
	"no test suite",
	"no tests",
	"tests are missing",
	"without tests",
	"cannot verify",
}

func (s *Session) needsVerificationStrategy(ext extraction) bool {
	mentioned := false
	for _, line := range append(ext.Facts, ext.OpenQuestions...) {
		lower := strings.ToLower(line)
		for _, m := range noTestMarkers {
			if strings.Contains(lower, m) {
				mentioned = true
				break
			}
		}
	}
	if !mentioned {
		return false
	}
	existing := s.store.Run(thoughtdb.Query{Tags: []string{TagVerification}, Limit: 1})
	return len(existing.Claims) == 0
}

// tryAutoAnswer asks the judgment service to answer the agent's question from
// stored claims. A confident answer is sent straight back; needs_user parks
// the question for the next arbitration pass.
func (s *Session) tryAutoAnswer(ctx context.Context, question string) (preAction, bool) {
	claims := s.store.Run(thoughtdb.Query{Limit: 20})
	res := s.caller.Call(ctx, mind.SchemaAutoAnswer, map[string]any{
		"question": question,
		"claims":   claimSummaries(claims.Claims),
	})
	if res.State != mind.StateOK {
		return preAction{}, false
	}
	needsUser, _ := res.Response["needs_user"].(bool)
	confidence, _ := res.Response["confidence"].(float64)
	answer, _ := res.Response["answer"].(string)
	if needsUser || answer == "" {
		s.pendingQuestion = question
		return preAction{kind: actAskUser, question: question}, true
	}
	if confidence < s.cfg.Mind.MinWriteConfidence {
		return preAction{}, false
	}
	s.append(evidence.KindAutoAnswer, map[string]any{
		"question":   question,
		"answer":     answer,
		"confidence": confidence,
	})
	return preAction{kind: actSend, input: answer}, true
}

// tryMinChecks plans a minimal verification detour for risky work.
func (s *Session) tryMinChecks(ctx context.Context, ext extraction) (preAction, bool) {
	var risks []map[string]any
	for _, r := range ext.Risks {
		risks = append(risks, map[string]any{
			"severity":    string(r.Severity),
			"description": r.Description,
		})
	}
	res := s.caller.Call(ctx, mind.SchemaPlanMinChecks, map[string]any{
		"risks":            risks,
		"progress_summary": ext.ProgressSummary,
	})
	if res.State != mind.StateOK {
		return preAction{}, false
	}
	checks, _ := res.Response["checks"].([]any)
	if len(checks) == 0 {
		return preAction{}, false
	}
	var lines []string
	for _, raw := range checks {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := item["description"].(string)
		if cmd, ok := item["command"].(string); ok && cmd != "" {
			desc += " (" + cmd + ")"
		}
		if desc != "" {
			lines = append(lines, "- "+desc)
		}
	}
	if len(lines) == 0 {
		return preAction{}, false
	}
	rationale, _ := res.Response["rationale"].(string)
	s.append(evidence.KindCheckPlan, map[string]any{
		"checks":    lines,
		"rationale": rationale,
	})
	input := "Before continuing, run these verification checks and report the results:\n" + strings.Join(lines, "\n")
	return preAction{kind: actSend, input: input}, true
}
