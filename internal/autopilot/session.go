// Package autopilot is the batch orchestration state machine: it runs the
// execution agent in batches, extracts evidence, arbitrates between
// auto-answering, minimal checks and user escalation, tracks checkpoint
// boundaries, detects stuck repetition, and isolates judgment-service
// failures behind a circuit breaker.
//
// All mutable run state lives on the Session value; two sessions over
// different projects never share anything but the global Thought DB logs.
package autopilot

import (
	"context"
	"fmt"
	"strings"

	"mindloop/internal/config"
	"mindloop/internal/evidence"
	"mindloop/internal/hands"
	"mindloop/internal/logging"
	"mindloop/internal/mind"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

// State is one phase of the run loop. Transitions are logged so a run can be
// reconstructed from the evidence log plus the run log.
type State string

const (
	StatePreDecide  State = "predecide"
	StateExecute    State = "execute_hands"
	StatePostBatch  State = "post_batch"
	StateCheckpoint State = "checkpoint"
	StateDone       State = "done"
	StateBlocked    State = "blocked"
)

// Terminal run statuses.
const (
	StatusDone      = "done"
	StatusBlocked   = "blocked"
	StatusExhausted = "exhausted" // batch budget spent before done
)

// AskFunc forwards a question to the user and returns the answer. A nil
// AskFunc makes every escalation halt the run instead.
type AskFunc func(question string) (string, error)

// Options wires a session.
type Options struct {
	Config config.Config
	Store  *thoughtdb.Store
	Caller *mind.Caller
	Hands  types.HandsProvider
	Writer *evidence.Writer
	Ask    AskFunc

	// Search ranks claim ids for a query; optional (recall index).
	Search func(query string, k int) []string
}

// Session is one batch-orchestration run over one project.
type Session struct {
	cfg    config.Config
	store  *thoughtdb.Store
	caller *mind.Caller
	hands  types.HandsProvider
	writer *evidence.Writer
	ask    AskFunc
	search func(query string, k int) []string

	loop         *LoopGuard
	segment      *SegmentTracker
	checkpointer *Checkpointer

	state           State
	threadID        string
	lastOutput      string
	pendingQuestion string
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID   string
	Status  string
	Batches int
}

// NewSession builds a session. segmentStatePath and miningStatePath persist
// tracker state across aborted runs; corruption there quarantines and
// degrades to empty state.
func NewSession(opts Options, segmentStatePath, miningStatePath string) (*Session, error) {
	if opts.Store == nil || opts.Caller == nil || opts.Hands == nil || opts.Writer == nil {
		return nil, fmt.Errorf("autopilot: store, caller, hands and writer are required")
	}
	segment, err := NewSegmentTracker(segmentStatePath, opts.Config.Run.SegmentMaxRecords)
	if err != nil {
		// Quarantined state is an audit event, not a failure.
		if _, werr := opts.Writer.Append(evidence.KindStateWarning, map[string]any{
			"component": "segment_tracker",
			"error":     err.Error(),
		}); werr != nil {
			logging.Get(logging.CategoryRun).Warnw("state warning write failed", "error", werr)
		}
	}
	miner := NewMiner(opts.Store, opts.Caller, opts.Writer,
		opts.Config.Mind.MiningMinConfidence, opts.Config.Mind.MiningMinOccurrences, miningStatePath)

	s := &Session{
		cfg:     opts.Config,
		store:   opts.Store,
		caller:  opts.Caller,
		hands:   opts.Hands,
		writer:  opts.Writer,
		ask:     opts.Ask,
		search:  opts.Search,
		loop:    &LoopGuard{},
		segment: segment,
	}
	s.checkpointer = &Checkpointer{
		Mind:    opts.Caller,
		Writer:  opts.Writer,
		Store:   opts.Store,
		Segment: segment,
		Miner:   miner,
		Enabled: opts.Config.Run.CheckpointEnabled,
	}
	return s, nil
}

// Run drives the task to a terminal status. The run always ends with one
// final checkpoint evaluation so buffered evidence is never lost.
func (s *Session) Run(ctx context.Context, task string) (*RunResult, error) {
	log := logging.Get(logging.CategoryRun)
	timer := logging.StartTimer(logging.CategoryRun, "run")
	defer timer.Stop()

	s.append(evidence.KindUserInput, map[string]any{"input": task, "origin": "task"})

	input := task
	status := StatusExhausted
	batches := 0

	for batch := 1; batch <= s.cfg.Run.MaxBatches; batch++ {
		batches = batch
		batchID := fmt.Sprintf("batch_%d", batch)

		// Loop guard runs on every planned input before it is sent.
		s.transition(StatePreDecide)
		next, halt := s.guardLoop(ctx, input)
		if halt {
			status = StatusBlocked
			break
		}
		input = next

		s.transition(StateExecute)
		hr, err := s.invokeHands(ctx, input)
		if err != nil {
			log.Errorw("agent invocation failed", "error", err)
			status = StatusBlocked
			break
		}
		s.lastOutput = hr.LastMessage
		if hr.ThreadID != "" {
			s.threadID = hr.ThreadID
		}

		s.transition(StatePostBatch)
		ext := s.extractEvidence(ctx, hr)
		s.recordRisks(ctx, hr, &ext)

		act := s.arbitrate(ctx, ext)
		stop := false
		switch act.kind {
		case actAskUser:
			answer, ok := s.askUser(act.question)
			if !ok {
				status = StatusBlocked
				stop = true
				break
			}
			if act.storeAsVerification {
				s.storeVerificationStrategy(answer)
			}
			input = answer
		case actSend:
			input = act.input
		case actDecide:
			dec, ok := s.decideNext(ctx, task, hr.LastMessage)
			if !ok {
				input, status, stop = s.judgmentFallback()
				break
			}
			s.append(evidence.KindDecideNext, map[string]any{
				"next_action": dec.NextAction,
				"status":      dec.Status,
				"rationale":   dec.Rationale,
			})
			switch dec.NextAction {
			case "continue":
				input = dec.NextInput
			case "ask_user":
				answer, ok := s.askUser(dec.Question)
				if !ok {
					status = StatusBlocked
					stop = true
					break
				}
				input = answer
			case "stop":
				if dec.Status == "done" {
					status = StatusDone
				} else {
					status = StatusBlocked
				}
				stop = true
			}
		}

		// One checkpoint evaluation per batch, before the next input goes
		// out. A stopping batch defers to the run-end evaluation so the
		// final segment is judged exactly once.
		if stop {
			break
		}
		s.transition(StateCheckpoint)
		s.checkpointer.Evaluate(ctx, batchID, statusHint(status, stop))
		if strings.TrimSpace(input) == "" {
			log.Warnw("empty next input, stopping")
			status = StatusBlocked
			break
		}
	}

	// Run-end finalization: a run that ends mid-segment still gets exactly
	// one final evaluation.
	s.checkpointer.Evaluate(ctx, "run_end", status)
	s.store.Flush()

	if status == StatusDone {
		s.transition(StateDone)
	} else {
		s.transition(StateBlocked)
	}
	log.Infow("run finished", "status", status, "batches", batches)
	return &RunResult{RunID: s.writer.RunID(), Status: status, Batches: batches}, nil
}

// guardLoop checks the planned input for stuck repetition and, on detection,
// spends one loop-break call before falling back to the configured policy.
func (s *Session) guardLoop(ctx context.Context, input string) (string, bool) {
	pattern := s.loop.Observe(Signature(s.lastOutput, input))
	if pattern == "" {
		return input, false
	}
	s.append(evidence.KindLoopDetected, map[string]any{"pattern": pattern})
	logging.Get(logging.CategoryRun).Warnw("loop detected", "pattern", pattern)

	res := s.caller.Call(ctx, mind.SchemaLoopBreak, map[string]any{
		"pattern":     pattern,
		"last_output": clip(s.lastOutput),
		"next_input":  clip(input),
	})
	if res.State == mind.StateOK {
		action, _ := res.Response["action"].(string)
		rationale, _ := res.Response["rationale"].(string)
		s.append(evidence.KindLoopBreak, map[string]any{"action": action, "rationale": rationale})
		switch action {
		case "rewrite_input", "min_check":
			if v, ok := res.Response["next_input"].(string); ok && strings.TrimSpace(v) != "" {
				s.loop.Reset()
				return v, false
			}
		case "ask_user":
			question, _ := res.Response["question"].(string)
			if question == "" {
				question = "The session is repeating itself. What should happen next?"
			}
			if answer, ok := s.askUser(question); ok {
				s.loop.Reset()
				return answer, false
			}
			return input, true
		case "stop":
			return input, true
		}
	}

	// Loop break could not produce a safe action.
	if s.cfg.Run.LoopBreakPolicy == "ask" {
		if answer, ok := s.askUser("The session is stuck in a loop. Provide a new instruction, or say stop."); ok {
			s.loop.Reset()
			return answer, false
		}
	}
	return input, true
}

// invokeHands resumes the current thread when one exists, falling back to a
// fresh session on resume failure (and recording the fallback).
func (s *Session) invokeHands(ctx context.Context, input string) (*types.HandsResult, error) {
	s.append(evidence.KindHandsInput, map[string]any{
		"input":     input,
		"thread_id": s.threadID,
	})
	if s.threadID != "" {
		hr, err := s.hands.Resume(ctx, s.threadID, input)
		if err == nil {
			return hr, nil
		}
		if !hands.IsAgentProcessError(err) {
			return nil, err
		}
		s.append(evidence.KindHandsFallback, map[string]any{
			"thread_id": s.threadID,
			"error":     err.Error(),
		})
		logging.Get(logging.CategoryHands).Warnw("resume failed, starting fresh session", "error", err)
		s.threadID = ""
	}
	return s.hands.Start(ctx, input)
}

// extractEvidence turns the agent transcript into durable evidence. When the
// judgment service is unavailable the raw last message is kept as the only
// fact, so the segment never goes empty-handed.
func (s *Session) extractEvidence(ctx context.Context, hr *types.HandsResult) extraction {
	res := s.caller.Call(ctx, mind.SchemaExtractEvidence, map[string]any{
		"last_message": hr.LastMessage,
		"exit_code":    hr.ExitCode,
		"lines":        tailLines(hr, 80),
	})
	var ext extraction
	if res.State == mind.StateOK {
		ext.Facts = stringSlice(res.Response["facts"])
		ext.OpenQuestions = stringSlice(res.Response["open_questions"])
		ext.ProgressSummary, _ = res.Response["progress_summary"].(string)
		if risks, ok := res.Response["risks"].([]any); ok {
			for _, raw := range risks {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				sev, _ := item["severity"].(string)
				desc, _ := item["description"].(string)
				ext.Risks = append(ext.Risks, riskItem{
					Severity:    types.RiskSeverity(sev),
					Description: desc,
				})
			}
		}
	} else {
		ext.Facts = []string{hr.LastMessage}
		ext.ProgressSummary = hr.LastMessage
	}

	ev, err := s.writer.Append(evidence.KindEvidence, map[string]any{
		"facts":            ext.Facts,
		"open_questions":   ext.OpenQuestions,
		"progress_summary": ext.ProgressSummary,
		"transcript_path":  hr.TranscriptPath,
		"exit_code":        hr.ExitCode,
	})
	if err != nil {
		logging.Get(logging.CategoryRun).Warnw("evidence write failed", "error", err)
		return ext
	}
	s.segment.Record(ev.EventID, evidence.KindEvidence, ext.ProgressSummary)
	return ext
}

// recordRisks writes risk events for extraction findings and stream markers.
// Marker hits get a risk_judge grading; a medium or high grade joins the
// extraction risks so the min-check arbitration sees it.
func (s *Session) recordRisks(ctx context.Context, hr *types.HandsResult, ext *extraction) {
	for _, r := range ext.Risks {
		ev, err := s.writer.Append(evidence.KindRiskEvent, map[string]any{
			"severity":    string(r.Severity),
			"description": r.Description,
			"source":      "extraction",
		})
		if err == nil {
			s.segment.Record(ev.EventID, evidence.KindRiskEvent, r.Description)
		}
	}
	if len(hr.RiskMarkers) == 0 {
		return
	}

	// Marker scans overtrigger; the grade defaults to high when the
	// judgment service cannot soften it.
	severity := string(types.RiskHigh)
	reasons := hr.RiskMarkers
	res := s.caller.Call(ctx, mind.SchemaRiskJudge, map[string]any{
		"markers":      hr.RiskMarkers,
		"last_message": clip(hr.LastMessage),
		"interrupted":  hr.Interrupted,
	})
	if res.State == mind.StateOK {
		if v, ok := res.Response["severity"].(string); ok && v != "" {
			severity = v
		}
		if graded := stringSlice(res.Response["reasons"]); len(graded) > 0 {
			reasons = graded
		}
	}
	s.append(evidence.KindRiskEvent, map[string]any{
		"severity":    severity,
		"markers":     hr.RiskMarkers,
		"reasons":     reasons,
		"interrupted": hr.Interrupted,
		"source":      "stream_scan",
	})
	if severity != string(types.RiskLow) {
		ext.Risks = append(ext.Risks, riskItem{
			Severity:    types.RiskSeverity(severity),
			Description: strings.Join(reasons, "; "),
		})
	}
}

// judgmentFallback handles an unavailable judgment service at decision time:
// ask the user when possible, otherwise halt blocked.
func (s *Session) judgmentFallback() (string, string, bool) {
	answer, ok := s.askUser("The judgment service is unavailable. Provide the next instruction, or say stop.")
	if !ok || strings.EqualFold(strings.TrimSpace(answer), "stop") {
		return "", StatusBlocked, true
	}
	return answer, StatusExhausted, false
}

func (s *Session) storeVerificationStrategy(answer string) {
	ev, err := s.writer.Append(evidence.KindUserInput, map[string]any{
		"input":  answer,
		"origin": "verification_strategy",
	})
	if err != nil {
		return
	}
	_, err = s.store.AppendClaim(types.ScopeProject, &thoughtdb.Claim{
		ClaimType:  types.ClaimPreference,
		Text:       "Verification strategy: " + answer,
		Tags:       []string{TagVerification, TagPinned},
		SourceRefs: []thoughtdb.SourceRef{thoughtdb.EventRef(ev.EventID)},
		Confidence: 1.0,
	})
	if err != nil {
		logging.Get(logging.CategoryRun).Warnw("verification claim rejected", "error", err)
	}
}

func (s *Session) askUser(question string) (string, bool) {
	if s.ask == nil {
		return "", false
	}
	answer, err := s.ask(question)
	if err != nil || strings.TrimSpace(answer) == "" {
		return "", false
	}
	s.append(evidence.KindUserInput, map[string]any{
		"question": question,
		"input":    answer,
		"origin":   "ask_user",
	})
	return answer, true
}

func (s *Session) append(kind string, payload map[string]any) {
	if _, err := s.writer.Append(kind, payload); err != nil {
		logging.Get(logging.CategoryRun).Warnw("evidence write failed", "kind", kind, "error", err)
	}
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	logging.Get(logging.CategoryRun).Debugw("state transition", "from", string(s.state), "to", string(next))
	s.state = next
}

func statusHint(status string, stopping bool) string {
	if stopping {
		return status
	}
	return "not_done"
}

func tailLines(hr *types.HandsResult, n int) []string {
	events := hr.Events
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Line)
	}
	return out
}
