package mind

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names. Each names a fixed response shape; required fields are never
// omitted and nullable fields are explicit nulls.
const (
	SchemaExtractEvidence  = "extract_evidence"
	SchemaRiskJudge        = "risk_judge"
	SchemaPlanMinChecks    = "plan_min_checks"
	SchemaAutoAnswer       = "auto_answer"
	SchemaDecideNext       = "decide_next"
	SchemaCheckpointDecide = "checkpoint_decide"
	SchemaMineClaims       = "mine_claims"
	SchemaMinePreferences  = "mine_preferences"
	SchemaSuggestWorkflow  = "suggest_workflow"
	SchemaWorkflowProgress = "workflow_progress"
	SchemaLoopBreak        = "loop_break"
	SchemaWhyTrace         = "why_trace"
	SchemaLearnUpdate      = "learn_update"
)

var schemaSources = map[string]string{
	SchemaExtractEvidence: `{
		"type": "object",
		"required": ["facts", "risks", "open_questions", "progress_summary"],
		"properties": {
			"facts": {"type": "array", "items": {"type": "string"}},
			"risks": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["severity", "description"],
					"properties": {
						"severity": {"enum": ["low", "medium", "high"]},
						"description": {"type": "string"}
					}
				}
			},
			"open_questions": {"type": "array", "items": {"type": "string"}},
			"progress_summary": {"type": "string"}
		}
	}`,
	SchemaRiskJudge: `{
		"type": "object",
		"required": ["severity", "reasons", "should_interrupt"],
		"properties": {
			"severity": {"enum": ["low", "medium", "high"]},
			"reasons": {"type": "array", "items": {"type": "string"}},
			"should_interrupt": {"type": "boolean"}
		}
	}`,
	SchemaPlanMinChecks: `{
		"type": "object",
		"required": ["checks", "rationale"],
		"properties": {
			"checks": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["description", "command"],
					"properties": {
						"description": {"type": "string"},
						"command": {"type": ["string", "null"]}
					}
				}
			},
			"rationale": {"type": "string"}
		}
	}`,
	SchemaAutoAnswer: `{
		"type": "object",
		"required": ["answer", "confidence", "needs_user"],
		"properties": {
			"answer": {"type": ["string", "null"]},
			"confidence": {"type": "number"},
			"needs_user": {"type": "boolean"}
		}
	}`,
	SchemaDecideNext: `{
		"type": "object",
		"required": ["next_action", "status", "next_input", "question", "rationale"],
		"properties": {
			"next_action": {"enum": ["continue", "ask_user", "stop"]},
			"status": {"enum": ["not_done", "done", "blocked"]},
			"next_input": {"type": ["string", "null"]},
			"question": {"type": ["string", "null"]},
			"rationale": {"type": "string"}
		}
	}`,
	SchemaCheckpointDecide: `{
		"type": "object",
		"required": ["boundary", "reason", "should_mine_workflow", "should_mine_preferences", "should_mine_claims"],
		"properties": {
			"boundary": {"type": "boolean"},
			"reason": {"type": "string"},
			"should_mine_workflow": {"type": "boolean"},
			"should_mine_preferences": {"type": "boolean"},
			"should_mine_claims": {"type": "boolean"}
		}
	}`,
	SchemaMineClaims: `{
		"type": "object",
		"required": ["claims"],
		"properties": {
			"claims": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["claim_type", "text", "tags", "confidence", "high_benefit"],
					"properties": {
						"claim_type": {"enum": ["fact", "preference", "assumption", "goal"]},
						"text": {"type": "string"},
						"tags": {"type": "array", "items": {"type": "string"}},
						"confidence": {"type": "number"},
						"high_benefit": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	SchemaMinePreferences: `{
		"type": "object",
		"required": ["preferences"],
		"properties": {
			"preferences": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["text", "tags", "confidence", "high_benefit"],
					"properties": {
						"text": {"type": "string"},
						"tags": {"type": "array", "items": {"type": "string"}},
						"confidence": {"type": "number"},
						"high_benefit": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	SchemaSuggestWorkflow: `{
		"type": "object",
		"required": ["name", "steps", "confidence"],
		"properties": {
			"name": {"type": "string"},
			"steps": {"type": "array", "items": {"type": "string"}},
			"confidence": {"type": "number"}
		}
	}`,
	SchemaWorkflowProgress: `{
		"type": "object",
		"required": ["current_step", "done_steps", "notes"],
		"properties": {
			"current_step": {"type": "integer"},
			"done_steps": {"type": "array", "items": {"type": "integer"}},
			"notes": {"type": "string"}
		}
	}`,
	SchemaLoopBreak: `{
		"type": "object",
		"required": ["action", "next_input", "question", "rationale"],
		"properties": {
			"action": {"enum": ["rewrite_input", "min_check", "ask_user", "stop"]},
			"next_input": {"type": ["string", "null"]},
			"question": {"type": ["string", "null"]},
			"rationale": {"type": "string"}
		}
	}`,
	SchemaWhyTrace: `{
		"type": "object",
		"required": ["chosen_claim_ids", "explanation", "confidence"],
		"properties": {
			"chosen_claim_ids": {"type": "array", "items": {"type": "string"}},
			"explanation": {"type": "string"},
			"confidence": {"type": "number"}
		}
	}`,
	SchemaLearnUpdate: `{
		"type": "object",
		"required": ["updates"],
		"properties": {
			"updates": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["claim_id", "action", "new_text", "reason"],
					"properties": {
						"claim_id": {"type": "string"},
						"action": {"enum": ["keep", "retract", "supersede"]},
						"new_text": {"type": ["string", "null"]},
						"reason": {"type": "string"}
					}
				}
			}
		}
	}`,
}

var compiled = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for name, src := range schemaSources {
		s, err := jsonschema.CompileString(name+".json", src)
		if err != nil {
			panic(fmt.Sprintf("mind: bad builtin schema %s: %v", name, err))
		}
		out[name] = s
	}
	return out
}()

// SchemaNames lists the known schema names, sorted.
func SchemaNames() []string {
	out := make([]string, 0, len(compiled))
	for name := range compiled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// KnownSchema reports whether name is a registered schema.
func KnownSchema(name string) bool {
	_, ok := compiled[name]
	return ok
}

// Validate checks a decoded response against the named schema. A failure is a
// *ServiceError with class validation.
func Validate(schema string, resp map[string]any) error {
	s, ok := compiled[schema]
	if !ok {
		return validationErr(schema, fmt.Errorf("unknown schema %q", schema))
	}
	if err := s.Validate(any(resp)); err != nil {
		return validationErr(schema, err)
	}
	return nil
}

// instructions are the per-schema task framing sent ahead of the context
// object. The model must answer with one JSON object matching the schema.
var instructions = map[string]string{
	SchemaExtractEvidence:  "Extract durable evidence from the agent transcript below: concrete facts, risks with severity, open questions, and a one-paragraph progress summary.",
	SchemaRiskJudge:        "Judge the risk of the action described below. Flag should_interrupt only for destructive or irreversible operations.",
	SchemaPlanMinChecks:    "Plan the minimal set of verification checks that would confirm the work below actually succeeded. Prefer cheap, read-only checks.",
	SchemaAutoAnswer:       "The agent asked a question. Answer it from the provided claims and evidence when you are confident; otherwise set needs_user true and answer null.",
	SchemaDecideNext:       "Decide the next move for the work session: continue with a concrete next_input, ask_user with a question, or stop with status done or blocked.",
	SchemaCheckpointDecide: "Decide whether the accumulated evidence below constitutes a completed segment of work (a checkpoint boundary), and which mining passes are worth running.",
	SchemaMineClaims:       "Mine the segment evidence below for durable, reusable claims about this project. Only propose claims that will still be true next week.",
	SchemaMinePreferences:  "Mine the segment evidence below for stable user preferences about how work should be done.",
	SchemaSuggestWorkflow:  "Summarize the segment below as a reusable named workflow with ordered steps.",
	SchemaWorkflowProgress: "Given the workflow steps and the latest evidence, report which step is current and which are done.",
	SchemaLoopBreak:        "The session is repeating itself. Propose one safe way out: rewrite the next input, order a minimal check, escalate to the user, or stop.",
	SchemaWhyTrace:         "Select the minimal subset of candidate claims that explains the target. Never invent claim ids; choose only from the candidates.",
	SchemaLearnUpdate:      "Review the claims below against the new evidence and propose keep/retract/supersede updates.",
}
