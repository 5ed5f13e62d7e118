package mind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSchemasCompile(t *testing.T) {
	names := SchemaNames()
	assert.Len(t, names, 13)
	for _, name := range names {
		assert.True(t, KnownSchema(name))
		_, ok := instructions[name]
		assert.True(t, ok, "schema %s has no instruction text", name)
	}
}

func TestValidateDecideNext(t *testing.T) {
	good := map[string]any{
		"next_action": "continue",
		"status":      "not_done",
		"next_input":  "run the tests",
		"question":    nil,
		"rationale":   "tests not yet verified",
	}
	require.NoError(t, Validate(SchemaDecideNext, good))

	// Required fields may be null where the schema says so, never absent.
	missing := map[string]any{
		"next_action": "continue",
		"status":      "not_done",
		"rationale":   "x",
	}
	err := Validate(SchemaDecideNext, missing)
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FailValidation, se.Class)

	bad := map[string]any{
		"next_action": "retreat",
		"status":      "not_done",
		"next_input":  nil,
		"question":    nil,
		"rationale":   "x",
	}
	assert.Error(t, Validate(SchemaDecideNext, bad))
}

func TestValidateCheckpointDecide(t *testing.T) {
	require.NoError(t, Validate(SchemaCheckpointDecide, map[string]any{
		"boundary":                true,
		"reason":                  "feature landed",
		"should_mine_workflow":    false,
		"should_mine_preferences": false,
		"should_mine_claims":      true,
	}))
	assert.Error(t, Validate(SchemaCheckpointDecide, map[string]any{
		"boundary": "yes",
		"reason":   "feature landed",
	}))
}

func TestValidateMineClaims(t *testing.T) {
	require.NoError(t, Validate(SchemaMineClaims, map[string]any{
		"claims": []any{map[string]any{
			"claim_type":   "fact",
			"text":         "the build uses make",
			"tags":         []any{"build"},
			"confidence":   0.95,
			"high_benefit": false,
		}},
	}))
	assert.Error(t, Validate(SchemaMineClaims, map[string]any{
		"claims": []any{map[string]any{
			"claim_type": "rumor",
			"text":       "x",
		}},
	}))
}

func TestValidateUnknownSchema(t *testing.T) {
	err := Validate("no_such_schema", map[string]any{})
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FailValidation, se.Class)
}
