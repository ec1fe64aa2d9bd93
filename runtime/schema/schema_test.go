package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/schema"
)

func TestValidatePlanAcceptsValidPlan(t *testing.T) {
	v := schema.New()
	plan := map[string]any{
		"plan_id":        "p1",
		"schema_version": "0.1",
		"goal":           "echo hello",
		"steps": []any{
			map[string]any{
				"step_id":          "s1",
				"title":            "echo",
				"tool_ref":         map[string]any{"name": "echo-tool"},
				"input":            map[string]any{},
				"success_criteria": []any{"output non-empty"},
				"failure_policy":   "abort",
				"timeout_ms":       float64(1000),
				"max_retries":      float64(0),
			},
		},
	}

	result, err := v.Validate(schema.PlanSchema, plan)
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidatePlanRejectsMissingSteps(t *testing.T) {
	v := schema.New()
	plan := map[string]any{
		"plan_id":        "p1",
		"schema_version": "0.1",
		"goal":           "echo hello",
		"steps":          []any{},
	}

	result, err := v.Validate(schema.PlanSchema, plan)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestCompileRejectsOversizedSchema(t *testing.T) {
	v := schema.New()
	huge := `{"type":"string","description":"` + strings.Repeat("x", 200*1024) + `"}`

	_, err := v.Compile([]byte(huge))
	require.Error(t, err)
}

func TestCompileRejectsExcessiveNesting(t *testing.T) {
	v := schema.New()

	doc := `{"type":"object"}`
	for i := 0; i < 25; i++ {
		doc = `{"type":"object","properties":{"x":` + doc + `}}`
	}

	_, err := v.Compile([]byte(doc))
	require.Error(t, err)
}

func TestCompileCachesByContent(t *testing.T) {
	v := schema.New()
	s1, err := v.Compile(schema.ToolManifestSchema)
	require.NoError(t, err)
	s2, err := v.Compile(schema.ToolManifestSchema)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestValidateToolManifest(t *testing.T) {
	v := schema.New()
	manifest := map[string]any{
		"name":          "echo-tool",
		"version":       "1.0.0",
		"runner":        "internal",
		"input_schema":  map[string]any{},
		"output_schema": map[string]any{},
		"timeout_ms":    float64(5000),
	}

	result, err := v.Validate(schema.ToolManifestSchema, manifest)
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}
