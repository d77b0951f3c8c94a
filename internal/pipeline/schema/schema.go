// Package schema validates each tree-of-thought stage's LLM JSON response
// against a JSON Schema before it is trusted, replacing the
// original's ad hoc field-presence checks.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	comprehendSchema = `{
		"type": "object",
		"required": ["exception_description", "rationale"],
		"properties": {
			"exception_description": {"type": "string", "minLength": 1},
			"rationale": {"type": "string", "minLength": 1}
		}
	}`

	faultLocalizeSchema = `{
		"type": "object",
		"required": ["snippet", "rationale"],
		"properties": {
			"snippet": {"type": "string", "minLength": 1},
			"rationale": {"type": "string", "minLength": 1}
		}
	}`

	judgeScoreSchema = `{
		"type": "object",
		"required": ["score"],
		"properties": {
			"score": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`

	suggestRepairSchema = `{
		"type": "object",
		"required": ["summary", "detailed_strategy", "rationale"],
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"detailed_strategy": {"type": "string", "minLength": 1},
			"rationale": {"type": "string", "minLength": 1}
		}
	}`

	generatePatchSchema = `{
		"type": "object",
		"required": ["patched_code", "rationale"],
		"properties": {
			"patched_code": {"type": "string", "minLength": 1},
			"rationale": {"type": "string", "minLength": 1}
		}
	}`
)

// Kind names each stage's expected response shape.
type Kind string

const (
	Comprehend    Kind = "comprehend"
	FaultLocalize Kind = "fault_localize"
	JudgeScore    Kind = "judge_score"
	SuggestRepair Kind = "suggest_repair"
	GeneratePatch Kind = "generate_patch"
)

var compiled map[Kind]*jsonschema.Schema

func init() {
	raw := map[Kind]string{
		Comprehend:    comprehendSchema,
		FaultLocalize: faultLocalizeSchema,
		JudgeScore:    judgeScoreSchema,
		SuggestRepair: suggestRepairSchema,
		GeneratePatch: generatePatchSchema,
	}
	compiled = make(map[Kind]*jsonschema.Schema, len(raw))
	for kind, doc := range raw {
		c := jsonschema.NewCompiler()
		name := string(kind) + ".json"
		if err := c.AddResource(name, strings.NewReader(doc)); err != nil {
			panic(fmt.Sprintf("schema: invalid embedded schema for %s: %v", kind, err))
		}
		s, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("schema: compile embedded schema for %s: %v", kind, err))
		}
		compiled[kind] = s
	}
}

// Validate parses raw as JSON and validates it against kind's schema,
// returning the decoded value on success.
func Validate(kind Kind, raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("schema: decode %s response: %w", kind, err)
	}
	s, ok := compiled[kind]
	if !ok {
		return nil, fmt.Errorf("schema: unknown kind %s", kind)
	}
	if err := s.Validate(v); err != nil {
		return nil, fmt.Errorf("schema: %s response failed validation: %w", kind, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: %s response is not a JSON object", kind)
	}
	return m, nil
}
