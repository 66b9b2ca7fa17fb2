package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Schema documents are built once at startup with the chart type registry
// injected as an enum, so registry membership is checked by the schema
// itself, not by a second pass.
const (
	planListSchemaURL   = "https://chartforge.dev/schemas/plan-list.json"
	generationSchemaURL = "https://chartforge.dev/schemas/generation-result.json"
	repairSchemaURL     = "https://chartforge.dev/schemas/repair-result.json"
)

func planListSchemaJSON(enum string) string {
	return fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": %q,
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type", "description"],
    "properties": {
      "type": { "enum": %s },
      "description": { "type": "string", "minLength": 1 }
    },
    "additionalProperties": false
  }
}`, planListSchemaURL, enum)
}

func generationSchemaJSON(enum string) string {
	return fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": %q,
  "type": "object",
  "required": ["type", "description", "chart"],
  "properties": {
    "type": { "enum": %s },
    "description": { "type": "string" },
    "chart": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`, generationSchemaURL, enum)
}

func repairSchemaJSON(enum string) string {
	return fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": %q,
  "type": "object",
  "required": ["type", "description", "chart", "explanation"],
  "properties": {
    "type": { "enum": %s },
    "description": { "type": "string" },
    "chart": { "type": "string", "minLength": 1 },
    "explanation": { "type": "string" }
  },
  "additionalProperties": true
}`, repairSchemaURL, enum)
}

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// Schemas are compiled once; the validator is safe for concurrent use.
type JSONSchemaValidator struct {
	planList   *jsonschema.Schema
	generation *jsonschema.Schema
	repair     *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the plan, generation and repair schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	enumBytes, err := json.Marshal(schema.ChartTypeStrings())
	if err != nil {
		return nil, fmt.Errorf("marshal chart type enum: %w", err)
	}
	enum := string(enumBytes)

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(url, doc string) (*jsonschema.Schema, error) {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", url, err)
		}
		return compiled, nil
	}

	v := &JSONSchemaValidator{}
	if v.planList, err = compile(planListSchemaURL, planListSchemaJSON(enum)); err != nil {
		return nil, err
	}
	if v.generation, err = compile(generationSchemaURL, generationSchemaJSON(enum)); err != nil {
		return nil, err
	}
	if v.repair, err = compile(repairSchemaURL, repairSchemaJSON(enum)); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidatePlans validates planning-stage output against the plan-list schema.
func (v *JSONSchemaValidator) ValidatePlans(raw json.RawMessage) ([]schema.Plan, error) {
	if err := v.validate(v.planList, raw); err != nil {
		return nil, err
	}
	var plans []schema.Plan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "decode plan list").WithCause(err)
	}
	return plans, nil
}

// ValidateGenerationOutput validates one generation call's output.
func (v *JSONSchemaValidator) ValidateGenerationOutput(raw json.RawMessage) (*schema.GenerationResult, error) {
	if err := v.validate(v.generation, raw); err != nil {
		return nil, err
	}
	var res schema.GenerationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "decode generation result").WithCause(err)
	}
	return &res, nil
}

// ValidateRepairOutput validates one repair call's output.
func (v *JSONSchemaValidator) ValidateRepairOutput(raw json.RawMessage) (*schema.RepairResult, error) {
	if err := v.validate(v.repair, raw); err != nil {
		return nil, err
	}
	var res schema.RepairResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "decode repair result").WithCause(err)
	}
	return &res, nil
}

func (v *JSONSchemaValidator) validate(s *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		return schema.NewError(schema.ErrCodeSchemaValidation, "empty model output")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeSchemaValidation, "model output is not valid JSON").WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// toSchemaError converts a jsonschema.ValidationError into a structured
// Error that names which element and field failed and why.
func toSchemaError(err error) *schema.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeSchemaValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeSchemaValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeSchemaValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeSchemaValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
