package validation

import (
	"encoding/json"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Validator checks model output against the contracts before the pipeline
// is allowed to proceed. Uses JSON Schema Draft 2020-12.
type Validator interface {
	// ValidatePlans validates untyped planning-stage output and returns the
	// typed plan list. The whole element is invalid when a field is
	// malformed; nothing is silently discarded.
	ValidatePlans(raw json.RawMessage) ([]schema.Plan, error)

	// ValidateGenerationOutput validates one generation call's output.
	ValidateGenerationOutput(raw json.RawMessage) (*schema.GenerationResult, error)

	// ValidateRepairOutput validates one repair call's output.
	ValidateRepairOutput(raw json.RawMessage) (*schema.RepairResult, error)
}
