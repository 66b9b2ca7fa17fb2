package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Models do not always return the canonical shape even when asked: a plan
// list sometimes arrives wrapped as {"plans": [...]} or {"charts": [...]},
// a single object sometimes arrives wrapped as {"result": {...}}.
// Normalizer projects those loose shapes onto the canonical one before
// schema validation, using jq expressions compiled once and cached.

const (
	planListExpr = `if type == "array" then . elif type != "object" then [.] elif (.plans | type) == "array" then .plans elif (.charts | type) == "array" then .charts else [.] end`
	objectExpr   = `if type != "object" then . elif (.chart | type) == "string" then . elif (.result | type) == "object" then .result else . end`
)

// Normalizer rewrites loosely-shaped model output into canonical shape.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type Normalizer struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewNormalizer creates a Normalizer with an empty compilation cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{cache: make(map[string]*gojq.Code)}
}

// PlanList coerces output into a JSON array of plan elements.
func (n *Normalizer) PlanList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return n.apply(ctx, planListExpr, raw)
}

// Object coerces output into a single JSON object.
func (n *Normalizer) Object(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return n.apply(ctx, objectExpr, raw)
}

func (n *Normalizer) apply(ctx context.Context, expr string, raw json.RawMessage) (json.RawMessage, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "model output is not valid JSON").WithCause(err)
	}

	code, err := n.getOrCompile(expr)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, data)
	val, ok := iter.Next()
	if !ok {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "normalization produced no output")
	}
	if jqErr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeSchemaValidation,
			"normalization failed: %s", jqErr.Error()).WithCause(jqErr)
	}

	out, err := json.Marshal(val)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaValidation, "re-encode normalized output").WithCause(err)
	}
	return out, nil
}

func (n *Normalizer) getOrCompile(expr string) (*gojq.Code, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if code, ok := n.cache[expr]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchemaValidation, "parse jq expression: %s", err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchemaValidation, "compile jq expression: %s", err.Error()).WithCause(err)
	}

	n.cache[expr] = code
	return code, nil
}
