package schema

// GenerationRequest is the input to one generation call. The description
// fields are free text and may be absent; prompt assembly must omit empty
// sections rather than emit placeholders. ID is an optional caller-chosen
// correlation token, echoed on the result so batch callers can match
// results to requests without relying on array order.
type GenerationRequest struct {
	ID                  string    `json:"id,omitempty"`
	ChartType           ChartType `json:"chartType"`
	OriginalUserMessage string    `json:"originalUserMessage,omitempty"`
	PlanDescription     string    `json:"planDescription,omitempty"`
	Messages            []Message `json:"messages,omitempty"`
}

// Validate rejects requests whose chart type is outside the registry.
func (r *GenerationRequest) Validate() error {
	if !r.ChartType.IsSupported() {
		return NewErrorf(ErrCodeUnsupportedChartType, "unsupported chart type %q", string(r.ChartType))
	}
	return nil
}

// GenerationResult is the validated output of one generation call.
// Chart is raw Mermaid markup; it is preserved verbatim even when it
// later fails to render. ID is the request's correlation token, set by
// the pipeline, never by the model.
type GenerationResult struct {
	ID          string    `json:"id,omitempty"`
	Type        ChartType `json:"type"`
	Description string    `json:"description"`
	Chart       string    `json:"chart"`
}
