package schema

// FixAttempt is one repair attempt's input-context snapshot: the markup
// that was tried, the render error it produced, and (when the model
// returned one) its explanation of the change. Carried into subsequent
// repair prompts so the model does not repeat a failed strategy.
type FixAttempt struct {
	Chart       string `json:"chart"`
	Error       string `json:"error"`
	Explanation string `json:"explanation,omitempty"`
}

// RepairRequest is the input to one repair call. PreviousAttempts must
// contain every earlier attempt for this chart, oldest first.
type RepairRequest struct {
	ChartType           ChartType    `json:"chartType"`
	Chart               string       `json:"chart"`
	Error               string       `json:"error"`
	Description         string       `json:"description,omitempty"`
	PlanDescription     string       `json:"planDescription,omitempty"`
	OriginalUserMessage string       `json:"originalUserMessage,omitempty"`
	PreviousAttempts    []FixAttempt `json:"previousAttempts"`
}

// Validate rejects structurally unusable repair requests.
func (r *RepairRequest) Validate() error {
	if !r.ChartType.IsSupported() {
		return NewErrorf(ErrCodeUnsupportedChartType, "unsupported chart type %q", string(r.ChartType))
	}
	if r.Chart == "" {
		return NewError(ErrCodeInvalidRequest, "chart markup is required")
	}
	if r.Error == "" {
		return NewError(ErrCodeInvalidRequest, "render error is required")
	}
	return nil
}

// RepairResult is the validated output of one repair call. The contract
// requires the markup to preserve node identities, relationships and flow
// logic of the input; only what breaks parsing may change.
type RepairResult struct {
	Type        ChartType `json:"type"`
	Description string    `json:"description"`
	Chart       string    `json:"chart"`
	Explanation string    `json:"explanation"`
}
