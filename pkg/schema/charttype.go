package schema

// ChartType identifies one of the supported Mermaid diagram dialects.
// The set is closed: values outside it are rejected at every boundary,
// never coerced.
type ChartType string

const (
	ChartTypeFlowchart ChartType = "flowchart"
	ChartTypeSequence  ChartType = "sequence"
	ChartTypeClass     ChartType = "class"
	ChartTypeState     ChartType = "state"
	ChartTypeER        ChartType = "er"
	ChartTypeGantt     ChartType = "gantt"
	ChartTypeJourney   ChartType = "journey"
	ChartTypePie       ChartType = "pie"
	ChartTypeMindmap   ChartType = "mindmap"
	ChartTypeTimeline  ChartType = "timeline"
	ChartTypeGitGraph  ChartType = "gitgraph"
)

// AllChartTypes lists every supported chart type in stable order.
var AllChartTypes = []ChartType{
	ChartTypeFlowchart,
	ChartTypeSequence,
	ChartTypeClass,
	ChartTypeState,
	ChartTypeER,
	ChartTypeGantt,
	ChartTypeJourney,
	ChartTypePie,
	ChartTypeMindmap,
	ChartTypeTimeline,
	ChartTypeGitGraph,
}

// IsSupported reports whether t is a member of the registry.
func (t ChartType) IsSupported() bool {
	for _, ct := range AllChartTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// ParseChartType validates a raw string against the registry.
func ParseChartType(raw string) (ChartType, error) {
	t := ChartType(raw)
	if !t.IsSupported() {
		return "", NewErrorf(ErrCodeUnsupportedChartType, "unsupported chart type %q", raw)
	}
	return t, nil
}

// ChartTypeStrings returns the registry as plain strings, for JSON Schema enums.
func ChartTypeStrings() []string {
	out := make([]string, len(AllChartTypes))
	for i, ct := range AllChartTypes {
		out[i] = string(ct)
	}
	return out
}
