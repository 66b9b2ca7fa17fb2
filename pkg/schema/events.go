package schema

// Event type constants for the per-session event log and the streaming hub.
const (
	EventSessionCreated    = "session_created"
	EventPlanReceived      = "plan_received"
	EventChartGenerating   = "chart_generating"
	EventChartRendered     = "chart_rendered"
	EventChartRenderFailed = "chart_render_failed"
	EventChartFixing       = "chart_fixing"
	EventChartCompleted    = "chart_completed"
	EventChartErrored      = "chart_errored"
	EventSessionCompleted  = "session_completed"
	EventHistoryChanged    = "history_changed"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
)

// ChartStatus represents the lifecycle state of a chart within the
// plan -> generate -> probe -> repair pipeline.
type ChartStatus string

const (
	ChartStatusPending      ChartStatus = "pending"
	ChartStatusGenerating   ChartStatus = "generating"
	ChartStatusRendered     ChartStatus = "rendered"
	ChartStatusRenderFailed ChartStatus = "render_failed"
	ChartStatusFixing       ChartStatus = "fixing"
	ChartStatusCompleted    ChartStatus = "completed"
	ChartStatusErrored      ChartStatus = "errored"
)

// VersionSource records where a chart version came from.
type VersionSource string

const (
	VersionSourceGeneration VersionSource = "generation"
	VersionSourceFix        VersionSource = "fix"
)

// ValidChartTransitions maps each chart status to the statuses it may move to.
// "rendered" is tentative: the render probe is the arbiter, so a rendered
// chart either settles to completed or falls back into the repair cycle.
var ValidChartTransitions = map[ChartStatus][]ChartStatus{
	ChartStatusPending:      {ChartStatusGenerating},
	ChartStatusGenerating:   {ChartStatusRendered, ChartStatusRenderFailed, ChartStatusErrored},
	ChartStatusRendered:     {ChartStatusCompleted, ChartStatusRenderFailed},
	ChartStatusRenderFailed: {ChartStatusFixing, ChartStatusErrored},
	ChartStatusFixing:       {ChartStatusRendered, ChartStatusRenderFailed, ChartStatusErrored},
	ChartStatusCompleted:    {},
	ChartStatusErrored:      {},
}

// IsTerminal reports whether the status ends a chart's pipeline run.
func (s ChartStatus) IsTerminal() bool {
	return s == ChartStatusCompleted || s == ChartStatusErrored
}
