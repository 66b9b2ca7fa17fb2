package pipeline

import (
	"context"
	"encoding/json"

	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/pkg/schema"
)

// EventAppender is the slice of the Store the FSM needs.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ChartFSM validates chart status transitions and fans every accepted
// transition out to the event log and the live hub. The caller persists
// the new status itself.
type ChartFSM struct {
	appender EventAppender
	hub      streaming.EventHub
}

// NewChartFSM creates a ChartFSM emitting through the given sinks.
func NewChartFSM(appender EventAppender, hub streaming.EventHub) *ChartFSM {
	return &ChartFSM{appender: appender, hub: hub}
}

// Transition validates a chart status change and emits its event. The
// payload, when non-nil, rides along on both the log entry and the hub
// frame (e.g. the structured error on a chart_errored transition).
func (f *ChartFSM) Transition(ctx context.Context, sessionID, chartID string, from, to schema.ChartStatus, payload any) error {
	if !isValidChartTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid chart transition: %s -> %s", from, to).
			WithChart(chartID).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	eventType := chartEventType(to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{
		SessionID: sessionID,
		ChartID:   chartID,
		Type:      eventType,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			event.Payload = raw
		}
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit chart event: %s", err.Error()).
			WithChart(chartID).WithCause(err)
	}
	_ = f.hub.Publish(ctx, streaming.StreamEvent{
		SessionID: sessionID,
		ChartID:   chartID,
		EventType: eventType,
		Payload:   payload,
	})
	return nil
}

func isValidChartTransition(from, to schema.ChartStatus) bool {
	allowed, ok := schema.ValidChartTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func chartEventType(to schema.ChartStatus) string {
	switch to {
	case schema.ChartStatusGenerating:
		return schema.EventChartGenerating
	case schema.ChartStatusRendered:
		return schema.EventChartRendered
	case schema.ChartStatusRenderFailed:
		return schema.EventChartRenderFailed
	case schema.ChartStatusFixing:
		return schema.EventChartFixing
	case schema.ChartStatusCompleted:
		return schema.EventChartCompleted
	case schema.ChartStatusErrored:
		return schema.EventChartErrored
	default:
		return ""
	}
}
