package streaming

import "context"

// StreamEvent is a real-time event emitted as the pipeline advances a
// session, or when the durable history changes.
type StreamEvent struct {
	SessionID string `json:"session_id,omitempty"`
	ChartID   string `json:"chart_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// history_changed events carry no session ID and pass every session
// filter, so a completed session in one view becomes visible in a
// sibling view without manual refresh.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time session events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
