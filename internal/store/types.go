package store

import (
	"encoding/json"
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Event is an immutable entry in the per-session event log.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	ChartID   string          `json:"chart_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

func storeNotFound(kind, id string) *schema.Error {
	code := schema.ErrCodeSessionNotFound
	if kind == "chart" {
		code = schema.ErrCodeChartNotFound
	}
	return schema.NewErrorf(code, "%s %s not found", kind, id)
}
