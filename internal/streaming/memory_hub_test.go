package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartforge/chartforge/pkg/schema"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		SessionID: "sess-1",
		ChartID:   "chart-1",
		EventType: schema.EventChartRendered,
		Payload:   map[string]any{"version": 1},
	}

	err = hub.Publish(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, event.SessionID, got.SessionID)
		assert.Equal(t, event.ChartID, got.ChartID)
		assert.Equal(t, event.EventType, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterBySessionID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	defer cancel()

	// Should be received (matching session)
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventChartGenerating})
	require.NoError(t, err)

	// Should be dropped (different session)
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-2", EventType: schema.EventChartGenerating})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "sess-1", got.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Channel should be empty -- the sess-2 event was filtered out.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestHistoryChangedReachesSessionSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	defer cancel()

	// history_changed carries no session ID and must still fan out to
	// session-filtered subscribers.
	err = hub.Publish(ctx, StreamEvent{EventType: schema.EventHistoryChanged})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, schema.EventHistoryChanged, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for history_changed")
	}
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventSessionCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s", EventType: schema.EventChartFixing}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s", EventType: schema.EventSessionCompleted}))

	select {
	case got := <-ch:
		assert.Equal(t, schema.EventSessionCompleted, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s", EventType: schema.EventChartRendered}))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}
