package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartforge/chartforge/pkg/schema"
)

func newResult(id string, charts ...schema.Chart) *schema.Result {
	return &schema.Result{
		ID:        id,
		Prompt:    "show me a login flow",
		Charts:    charts,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func placeholderChart(id string) schema.Chart {
	return schema.Chart{
		ID:     id,
		Plan:   schema.Plan{Type: schema.ChartTypeFlowchart, Description: "login flow"},
		Status: schema.ChartStatusGenerating,
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var cfErr *schema.Error
	require.True(t, errors.As(err, &cfErr), "expected *schema.Error, got %v", err)
	return cfErr.Code
}

func TestCreateAndLoadSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", "login flow"))

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, int64(1), sess.Revision)
	assert.Equal(t, schema.SessionStatusProcessing, sess.Status)
	assert.Empty(t, sess.Results)
}

func TestCreateSessionDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", "a"))
	err := s.CreateSession(ctx, "sess-1", "b")
	assert.Equal(t, schema.ErrCodeConflict, errCode(t, err))
}

func TestLoadSessionNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.LoadSession(context.Background(), "missing")
	assert.Equal(t, schema.ErrCodeSessionNotFound, errCode(t, err))
}

func TestLoadSessionReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	first, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	first.Results[0].Charts[0].Status = schema.ChartStatusErrored

	second, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ChartStatusGenerating, second.Results[0].Charts[0].Status)
}

func TestAppendResultBumpsRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess.Revision)
	require.Len(t, sess.Results, 1)
	require.Len(t, sess.Results[0].Charts, 1)
}

func TestAppendResultRejectsBadVersionNumbering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))

	chart := placeholderChart("c1")
	chart.Status = schema.ChartStatusCompleted
	chart.Versions = []schema.ChartVersion{{Version: 2, Chart: "flowchart TD\n A-->B", Status: schema.ChartStatusCompleted}}
	err := s.AppendResult(ctx, "sess-1", newResult("r1", chart))
	assert.Equal(t, schema.ErrCodeInvalidRequest, errCode(t, err))
}

func TestAppendResultRejectsVersionlessTerminalChart(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))

	chart := placeholderChart("c1")
	chart.Status = schema.ChartStatusCompleted
	err := s.AppendResult(ctx, "sess-1", newResult("r1", chart))
	assert.Equal(t, schema.ErrCodeInvalidRequest, errCode(t, err))
}

func TestAddChartVersionAssignsMonotonicNumbers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	v1, err := s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n A-->B", Source: schema.VersionSourceGeneration, Status: schema.ChartStatusRendered,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n A-->C", Source: schema.VersionSourceFix, Status: schema.ChartStatusRendered,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	chart := sess.Results[0].Charts[0]
	require.Len(t, chart.Versions, 2)
	assert.Equal(t, 1, chart.Versions[0].Version)
	assert.Equal(t, 2, chart.Versions[1].Version)
	assert.Equal(t, 1, chart.CurrentVersion)
}

func TestAddChartVersionWithoutAdvanceKeepsPointer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	_, err := s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n A-->B", Source: schema.VersionSourceGeneration, Status: schema.ChartStatusRenderFailed,
	}, false)
	require.NoError(t, err)

	// Failed repair output is recorded but the reader stays on version 1.
	_, err = s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n broken", Source: schema.VersionSourceFix, Error: "parse error on line 2",
		Status: schema.ChartStatusRenderFailed,
	}, false)
	require.NoError(t, err)

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	chart := sess.Results[0].Charts[0]
	require.Len(t, chart.Versions, 2)
	assert.Equal(t, 0, chart.CurrentVersion)
}

func TestAddChartVersionUnknownChart(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	_, err := s.AddChartVersion(ctx, "sess-1", "r1", "nope", NewVersion{Chart: "x"}, true)
	assert.Equal(t, schema.ErrCodeChartNotFound, errCode(t, err))
}

func TestSetCurrentVersionBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))
	_, err := s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n A-->B", Source: schema.VersionSourceGeneration, Status: schema.ChartStatusCompleted,
	}, true)
	require.NoError(t, err)
	_, err = s.AddChartVersion(ctx, "sess-1", "r1", "c1", NewVersion{
		Chart: "flowchart TD\n A-->C", Source: schema.VersionSourceFix, Status: schema.ChartStatusCompleted,
	}, true)
	require.NoError(t, err)

	require.NoError(t, s.SetCurrentVersion(ctx, "sess-1", "r1", "c1", 0))

	err = s.SetCurrentVersion(ctx, "sess-1", "r1", "c1", 2)
	assert.Equal(t, schema.ErrCodeVersionOutOfRange, errCode(t, err))
	err = s.SetCurrentVersion(ctx, "sess-1", "r1", "c1", -1)
	assert.Equal(t, schema.ErrCodeVersionOutOfRange, errCode(t, err))

	// Switching back preserved both versions.
	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	chart := sess.Results[0].Charts[0]
	assert.Equal(t, 0, chart.CurrentVersion)
	assert.Len(t, chart.Versions, 2)
}

func TestSyncSessionConflictOnStaleRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)

	// A concurrent writer lands first.
	require.NoError(t, s.AppendResult(ctx, "sess-1", newResult("r1", placeholderChart("c1"))))

	status := schema.SessionStatusCompleted
	err = s.SyncSession(ctx, "sess-1", sess.Revision, schema.SessionUpdate{Status: &status})
	assert.Equal(t, schema.ErrCodeConflict, errCode(t, err))

	// Retried against the fresh revision it succeeds.
	fresh, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, s.SyncSession(ctx, "sess-1", fresh.Revision, schema.SessionUpdate{Status: &status}))
}

func TestCompleteSessionIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))

	first, err := s.CompleteSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.CompleteSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, second)
}

func TestListRecentSessionsOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "old", "first"))
	require.NoError(t, s.CreateSession(ctx, "new", "second"))
	require.NoError(t, s.AppendResult(ctx, "new", newResult("r1", placeholderChart("c1"))))

	summaries, err := s.ListRecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "new", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].ChartCount)
	assert.Equal(t, "show me a login flow", summaries[0].Prompt)
	assert.Equal(t, "first", summaries[1].Prompt)

	limited, err := s.ListRecentSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSessionRemovesEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "p"))
	require.NoError(t, s.AppendEvent(ctx, &Event{SessionID: "sess-1", Type: schema.EventSessionCreated}))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	_, err := s.LoadSession(ctx, "sess-1")
	assert.Equal(t, schema.ErrCodeSessionNotFound, errCode(t, err))
	events, err := s.GetEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	err = s.DeleteSession(ctx, "sess-1")
	assert.Equal(t, schema.ErrCodeSessionNotFound, errCode(t, err))
}

func TestPruneStaleSessionsSkipsCompleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "stale", "p"))
	require.NoError(t, s.CreateSession(ctx, "done", "p"))
	_, err := s.CompleteSession(ctx, "done")
	require.NoError(t, err)

	// Backdate both so the cutoff catches them.
	s.mu.Lock()
	past := time.Now().UTC().Add(-48 * time.Hour)
	s.sessions["stale"].UpdatedAt = past
	s.sessions["done"].UpdatedAt = past
	s.mu.Unlock()

	pruned, err := s.PruneStaleSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = s.LoadSession(ctx, "stale")
	assert.Error(t, err)
	_, err = s.LoadSession(ctx, "done")
	assert.NoError(t, err)
}

func TestEventSequencePerSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{SessionID: "a", Type: schema.EventPlanReceived}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{SessionID: "b", Type: schema.EventSessionCreated}))

	events, err := s.GetEvents(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	tail, err := s.GetEvents(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)

	bEvents, err := s.GetEvents(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, bEvents, 1)
	assert.Equal(t, int64(1), bEvents[0].Sequence)
}
