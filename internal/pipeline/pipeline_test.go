package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartforge/chartforge/internal/llm"
	"github.com/chartforge/chartforge/internal/render"
	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/internal/validation"
	"github.com/chartforge/chartforge/pkg/schema"
)

type fixture struct {
	orch  *Orchestrator
	store *store.MemoryStore
	hub   *streaming.MemoryHub
	probe *render.FakeProbe
}

func newFixture(t *testing.T, reasoning, fast *llm.FakeClient, probe *render.FakeProbe) *fixture {
	t.Helper()
	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	if probe == nil {
		probe = &render.FakeProbe{}
	}
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	orch := NewOrchestrator(Config{
		Store:     st,
		Hub:       hub,
		Provider:  &llm.FakeProvider{Fast: fast, Reasoning: reasoning},
		Validator: validator,
		Probe:     probe,
		PoolSize:  4,
	})
	t.Cleanup(orch.Shutdown)
	return &fixture{orch: orch, store: st, hub: hub, probe: probe}
}

func conversation(prompt string) []schema.Message {
	return []schema.Message{{Role: "user", Content: prompt}}
}

func planJSON(plans ...schema.Plan) json.RawMessage {
	raw, _ := json.Marshal(plans)
	return raw
}

func chartJSON(chartType, chart string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"type":        chartType,
		"description": "a diagram",
		"chart":       chart,
	})
	return raw
}

func repairJSON(chartType, chart, explanation string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"type":        chartType,
		"description": "a diagram",
		"chart":       chart,
		"explanation": explanation,
	})
	return raw
}

func renderFailure(msg string) error {
	return schema.NewError(schema.ErrCodeRenderFailed, msg)
}

func TestRunTwoChartSuccess(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{Raw: planJSON(
		schema.Plan{Type: schema.ChartTypeFlowchart, Description: "login flow"},
		schema.Plan{Type: schema.ChartTypeSequence, Description: "auth handshake"},
	)})
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "login flow"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("show me a login flow")))

	sess, err := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	require.Len(t, sess.Results, 1)
	require.Len(t, sess.Results[0].Charts, 2)
	for _, chart := range sess.Results[0].Charts {
		assert.Equal(t, schema.ChartStatusCompleted, chart.Status)
		require.Len(t, chart.Versions, 1)
		assert.Equal(t, 1, chart.Versions[0].Version)
		assert.Equal(t, schema.VersionSourceGeneration, chart.Versions[0].Source)
		assert.Equal(t, 0, chart.CurrentVersion)
		assert.Empty(t, chart.FixAttempts)
	}
	// Both plans kept their requested type.
	types := []schema.ChartType{sess.Results[0].Charts[0].Plan.Type, sess.Results[0].Charts[1].Plan.Type}
	assert.ElementsMatch(t, []schema.ChartType{schema.ChartTypeFlowchart, schema.ChartTypeSequence}, types)
}

func TestRunEmptyPlanCompletesImmediately(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{Raw: json.RawMessage(`[]`)})
	fast := llm.NewFakeClient()
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "hello"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("hello")))

	sess, err := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	require.Len(t, sess.Results, 1)
	assert.Empty(t, sess.Results[0].Charts)
	assert.Empty(t, fast.Calls())
}

func TestRunRepairSucceedsOnSecondVersion(t *testing.T) {
	reasoning := llm.NewFakeClient(
		llm.FakeResponse{Raw: planJSON(schema.Plan{Type: schema.ChartTypeFlowchart, Description: "flow"})},
		llm.FakeResponse{Raw: repairJSON("flowchart", "flowchart TD\n A-->B", "replaced -> with -->")},
	)
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A->B")})
	probe := &render.FakeProbe{Errs: []error{renderFailure("parse error on line 2"), nil}}
	f := newFixture(t, reasoning, fast, probe)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("flow")))

	sess, err := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	chart := sess.Results[0].Charts[0]
	assert.Equal(t, schema.ChartStatusCompleted, chart.Status)
	require.Len(t, chart.Versions, 2)
	assert.Equal(t, schema.VersionSourceGeneration, chart.Versions[0].Source)
	assert.Equal(t, "parse error on line 2", chart.Versions[0].Error)
	assert.Equal(t, schema.VersionSourceFix, chart.Versions[1].Source)
	assert.Equal(t, "flowchart TD\n A-->B", chart.Versions[1].Chart)
	// The fix is appended, not shown: the reader stays on version 1.
	assert.Equal(t, 0, chart.CurrentVersion)
	require.Len(t, chart.FixAttempts, 1)
	assert.Equal(t, "replaced -> with -->", chart.FixAttempts[0].Explanation)
}

func TestRunRepairExhaustionErrorsChart(t *testing.T) {
	reasoning := llm.NewFakeClient(
		llm.FakeResponse{Raw: planJSON(schema.Plan{Type: schema.ChartTypeFlowchart, Description: "flow"})},
		llm.FakeResponse{Raw: repairJSON("flowchart", "flowchart TD\n still broken", "attempt")},
	)
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A->B")})
	probe := &render.FakeProbe{Errs: []error{renderFailure("parse error on line 2")}}
	f := newFixture(t, reasoning, fast, probe)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("flow")))

	sess, err := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	chart := sess.Results[0].Charts[0]
	assert.Equal(t, schema.ChartStatusErrored, chart.Status)
	// Generation version plus one version per repair attempt.
	assert.Len(t, chart.Versions, 1+DefaultMaxFixAttempts)
	assert.Len(t, chart.FixAttempts, DefaultMaxFixAttempts)
	assert.Equal(t, 0, chart.CurrentVersion)
	// Markup and error of the last attempt are preserved.
	last := chart.Versions[len(chart.Versions)-1]
	assert.Equal(t, "flowchart TD\n still broken", last.Chart)
	assert.NotEmpty(t, last.Error)
}

func TestRunRepairPromptCarriesAllPriorAttempts(t *testing.T) {
	reasoning := llm.NewFakeClient(
		llm.FakeResponse{Raw: planJSON(schema.Plan{Type: schema.ChartTypeFlowchart, Description: "flow"})},
		llm.FakeResponse{Raw: repairJSON("flowchart", "flowchart TD\n broken1", "a")},
	)
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A->B")})
	probe := &render.FakeProbe{Errs: []error{renderFailure("parse error")}}
	f := newFixture(t, reasoning, fast, probe)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("flow")))

	calls := reasoning.Calls()
	// First call is planning; the rest are repair rounds.
	require.Len(t, calls, 1+DefaultMaxFixAttempts)
	lastRepair, ok := calls[len(calls)-1].Input.(*schema.RepairRequest)
	require.True(t, ok)
	assert.Len(t, lastRepair.PreviousAttempts, DefaultMaxFixAttempts-1)
}

func TestRunGenerationFailureErrorsChart(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{Raw: planJSON(
		schema.Plan{Type: schema.ChartTypeFlowchart, Description: "flow"},
	)})
	fast := llm.NewFakeClient(llm.FakeResponse{
		Err: schema.NewError(schema.ErrCodeUpstreamTimeout, "model timed out"),
	})
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("flow")))

	sess, err := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	chart := sess.Results[0].Charts[0]
	assert.Equal(t, schema.ChartStatusErrored, chart.Status)
	assert.Empty(t, chart.Versions)

	events, err := f.store.GetEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	var sawErrored bool
	for _, e := range events {
		if e.Type == schema.EventChartErrored {
			sawErrored = true
			assert.Contains(t, string(e.Payload), schema.ErrCodeUpstreamTimeout)
		}
	}
	assert.True(t, sawErrored)
}

func TestRunPlanFailureCompletesSessionWithError(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{
		Err: schema.NewError(schema.ErrCodeUpstreamModel, "provider unavailable"),
	})
	fast := llm.NewFakeClient()
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	err := f.orch.Run(ctx, "sess-1", conversation("flow"))
	require.Error(t, err)

	sess, lerr := f.store.LoadSession(ctx, "sess-1")
	require.NoError(t, lerr)
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	require.Len(t, sess.Results, 1)
	assert.Empty(t, sess.Results[0].Charts)
}

func TestRunAbandonedSessionDropsWrites(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{Raw: planJSON(
		schema.Plan{Type: schema.ChartTypeFlowchart, Description: "flow"},
	)})
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "flow"))
	// Session is deleted before the pipeline writes anything.
	require.NoError(t, f.store.DeleteSession(ctx, "sess-1"))

	err := f.orch.Run(ctx, "sess-1", conversation("flow"))
	assert.ErrorIs(t, err, errSessionDiscarded)

	_, err = f.store.LoadSession(ctx, "sess-1")
	var cfErr *schema.Error
	require.True(t, errors.As(err, &cfErr))
	assert.Equal(t, schema.ErrCodeSessionNotFound, cfErr.Code)
}

func TestRunPublishesCompletionEventsOnce(t *testing.T) {
	reasoning := llm.NewFakeClient(llm.FakeResponse{Raw: planJSON(
		schema.Plan{Type: schema.ChartTypeFlowchart, Description: "a"},
		schema.Plan{Type: schema.ChartTypePie, Description: "b"},
	)})
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, reasoning, fast, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateSession(ctx, "sess-1", "x"))
	require.NoError(t, f.orch.Run(ctx, "sess-1", conversation("x")))

	events, err := f.store.GetEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	completed := 0
	for _, e := range events {
		if e.Type == schema.EventSessionCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestGenerateCorrectsMismatchedType(t *testing.T) {
	reasoning := llm.NewFakeClient()
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("sequence", "flowchart TD\n A-->B")})
	f := newFixture(t, reasoning, fast, nil)

	res, err := f.orch.Generate(context.Background(), &schema.GenerationRequest{
		ChartType: schema.ChartTypeFlowchart, PlanDescription: "flow",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.ChartTypeFlowchart, res.Type)
}

func TestGenerateEchoesRequestID(t *testing.T) {
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, llm.NewFakeClient(), fast, nil)

	res, err := f.orch.Generate(context.Background(), &schema.GenerationRequest{
		ID: "req-7", ChartType: schema.ChartTypeFlowchart, PlanDescription: "flow",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-7", res.ID)
}

func TestGenerateBatchCorrelatesByID(t *testing.T) {
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, llm.NewFakeClient(), fast, nil)

	results, err := f.orch.GenerateBatch(context.Background(), []schema.GenerationRequest{
		{ID: "a", ChartType: schema.ChartTypeFlowchart, PlanDescription: "first"},
		{ID: "b", ChartType: schema.ChartTypeFlowchart, PlanDescription: "second"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
}

func TestGenerateRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t, llm.NewFakeClient(), llm.NewFakeClient(), nil)

	_, err := f.orch.Generate(context.Background(), &schema.GenerationRequest{ChartType: "hologram"})
	var cfErr *schema.Error
	require.True(t, errors.As(err, &cfErr))
	assert.Equal(t, schema.ErrCodeUnsupportedChartType, cfErr.Code)
}

func TestGenerateBatchAllOrNothing(t *testing.T) {
	reasoning := llm.NewFakeClient()
	fast := llm.NewFakeClient(
		llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")},
		llm.FakeResponse{Err: schema.NewError(schema.ErrCodeUpstreamModel, "boom")},
	)
	f := newFixture(t, reasoning, fast, nil)

	results, err := f.orch.GenerateBatch(context.Background(), []schema.GenerationRequest{
		{ChartType: schema.ChartTypeFlowchart, PlanDescription: "a"},
		{ChartType: schema.ChartTypePie, PlanDescription: "b"},
	})
	require.Error(t, err)
	assert.Nil(t, results)
}

func TestGenerateBatchValidatesUpFront(t *testing.T) {
	fast := llm.NewFakeClient(llm.FakeResponse{Raw: chartJSON("flowchart", "flowchart TD\n A-->B")})
	f := newFixture(t, llm.NewFakeClient(), fast, nil)

	_, err := f.orch.GenerateBatch(context.Background(), []schema.GenerationRequest{
		{ChartType: schema.ChartTypeFlowchart, PlanDescription: "ok"},
		{ChartType: "hologram", PlanDescription: "bad"},
	})
	require.Error(t, err)
	// Nothing reached the model.
	assert.Empty(t, fast.Calls())
}

func TestChartFSMRejectsInvalidTransition(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewChartFSM(st, streaming.NewMemoryHub())

	err := fsm.Transition(context.Background(), "s", "c",
		schema.ChartStatusCompleted, schema.ChartStatusGenerating, nil)
	var cfErr *schema.Error
	require.True(t, errors.As(err, &cfErr))
	assert.Equal(t, schema.ErrCodeInvalidTransition, cfErr.Code)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()
	ctx := context.Background()

	running := make(chan struct{}, 8)
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			_ = pool.Submit(ctx, func(ctx context.Context) error {
				running <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-running
	<-running
	select {
	case <-running:
		t.Fatal("more than two jobs ran concurrently")
	default:
	}
	close(release)
	pool.Wait()
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()
	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}
