package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartforge/chartforge/internal/llm"
	"github.com/chartforge/chartforge/internal/logging"
	"github.com/chartforge/chartforge/internal/render"
	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/internal/validation"
	"github.com/chartforge/chartforge/pkg/schema"
)

// DefaultMaxFixAttempts bounds the repair cycle per chart.
const DefaultMaxFixAttempts = 3

// errSessionDiscarded marks work whose session was deleted mid-flight.
// Writes after discard are dropped, never redirected.
var errSessionDiscarded = errors.New("session discarded")

// Config wires an Orchestrator.
type Config struct {
	Store          store.Store
	Hub            streaming.EventHub
	Provider       llm.Provider
	Validator      validation.Validator
	Probe          render.Probe
	Logger         *slog.Logger
	PoolSize       int
	MaxFixAttempts int
}

// Orchestrator drives the plan -> generate -> probe -> repair pipeline
// for a session and owns per-session cancellation.
type Orchestrator struct {
	store     store.Store
	hub       streaming.EventHub
	provider  llm.Provider
	validator validation.Validator
	probe     render.Probe
	norm      *llm.Normalizer
	pool      *WorkerPool
	fsm       *ChartFSM
	logger    *slog.Logger
	maxFix    int

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator creates an Orchestrator from the given dependencies.
func NewOrchestrator(cfg Config) *Orchestrator {
	maxFix := cfg.MaxFixAttempts
	if maxFix <= 0 {
		maxFix = DefaultMaxFixAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     cfg.Store,
		hub:       cfg.Hub,
		provider:  cfg.Provider,
		validator: cfg.Validator,
		probe:     cfg.Probe,
		norm:      llm.NewNormalizer(),
		pool:      NewWorkerPool(cfg.PoolSize),
		fsm:       NewChartFSM(cfg.Store, cfg.Hub),
		logger:    logger,
		maxFix:    maxFix,
	}
}

// Shutdown cancels all in-flight sessions and drains the pool.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()
	o.pool.Shutdown()
}

// Metrics exposes the pool counters.
func (o *Orchestrator) Metrics() PoolMetrics { return o.pool.Metrics() }

// --- stateless operations (also the HTTP streaming endpoints' engine) ---

// Plan turns a conversation into a list of chart plans via the reasoning
// tier. An empty list is a valid answer: the prompt asked for nothing
// chartable.
func (o *Orchestrator) Plan(ctx context.Context, messages []schema.Message) ([]schema.Plan, error) {
	if len(messages) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidRequest, "conversation is required")
	}
	raw, err := o.provider.Client(llm.TierReasoning).GenerateJSON(ctx, llm.PlanPrompt(messages), nil)
	if err != nil {
		return nil, err
	}
	normalized, err := o.norm.PlanList(ctx, raw)
	if err != nil {
		return nil, err
	}
	return o.validator.ValidatePlans(normalized)
}

// Generate produces validated Mermaid markup for one chart request on the
// fast tier. The requested chart type is authoritative: a model that
// answers with a different type label is corrected, not trusted.
func (o *Orchestrator) Generate(ctx context.Context, req *schema.GenerationRequest) (*schema.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, err := o.provider.Client(llm.TierFast).GenerateJSON(ctx, llm.GenerationPrompt(req), req)
	if err != nil {
		return nil, err
	}
	normalized, err := o.norm.Object(ctx, raw)
	if err != nil {
		return nil, err
	}
	res, err := o.validator.ValidateGenerationOutput(normalized)
	if err != nil {
		return nil, err
	}
	if res.Type != req.ChartType {
		o.logger.WarnContext(ctx, "model answered with mismatched chart type",
			"requested", string(req.ChartType), "answered", string(res.Type))
		res.Type = req.ChartType
	}
	res.ID = req.ID
	return res, nil
}

// GenerateBatch runs a list of generation requests with all-or-nothing
// semantics: every request is validated up front, and the first failure
// discards all results.
func (o *Orchestrator) GenerateBatch(ctx context.Context, reqs []schema.GenerationRequest) ([]schema.GenerationResult, error) {
	if len(reqs) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvalidRequest, "at least one generation request is required")
	}
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return nil, err
		}
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]schema.GenerationResult, len(reqs))
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		i := i
		wg.Add(1)
		if err := o.pool.Submit(batchCtx, func(ctx context.Context) error {
			defer wg.Done()
			res, err := o.Generate(ctx, &reqs[i])
			if err != nil {
				errs[i] = err
				cancel()
				return err
			}
			results[i] = *res
			return nil
		}); err != nil {
			wg.Done()
			errs[i] = err
			cancel()
		}
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		// Prefer the real failure over the cancellations it caused.
		if firstErr == nil || errors.Is(firstErr, context.Canceled) {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Repair asks the reasoning tier for a corrected version of broken markup.
func (o *Orchestrator) Repair(ctx context.Context, req *schema.RepairRequest) (*schema.RepairResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, err := o.provider.Client(llm.TierReasoning).GenerateJSON(ctx, llm.RepairPrompt(req), req)
	if err != nil {
		return nil, err
	}
	normalized, err := o.norm.Object(ctx, raw)
	if err != nil {
		return nil, err
	}
	res, err := o.validator.ValidateRepairOutput(normalized)
	if err != nil {
		return nil, err
	}
	if res.Type != req.ChartType {
		res.Type = req.ChartType
	}
	return res, nil
}

// --- session pipeline ---

// Submit kicks off the full pipeline for an already-created session and
// returns immediately. The session id was handed to the caller before any
// model work, so failures stay observable under it.
func (o *Orchestrator) Submit(sessionID string, messages []schema.Message) {
	go func() {
		if err := o.Run(context.Background(), sessionID, messages); err != nil &&
			!errors.Is(err, errSessionDiscarded) && !errors.Is(err, context.Canceled) {
			o.logger.Error("session pipeline failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Run executes the pipeline synchronously: plan, fan out generation,
// probe, repair, complete. It blocks until every chart of the session is
// terminal or the session is abandoned.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, messages []schema.Message) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(sessionID, cancel)
	defer o.release(sessionID)

	runCtx = logging.WithSessionID(runCtx, sessionID)
	prompt := schema.LastUserMessage(messages)

	plans, err := o.Plan(runCtx, messages)
	if err != nil {
		return o.failPlanning(runCtx, sessionID, prompt, err)
	}

	now := time.Now().UTC()
	result := &schema.Result{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range plans {
		result.Charts = append(result.Charts, schema.Chart{
			ID:        uuid.NewString(),
			Plan:      p,
			Status:    schema.ChartStatusGenerating,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := o.guard(sessionID, o.store.AppendResult(runCtx, sessionID, result)); err != nil {
		return err
	}
	o.publish(runCtx, sessionID, "", schema.EventPlanReceived, plans)

	if len(plans) == 0 {
		o.logger.InfoContext(runCtx, "plan produced no charts, completing immediately")
		o.checkCompletion(runCtx, sessionID)
		return nil
	}

	runCtx = logging.WithResultID(runCtx, result.ID)
	var wg sync.WaitGroup
	for i := range result.Charts {
		chart := result.Charts[i]
		wg.Add(1)
		submitErr := o.pool.Submit(runCtx, func(ctx context.Context) error {
			defer wg.Done()
			return o.processChart(ctx, sessionID, result.ID, chart.ID, chart.Plan, prompt, messages)
		})
		if submitErr != nil {
			wg.Done()
			o.failChart(runCtx, sessionID, result.ID, chart.ID, schema.ChartStatusGenerating,
				schema.NewError(schema.ErrCodeStore, "worker pool rejected chart").WithCause(submitErr))
		}
	}
	wg.Wait()
	return nil
}

// Abandon cancels in-flight work for a session. Pending writes observe
// the cancelled context or the missing session row and drop.
func (o *Orchestrator) Abandon(sessionID string) {
	o.mu.Lock()
	cancel, ok := o.active[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) processChart(ctx context.Context, sessionID, resultID, chartID string, plan schema.Plan, prompt string, messages []schema.Message) error {
	ctx = logging.WithChartID(ctx, chartID)
	if err := o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusPending, schema.ChartStatusGenerating, nil); err != nil {
		o.logger.WarnContext(ctx, "emit generating event", "error", err)
	}

	req := &schema.GenerationRequest{
		ChartType:           plan.Type,
		OriginalUserMessage: prompt,
		PlanDescription:     plan.Description,
		Messages:            messages,
	}
	res, err := o.Generate(ctx, req)
	if err != nil {
		return o.failChart(ctx, sessionID, resultID, chartID, schema.ChartStatusGenerating, err)
	}

	renderErr := o.probe.Render(ctx, res.Chart)
	if renderErr == nil {
		_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusGenerating, schema.ChartStatusRendered, nil)
		if _, err := o.addVersion(ctx, sessionID, resultID, chartID, store.NewVersion{
			Chart:     res.Chart,
			Rationale: res.Description,
			Source:    schema.VersionSourceGeneration,
			Status:    schema.ChartStatusRendered,
		}, true); err != nil {
			return err
		}
		return o.settleChart(ctx, sessionID, resultID, chartID)
	}

	errMsg := errorMessage(renderErr)
	_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusGenerating, schema.ChartStatusRenderFailed,
		map[string]string{"error": errMsg})
	if _, err := o.addVersion(ctx, sessionID, resultID, chartID, store.NewVersion{
		Chart:     res.Chart,
		Rationale: res.Description,
		Source:    schema.VersionSourceGeneration,
		Error:     errMsg,
		Status:    schema.ChartStatusRenderFailed,
	}, true); err != nil {
		return err
	}

	return o.repairLoop(ctx, sessionID, resultID, chartID, plan, prompt, res, errMsg)
}

// repairLoop runs bounded repair cycles against the latest failing markup.
// Fix versions are appended without advancing the read pointer: the
// reader stays on the version they were looking at and switches when they
// choose to.
func (o *Orchestrator) repairLoop(ctx context.Context, sessionID, resultID, chartID string, plan schema.Plan, prompt string, gen *schema.GenerationResult, firstError string) error {
	currentMarkup := gen.Chart
	currentError := firstError
	var attempts []schema.FixAttempt

	for attempt := 1; attempt <= o.maxFix; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusRenderFailed, schema.ChartStatusFixing,
			map[string]any{"attempt": attempt})
		if err := o.guard(sessionID, o.store.UpdateChartStatus(ctx, sessionID, resultID, chartID, schema.ChartStatusFixing)); err != nil {
			return err
		}

		req := &schema.RepairRequest{
			ChartType:           plan.Type,
			Chart:               currentMarkup,
			Error:               currentError,
			Description:         gen.Description,
			PlanDescription:     plan.Description,
			OriginalUserMessage: prompt,
			PreviousAttempts:    attempts,
		}
		res, err := o.Repair(ctx, req)
		if err != nil {
			// No corrected markup was produced; record the attempt so the
			// next prompt still counts it against the budget.
			fa := schema.FixAttempt{Chart: currentMarkup, Error: currentError}
			attempts = append(attempts, fa)
			if gerr := o.guard(sessionID, o.store.AppendFixAttempt(ctx, sessionID, resultID, chartID, fa)); gerr != nil {
				return gerr
			}
			_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusFixing, schema.ChartStatusRenderFailed,
				map[string]string{"error": errorMessage(err)})
			if gerr := o.guard(sessionID, o.store.UpdateChartStatus(ctx, sessionID, resultID, chartID, schema.ChartStatusRenderFailed)); gerr != nil {
				return gerr
			}
			continue
		}

		probeErr := o.probe.Render(ctx, res.Chart)
		if probeErr == nil {
			fa := schema.FixAttempt{Chart: res.Chart, Explanation: res.Explanation}
			if gerr := o.guard(sessionID, o.store.AppendFixAttempt(ctx, sessionID, resultID, chartID, fa)); gerr != nil {
				return gerr
			}
			_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusFixing, schema.ChartStatusRendered, nil)
			if _, verr := o.addVersion(ctx, sessionID, resultID, chartID, store.NewVersion{
				Chart:     res.Chart,
				Rationale: res.Explanation,
				Source:    schema.VersionSourceFix,
				Status:    schema.ChartStatusRendered,
			}, false); verr != nil {
				return verr
			}
			return o.settleChart(ctx, sessionID, resultID, chartID)
		}

		errMsg := errorMessage(probeErr)
		fa := schema.FixAttempt{Chart: res.Chart, Error: errMsg, Explanation: res.Explanation}
		attempts = append(attempts, fa)
		if gerr := o.guard(sessionID, o.store.AppendFixAttempt(ctx, sessionID, resultID, chartID, fa)); gerr != nil {
			return gerr
		}
		_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusFixing, schema.ChartStatusRenderFailed,
			map[string]string{"error": errMsg})
		if _, verr := o.addVersion(ctx, sessionID, resultID, chartID, store.NewVersion{
			Chart:     res.Chart,
			Rationale: res.Explanation,
			Source:    schema.VersionSourceFix,
			Error:     errMsg,
			Status:    schema.ChartStatusRenderFailed,
		}, false); verr != nil {
			return verr
		}
		currentMarkup, currentError = res.Chart, errMsg
	}

	exhausted := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"repair budget of %d attempts exhausted", o.maxFix).WithChart(chartID)
	return o.failChart(ctx, sessionID, resultID, chartID, schema.ChartStatusRenderFailed, exhausted)
}

// settleChart moves a rendered chart to completed and fires the
// completion check.
func (o *Orchestrator) settleChart(ctx context.Context, sessionID, resultID, chartID string) error {
	_ = o.fsm.Transition(ctx, sessionID, chartID, schema.ChartStatusRendered, schema.ChartStatusCompleted, nil)
	if err := o.guard(sessionID, o.store.UpdateChartStatus(ctx, sessionID, resultID, chartID, schema.ChartStatusCompleted)); err != nil {
		return err
	}
	o.checkCompletion(ctx, sessionID)
	return nil
}

// failChart records a terminal failure with its structured error. The
// failure is part of the session's durable history, never dropped.
func (o *Orchestrator) failChart(ctx context.Context, sessionID, resultID, chartID string, from schema.ChartStatus, cause error) error {
	o.logger.ErrorContext(ctx, "chart failed", "error", cause)
	payload := errorPayload(cause)
	_ = o.fsm.Transition(ctx, sessionID, chartID, from, schema.ChartStatusErrored, payload)
	if err := o.guard(sessionID, o.store.UpdateChartStatus(ctx, sessionID, resultID, chartID, schema.ChartStatusErrored)); err != nil {
		return err
	}
	o.checkCompletion(ctx, sessionID)
	return cause
}

// failPlanning settles a session whose plan call never produced charts.
func (o *Orchestrator) failPlanning(ctx context.Context, sessionID, prompt string, cause error) error {
	o.logger.ErrorContext(ctx, "planning failed", "error", cause)
	now := time.Now().UTC()
	result := &schema.Result{ID: uuid.NewString(), Prompt: prompt, CreatedAt: now, UpdatedAt: now}
	if err := o.guard(sessionID, o.store.AppendResult(ctx, sessionID, result)); err != nil {
		return err
	}
	if first, err := o.store.CompleteSession(ctx, sessionID); err == nil && first {
		o.publish(ctx, sessionID, "", schema.EventSessionCompleted, errorPayload(cause))
		o.publish(ctx, "", "", schema.EventHistoryChanged, map[string]string{"session_id": sessionID})
	}
	return cause
}

// checkCompletion completes the session once every chart in every result
// is terminal. CompleteSession is idempotent, so racing charts cannot
// double-fire the completion events.
func (o *Orchestrator) checkCompletion(ctx context.Context, sessionID string) {
	sess, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return
	}
	for i := range sess.Results {
		if !sess.Results[i].Terminal() {
			return
		}
	}
	first, err := o.store.CompleteSession(ctx, sessionID)
	if err != nil || !first {
		return
	}
	o.publish(ctx, sessionID, "", schema.EventSessionCompleted, nil)
	o.publish(ctx, "", "", schema.EventHistoryChanged, map[string]string{"session_id": sessionID})
}

// --- helpers ---

func (o *Orchestrator) register(sessionID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		o.active = make(map[string]context.CancelFunc)
	}
	o.active[sessionID] = cancel
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, sessionID)
}

// guard drops writes whose session no longer exists and cancels the rest
// of that session's work.
func (o *Orchestrator) guard(sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var cfErr *schema.Error
	if errors.As(err, &cfErr) && cfErr.Code == schema.ErrCodeSessionNotFound {
		o.logger.Debug("dropping write for discarded session", "session_id", sessionID)
		o.Abandon(sessionID)
		return errSessionDiscarded
	}
	return err
}

func (o *Orchestrator) addVersion(ctx context.Context, sessionID, resultID, chartID string, v store.NewVersion, advance bool) (int, error) {
	version, err := o.store.AddChartVersion(ctx, sessionID, resultID, chartID, v, advance)
	if err != nil {
		return 0, o.guard(sessionID, err)
	}
	return version, nil
}

// publish mirrors an event into the durable log and onto the hub.
// History notifications carry no session id and are hub-only.
func (o *Orchestrator) publish(ctx context.Context, sessionID, chartID, eventType string, payload any) {
	if sessionID != "" {
		event := &store.Event{SessionID: sessionID, ChartID: chartID, Type: eventType}
		if payload != nil {
			if raw, err := json.Marshal(payload); err == nil {
				event.Payload = raw
			}
		}
		if err := o.store.AppendEvent(ctx, event); err != nil {
			o.logger.WarnContext(ctx, "append event", "event_type", eventType, "error", err)
		}
	}
	_ = o.hub.Publish(ctx, streaming.StreamEvent{
		SessionID: sessionID,
		ChartID:   chartID,
		EventType: eventType,
		Payload:   payload,
	})
}

func errorMessage(err error) string {
	var cfErr *schema.Error
	if errors.As(err, &cfErr) {
		return cfErr.Message
	}
	return err.Error()
}

func errorPayload(err error) map[string]string {
	payload := map[string]string{"message": errorMessage(err)}
	var cfErr *schema.Error
	if errors.As(err, &cfErr) {
		payload["code"] = string(cfErr.Code)
	}
	return payload
}
