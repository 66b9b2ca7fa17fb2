package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/chartforge/chartforge/pkg/schema"
)

// handleGenerate produces markup for one chart via the fast tier.
func (s *ChartforgeServer) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType, err := req.RequireString("chart_type")
	if err != nil {
		return mcp.NewToolResultError("chart_type is required"), nil
	}
	chartType, parseErr := schema.ParseChartType(rawType)
	if parseErr != nil {
		return mcp.NewToolResultError(parseErr.Error()), nil
	}

	genReq := &schema.GenerationRequest{
		ChartType:           chartType,
		PlanDescription:     req.GetString("description", ""),
		OriginalUserMessage: req.GetString("original_user_message", ""),
	}

	result, genErr := s.orchestrator.Generate(ctx, genReq)
	if genErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", genErr)), nil
	}
	return marshalResult(result)
}

// handleRepair fixes broken markup via the reasoning tier.
func (s *ChartforgeServer) handleRepair(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType, err := req.RequireString("chart_type")
	if err != nil {
		return mcp.NewToolResultError("chart_type is required"), nil
	}
	chartType, parseErr := schema.ParseChartType(rawType)
	if parseErr != nil {
		return mcp.NewToolResultError(parseErr.Error()), nil
	}
	chart, err := req.RequireString("chart")
	if err != nil {
		return mcp.NewToolResultError("chart is required"), nil
	}
	renderErr, err := req.RequireString("error")
	if err != nil {
		return mcp.NewToolResultError("error is required"), nil
	}

	attempts, attErr := parseAttempts(req)
	if attErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid previous_attempts: %v", attErr)), nil
	}

	repReq := &schema.RepairRequest{
		ChartType:           chartType,
		Chart:               chart,
		Error:               renderErr,
		PlanDescription:     req.GetString("description", ""),
		OriginalUserMessage: req.GetString("original_user_message", ""),
		PreviousAttempts:    attempts,
	}

	result, repErr := s.orchestrator.Repair(ctx, repReq)
	if repErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("repair failed: %v", repErr)), nil
	}
	return marshalResult(result)
}

// handleSessionGet returns one session's full state.
func (s *ChartforgeServer) handleSessionGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	sess, loadErr := s.store.LoadSession(ctx, sessionID)
	if loadErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", loadErr)), nil
	}
	return marshalResult(sess)
}

// handleSessionList returns recent session summaries.
func (s *ChartforgeServer) handleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}

	summaries, listErr := s.store.ListRecentSessions(ctx, limit)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session list failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"sessions": summaries})
}

// --- Internal helpers ---

// parseAttempts decodes the optional previous_attempts argument through a
// JSON round-trip so the wire shape matches schema.FixAttempt exactly.
func parseAttempts(req mcp.CallToolRequest) ([]schema.FixAttempt, error) {
	raw, ok := req.GetArguments()["previous_attempts"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var attempts []schema.FixAttempt
	if err := json.Unmarshal(data, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
