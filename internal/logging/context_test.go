package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithChartID(ctx, "chart-9")

	logger.InfoContext(ctx, "generating")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-1")
	assert.Contains(t, out, "chart_id=chart-9")
	assert.NotContains(t, out, "result_id", "absent IDs are not emitted")
}

func TestCorrelationHandlerNoIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "plain")

	out := buf.String()
	assert.Contains(t, out, "plain")
	assert.NotContains(t, out, "session_id")
}
