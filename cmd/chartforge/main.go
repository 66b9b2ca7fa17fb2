package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chartforge/chartforge/internal/llm"
	"github.com/chartforge/chartforge/internal/logging"
	"github.com/chartforge/chartforge/internal/pipeline"
	"github.com/chartforge/chartforge/internal/render"
	"github.com/chartforge/chartforge/internal/retention"
	"github.com/chartforge/chartforge/internal/server"
	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
	"github.com/chartforge/chartforge/internal/validation"
	"github.com/chartforge/chartforge/pkg/mcp"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	mcpMode := len(os.Args) > 1 && os.Args[1] == "mcp"
	if err := run(cfg, logger, mcpMode); err != nil {
		logger.Error("chartforge exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger, mcpMode bool) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(chartforgeDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	defer provider.Close()

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}

	hub := streaming.NewMemoryHub()
	orch := pipeline.NewOrchestrator(pipeline.Config{
		Store:          st,
		Hub:            hub,
		Provider:       provider,
		Validator:      validator,
		Probe:          buildProbe(cfg),
		Logger:         logger,
		PoolSize:       cfg.PoolSize,
		MaxFixAttempts: cfg.MaxFixAttempts,
	})
	defer orch.Shutdown()

	pruner, err := retention.NewPruner(st, hub, cfg.RetentionSchedule, cfg.retentionMaxAge(), logger)
	if err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}
	if err := pruner.Start(ctx); err != nil {
		return fmt.Errorf("start pruner: %w", err)
	}
	defer func() { _ = pruner.Stop() }()

	if mcpMode {
		logger.Info("mcp server listening on stdio", "provider", cfg.Provider)
		mcpSrv := mcp.NewChartforgeServer(mcp.ChartforgeServerDeps{
			Orchestrator: orch,
			Store:        st,
			Logger:       logger,
		})
		return mcpSrv.Serve(ctx)
	}

	srv := server.NewServer(cfg.ListenAddr, server.Deps{
		Store:        st,
		Orchestrator: orch,
		Hub:          hub,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildProvider wires the configured model provider with one client per
// tier. API keys come from the environment (GEMINI_API_KEY / GROQ_API_KEY).
func buildProvider(ctx context.Context, cfg Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "groq":
		fast := llm.NewGroqClient("", cfg.FastModel)
		reasoning := llm.NewGroqClient("", cfg.ReasoningModel)
		return llm.NewTieredProvider(fast, reasoning, llm.DefaultCallTimeout), nil
	default:
		fast, err := llm.NewGeminiClient(ctx, "", cfg.FastModel)
		if err != nil {
			return nil, err
		}
		reasoning, err := llm.NewGeminiClient(ctx, "", cfg.ReasoningModel)
		if err != nil {
			return nil, err
		}
		return llm.NewTieredProvider(fast, reasoning, llm.DefaultCallTimeout), nil
	}
}

// buildProbe picks the render oracle: an external renderer command when
// configured, the built-in syntax checks otherwise.
func buildProbe(cfg Config) render.Probe {
	if cfg.ProbeCommand == "" {
		return render.NewSyntaxProbe()
	}
	parts := strings.Fields(cfg.ProbeCommand)
	return render.NewCommandProbe(parts[0], parts[1:], 0)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
