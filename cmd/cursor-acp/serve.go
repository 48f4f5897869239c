package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acplabs/cursor-acp/internal/boundary"
	"github.com/acplabs/cursor-acp/internal/config"
	"github.com/acplabs/cursor-acp/internal/observability"
	"github.com/acplabs/cursor-acp/internal/pipeline"
	"github.com/acplabs/cursor-acp/internal/proxy"
	"github.com/acplabs/cursor-acp/internal/schemacompat"
	"github.com/acplabs/cursor-acp/internal/upstream"
	"github.com/acplabs/cursor-acp/internal/workspace"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics()

	agent := &upstream.Agent{
		Command:   cfg.Upstream.Command,
		ExtraArgs: cfg.Upstream.ExtraArgs,
		Logger:    logger,
	}

	runner := &pipeline.Runner{
		Spawn:         pipeline.AgentSpawner(agent),
		Workspaces:    workspace.NewResolver(cfg.Workspace.Override, cfg.Workspace.ConfigPrefix),
		BoundaryMode:  boundary.Mode(cfg.Boundary.Mode),
		AutoFallback:  cfg.Boundary.AutoFallbackToLegacy,
		ToolLoopMode:  boundary.ToolLoopMode(cfg.ToolLoop.Mode),
		ForceToolMode: cfg.ToolLoop.ForceToolMode,
		ForwardTools:  cfg.ToolLoop.ForwardToolCalls,
		EmitUpdates:   cfg.ToolLoop.EmitToolUpdates,
		Normalize:     normalizeOptions(cfg),
		MaxRepeat:     cfg.ToolLoop.MaxRepeat,
		Usage:         observability.EstimateUsage,
		Metrics:       metrics,
		Logger:        logger,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := proxy.New(proxy.Options{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReuseExisting: cfg.Server.ReuseExisting,
		Runner:        runner,
		Logger:        logger,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	// Callers read the base URL from stdout during setup.
	fmt.Println(server.BaseURL())
	if server.Reused() {
		return nil
	}

	logger.Info("daemon ready",
		"version", version,
		"base_url", server.BaseURL(),
		"tool_loop_mode", cfg.ToolLoop.Mode,
		"boundary", cfg.Boundary.Mode)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func normalizeOptions(cfg *config.Config) schemacompat.Options {
	return schemacompat.Options{EditCompatRepair: cfg.ToolLoop.EditCompatRepair}
}
