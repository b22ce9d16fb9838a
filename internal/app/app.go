// Package app provides the application bootstrap and runtime wiring.
//
// The App type assembles the provider registry, merge-tag resolver, step
// executor and feed orchestrator on top of the shared database handle, and
// exposes the serve mode (streaming API plus health endpoints).
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/platform/config"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
	"github.com/ieltslab/feedback-engine/internal/process/feedback"
	"github.com/ieltslab/feedback-engine/internal/process/mergetag"
	db "github.com/ieltslab/feedback-engine/internal/storage"
	"github.com/ieltslab/feedback-engine/internal/transport/stream"
)

// App holds the application dependencies.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger

	registry     *llm.Registry
	orchestrator *feedback.Orchestrator
}

func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) (*App, error) {
	registry, err := llm.NewRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	orderDesc := cfg.ExistingContentOrder == config.OrderDesc

	resolver := mergetag.New(database, orderDesc, logger)
	existing := feedback.NewExistingContent(database, orderDesc)
	executor := feedback.NewExecutor(database, registry, resolver, existing, cfg.DefaultLanguage, cfg.DefaultScoreRegex, logger)
	orchestrator := feedback.NewOrchestrator(database, executor, logger)

	return &App{
		cfg:          cfg,
		database:     database,
		logger:       logger,
		registry:     registry,
		orchestrator: orchestrator,
	}, nil
}

// StartHealthServer serves liveness, readiness and metrics endpoints.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database, a.cfg.HealthPort, a.logger).Start(ctx)
}

// RunServe runs the streaming API until the context is cancelled.
func (a *App) RunServe(ctx context.Context) error {
	server := stream.NewServer(a.cfg, a.orchestrator, a.registry, a.database, a.logger)

	return server.Start(ctx)
}
