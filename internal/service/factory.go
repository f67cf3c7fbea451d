// File: internal/service/factory.go
// Description: Dependency injection for the engine. Create wires the arm
// registry, optimizer, governor, funnel collaborators, orchestrator, tracker,
// and HTTP server into a Components graph ready to Start.

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/internal/analytics"
	"github.com/promoflow/promoflow/internal/bandit"
	"github.com/promoflow/promoflow/internal/config"
	"github.com/promoflow/promoflow/internal/funnel"
	"github.com/promoflow/promoflow/internal/governor"
	"github.com/promoflow/promoflow/internal/ledger"
	"github.com/promoflow/promoflow/internal/observability"
	"github.com/promoflow/promoflow/internal/orchestrator"
	"github.com/promoflow/promoflow/internal/server"
)

// Create handles the full dependency injection and initialization of the
// engine components. The returned graph is not yet running; call Start on it.
func Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{
		Config: cfg,
		Logger: logger,
	}

	// Ensure partially created components are torn down if wiring fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	sink := observability.NewZapLogSink(logger)

	// 1. Ledger (optional). Without a database the engine runs purely in
	// memory, which is fine for development and tests.
	if cfg.Database().Enabled {
		if cfg.Database().URL == "" {
			initializationErr = fmt.Errorf("database URL is not configured (hint: check PROMOFLOW_DATABASE_URL)")
			return nil, initializationErr
		}
		dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = dbPool

		led, err := ledger.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize ledger: %w", err)
			return nil, initializationErr
		}
		if err := led.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Ledger = led
		logger.Debug("Ledger initialized.")
	} else {
		logger.Warn("Running without a database; state will not survive restarts.")
	}

	// 2. Arm registry and optimizer.
	registry := bandit.NewRegistry(cfg.Bandit(), logger, sink)
	if components.Ledger != nil {
		arms, err := components.Ledger.LoadArms(ctx)
		if err != nil {
			initializationErr = fmt.Errorf("failed to load arm snapshot: %w", err)
			return nil, initializationErr
		}
		registry.Restore(arms)
	}
	components.Registry = registry
	components.Optimizer = bandit.NewOptimizer(registry, cfg.Bandit(), logger)
	logger.Debug("Arm registry and optimizer initialized.")

	// 3. Spend governor.
	components.Governor = governor.New(cfg.Governor(), registry, logger, sink)
	logger.Debug("Spend governor initialized.")

	// 4. Funnel collaborators.
	generator := funnel.NewTemplateGenerator(logger, time.Now().UnixNano())
	renderer := funnel.NewStubRenderer(logger, "https://assets.promoflow.local")
	checker := funnel.NewRuleChecker(logger)
	components.Publisher = funnel.NewLimitedPublisher(cfg.Funnel(), logger)
	components.Gateway = funnel.NewInMemoryGateway(logger)
	logger.Debug("Funnel collaborators initialized.")

	// 5. Executors and orchestrator.
	executors := orchestrator.NewExecutors(
		generator, renderer, checker, components.Publisher, components.Gateway,
		registry, components.Optimizer, components.Governor,
		logger, cfg.Bandit().PromoteCount, cfg.Bandit().PromoteBudget,
	)
	orch, err := orchestrator.New(
		cfg.Scheduler(), executors.Map(), registry, components.Governor, logger, sink,
	)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	// Approval resolutions flow back into the task graph.
	components.Gateway.SetResolver(func(requestID string, approved bool) {
		if _, err := orch.ResolveApproval(requestID, approved); err != nil {
			logger.Warn("Approval resolution had no matching task",
				zap.String("approval_request_id", requestID),
				zap.Error(err),
			)
		}
	})
	logger.Debug("Orchestrator initialized.")

	// 6. Profit tracker.
	components.Tracker = analytics.NewTracker(
		registry, cfg.Scheduler().AnalyticsInterval, cfg.Scheduler().WindowCap, logger,
	)
	logger.Debug("Profit tracker initialized.")

	// 7. HTTP server.
	components.Server = server.New(
		cfg.Server(),
		registry, components.Optimizer, components.Governor, orch,
		components.Gateway, components.Tracker,
		logger,
	)
	logger.Debug("HTTP server initialized.")

	logger.Info("All engine components initialized successfully.",
		zap.Int("arms", registry.Len()),
		zap.Bool("persistent", components.Ledger != nil),
	)
	return components, nil
}
