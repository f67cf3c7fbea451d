// File: internal/service/components.go
// Description: Holds the fully wired component graph for a running engine and
// owns its lifecycle: background loops, the persistence flush, and ordered
// shutdown.

package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/internal/analytics"
	"github.com/promoflow/promoflow/internal/bandit"
	"github.com/promoflow/promoflow/internal/config"
	"github.com/promoflow/promoflow/internal/funnel"
	"github.com/promoflow/promoflow/internal/governor"
	"github.com/promoflow/promoflow/internal/ledger"
	"github.com/promoflow/promoflow/internal/orchestrator"
	"github.com/promoflow/promoflow/internal/server"
)

// Components is the assembled engine. Create builds it; Start and Shutdown
// manage its lifecycle.
type Components struct {
	Config config.Interface
	Logger *zap.Logger

	DBPool *pgxpool.Pool
	Ledger *ledger.Ledger

	Registry     *bandit.Registry
	Optimizer    *bandit.Optimizer
	Governor     *governor.Governor
	Orchestrator *orchestrator.Orchestrator
	Tracker      *analytics.Tracker
	Gateway      *funnel.InMemoryGateway
	Publisher    *funnel.LimitedPublisher
	Server       *server.Server

	persistMu     sync.Mutex
	persistCancel context.CancelFunc
	persistDone   chan struct{}
}

// Start launches the scheduling loop, the profit tracker, and, when a ledger
// is configured, the periodic persistence flush.
func (c *Components) Start(ctx context.Context) {
	c.Orchestrator.Start(ctx)
	c.Tracker.Start(ctx)
	if c.Ledger != nil {
		c.startPersistence(ctx)
	}
	c.Logger.Info("Engine started")
}

func (c *Components) startPersistence(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.persistCancel != nil {
		return
	}

	interval := c.Config.Scheduler().AnalyticsInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.persistCancel = cancel
	c.persistDone = make(chan struct{})

	go func() {
		defer close(c.persistDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.Flush(runCtx)
			}
		}
	}()
}

// Flush writes the current engine state to the ledger: the arm portfolio,
// every tracked decision, and the profit window history. Errors are logged,
// never fatal; the in-memory state stays authoritative.
func (c *Components) Flush(ctx context.Context) {
	if c.Ledger == nil {
		return
	}

	if err := c.Ledger.SnapshotArms(ctx, c.Registry.List()); err != nil {
		c.Logger.Error("Failed to persist arm snapshot", zap.Error(err))
	}
	for _, d := range c.Governor.Decisions() {
		if err := c.Ledger.SaveDecision(ctx, d); err != nil {
			c.Logger.Error("Failed to persist decision", zap.String("decision_id", d.ID), zap.Error(err))
		}
	}
	for _, w := range c.Tracker.Windows() {
		if err := c.Ledger.SaveWindow(ctx, w); err != nil {
			c.Logger.Error("Failed to persist profit window", zap.Error(err))
		}
	}
}

// Shutdown stops the background loops, runs one final flush, and releases
// the database pool.
func (c *Components) Shutdown() {
	c.persistMu.Lock()
	if c.persistCancel != nil {
		c.persistCancel()
		<-c.persistDone
		c.persistCancel = nil
		c.persistDone = nil
	}
	c.persistMu.Unlock()

	if c.Orchestrator != nil {
		c.Orchestrator.Stop()
	}
	if c.Tracker != nil {
		c.Tracker.Stop()
	}

	if c.Ledger != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		c.Flush(flushCtx)
		cancel()
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	c.Logger.Info("Engine stopped")
}
