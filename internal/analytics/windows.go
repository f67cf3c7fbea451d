// File: internal/analytics/windows.go
// Description: Rolling profit-window aggregation. On a fixed cadence the
// tracker snapshots cumulative portfolio totals and derives the per-window
// delta, keeping a bounded history for reporting and anomaly checks.

package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// PortfolioTotals supplies cumulative profit and spend across all arms.
type PortfolioTotals interface {
	Totals() (profit, spend float64)
}

// Tracker records profit windows from periodic snapshots of the portfolio.
type Tracker struct {
	source   PortfolioTotals
	logger   *zap.Logger
	interval time.Duration
	cap      int

	now func() time.Time

	mu         sync.Mutex
	windows    []schemas.ProfitWindow
	lastProfit float64
	lastSpend  float64
	lastAt     time.Time
	primed     bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a tracker that snapshots source every interval and keeps
// at most cap windows.
func NewTracker(source PortfolioTotals, interval time.Duration, cap int, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		logger:   logger.With(zap.String("component", "profit_tracker")),
		interval: interval,
		cap:      cap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot records one profit window covering the span since the previous
// snapshot. The first call only primes the baseline and records nothing.
func (t *Tracker) Snapshot() {
	profit, spend := t.source.Totals()
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.primed {
		t.lastProfit, t.lastSpend, t.lastAt = profit, spend, now
		t.primed = true
		return
	}

	window := schemas.ProfitWindow{
		WindowStart: t.lastAt,
		WindowEnd:   now,
		TotalProfit: profit - t.lastProfit,
		TotalSpend:  spend - t.lastSpend,
	}
	if window.TotalSpend > 0 {
		window.ROI = (window.TotalProfit + window.TotalSpend) / window.TotalSpend
	}

	t.windows = append(t.windows, window)
	if len(t.windows) > t.cap {
		t.windows = t.windows[len(t.windows)-t.cap:]
	}
	t.lastProfit, t.lastSpend, t.lastAt = profit, spend, now

	t.logger.Debug("Profit window recorded",
		zap.Float64("window_profit", window.TotalProfit),
		zap.Float64("window_spend", window.TotalSpend),
		zap.Float64("roi", window.ROI),
	)
}

// Windows returns a copy of the recorded history, oldest first.
func (t *Tracker) Windows() []schemas.ProfitWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schemas.ProfitWindow(nil), t.windows...)
}

// Summary aggregates the recorded windows into a single report.
func (t *Tracker) Summary() schemas.ProfitWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out schemas.ProfitWindow
	if len(t.windows) == 0 {
		return out
	}
	out.WindowStart = t.windows[0].WindowStart
	out.WindowEnd = t.windows[len(t.windows)-1].WindowEnd
	for _, w := range t.windows {
		out.TotalProfit += w.TotalProfit
		out.TotalSpend += w.TotalSpend
	}
	if out.TotalSpend > 0 {
		out.ROI = (out.TotalProfit + out.TotalSpend) / out.TotalSpend
	}
	return out
}

// Start snapshots on the configured cadence until Stop or ctx cancellation.
// The baseline is primed immediately so the first window covers a full
// interval.
func (t *Tracker) Start(ctx context.Context) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel != nil {
		t.logger.Warn("Tracker.Start called while already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.Snapshot()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.Snapshot()
			}
		}
	}()
}

// Stop halts the snapshot loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}
