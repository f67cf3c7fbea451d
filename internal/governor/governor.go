// File: internal/governor/governor.go
// Description: The spend governor turns promotion spend proposals into
// risk-classified decisions, auto-executes the safe ones, and queues the
// risky ones for human approval against a rolling daily budget.

package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
)

// ArmAccountant is the slice of the arm registry the governor needs: lookup
// for validation and spend application on execution.
type ArmAccountant interface {
	Get(armID string) (schemas.Arm, error)
	AddSpend(armID string, amount float64) error
}

// Governor evaluates and executes spend decisions. All state is guarded by a
// single mutex; the daily budget resets lazily on the first call after a UTC
// day rollover, so no timer is needed.
type Governor struct {
	cfg    config.GovernorConfig
	logger *zap.Logger
	sink   schemas.LogSink
	arms   ArmAccountant

	// now is swapped in tests to drive day rollovers.
	now func() time.Time

	mu         sync.Mutex
	decisions  map[string]*schemas.SpendDecision
	spentToday float64
	lastReset  time.Time
	stopped    bool
	stopReason string
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the governor's time source. Tests use this to simulate
// day rollovers without waiting on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New builds a governor over the given arm accountant.
func New(cfg config.GovernorConfig, arms ArmAccountant, logger *zap.Logger, sink schemas.LogSink, opts ...Option) *Governor {
	g := &Governor{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "spend_governor")),
		sink:      sink,
		arms:      arms,
		now:       time.Now,
		decisions: make(map[string]*schemas.SpendDecision),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastReset = dayStart(g.now())
	return g
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// maybeResetLocked zeroes the running daily total when the UTC day has
// rolled over since the last call. Caller must hold g.mu.
func (g *Governor) maybeResetLocked() {
	today := dayStart(g.now())
	if today.After(g.lastReset) {
		g.logger.Info("Daily budget reset",
			zap.Float64("previous_total", g.spentToday),
			zap.Time("day", today),
		)
		g.spentToday = 0
		g.lastReset = today
	}
}

// Evaluate classifies a spend proposal for an arm. Safe proposals are
// approved and executed synchronously within this call; everything else is
// stored pending for external resolution. While the emergency stop is
// engaged no proposal is auto-executed, whatever its risk.
func (g *Governor) Evaluate(armID string, proposedSpend, expectedRevenue float64, platform string) (schemas.SpendDecision, error) {
	if proposedSpend <= 0 {
		return schemas.SpendDecision{}, fmt.Errorf("proposed spend must be positive: %w", schemas.ErrInvalidState)
	}
	if _, err := g.arms.Get(armID); err != nil {
		return schemas.SpendDecision{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	roi := expectedRevenue / proposedSpend
	budgetRatio := proposedSpend / g.cfg.DailyBudget
	platformRatio := proposedSpend / g.cfg.PlatformLimit(platform)

	risk := schemas.RiskLow
	switch {
	case roi < 1.2 || budgetRatio > 0.3 || platformRatio > 0.5:
		risk = schemas.RiskHigh
	case roi < 2.0 || budgetRatio > 0.15 || platformRatio > 0.25:
		risk = schemas.RiskMedium
	}

	decisionType := schemas.DecisionAutomatic
	switch {
	case risk == schemas.RiskHigh || roi < 1.0:
		decisionType = schemas.DecisionEmergencyStop
	case proposedSpend >= g.cfg.ApprovalThreshold || risk == schemas.RiskMedium:
		decisionType = schemas.DecisionRequiresApproval
	}

	reason := ""
	if g.stopped && decisionType == schemas.DecisionAutomatic {
		// Automatic spend is disabled while stopped; the proposal survives
		// but needs a human to push it through.
		decisionType = schemas.DecisionRequiresApproval
		reason = "automatic spend disabled by emergency stop: " + g.stopReason
	}

	now := g.now().UTC()
	decision := &schemas.SpendDecision{
		ID:               uuid.New().String(),
		Type:             decisionType,
		Amount:           proposedSpend,
		ArmID:            armID,
		Platform:         platform,
		Risk:             risk,
		ExpectedROI:      roi,
		ApprovalRequired: decisionType != schemas.DecisionAutomatic,
		Status:           schemas.DecisionPending,
		Reason:           reason,
		CreatedAt:        now,
	}
	g.decisions[decision.ID] = decision

	if decision.Type == schemas.DecisionAutomatic && !decision.ApprovalRequired {
		decision.Status = schemas.DecisionApproved
		decision.ApprovedBy = schemas.SystemApprover
		decision.ResolvedAt = now
		if err := g.executeLocked(decision); err != nil {
			// No operator knows about an auto-approved decision, so a failed
			// charge must land in a terminal status or it lingers forever.
			decision.Status = schemas.DecisionRejected
			decision.Reason = "auto-execution failed: " + err.Error()
			decision.ResolvedAt = g.now().UTC()
			g.logger.Warn("Automatic spend rolled back",
				zap.String("decision_id", decision.ID),
				zap.Error(err),
			)
			return *decision, err
		}
	}

	g.sink.Record("spend_decision", "spend proposal evaluated", "success", map[string]any{
		"decision_id": decision.ID,
		"arm_id":      armID,
		"type":        string(decision.Type),
		"risk":        string(decision.Risk),
		"amount":      proposedSpend,
		"roi":         roi,
	})
	return *decision, nil
}

// executeLocked applies an approved decision: the amount lands on the daily
// total and on the target arm's cumulative spend exactly once. Caller must
// hold g.mu.
func (g *Governor) executeLocked(d *schemas.SpendDecision) error {
	if d.Status != schemas.DecisionApproved {
		return fmt.Errorf("decision %s is %s, want approved: %w", d.ID, d.Status, schemas.ErrInvalidState)
	}
	if err := g.arms.AddSpend(d.ArmID, d.Amount); err != nil {
		return fmt.Errorf("charging arm for decision %s: %w", d.ID, err)
	}
	g.spentToday += d.Amount
	d.Status = schemas.DecisionExecuted
	d.ExecutedAt = g.now().UTC()

	g.logger.Info("Spend executed",
		zap.String("decision_id", d.ID),
		zap.String("arm_id", d.ArmID),
		zap.Float64("amount", d.Amount),
		zap.Float64("spent_today", g.spentToday),
	)
	return nil
}

// Execute runs an approved decision. Calling it on anything but an approved
// decision fails with ErrInvalidState, so double execution is impossible.
func (g *Governor) Execute(decisionID string) (schemas.SpendDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	if g.stopped {
		return schemas.SpendDecision{}, fmt.Errorf("spend execution refused: %w", schemas.ErrEmergencyStopped)
	}
	d, ok := g.decisions[decisionID]
	if !ok {
		return schemas.SpendDecision{}, fmt.Errorf("decision %q: %w", decisionID, schemas.ErrNotFound)
	}
	if err := g.executeLocked(d); err != nil {
		return schemas.SpendDecision{}, err
	}
	return *d, nil
}

// Approve marks a pending decision approved on behalf of the given approver.
// Execution is a separate step so the daily total only moves on Execute.
func (g *Governor) Approve(decisionID, approver string) (schemas.SpendDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	d, ok := g.decisions[decisionID]
	if !ok {
		return schemas.SpendDecision{}, fmt.Errorf("decision %q: %w", decisionID, schemas.ErrNotFound)
	}
	if d.Status != schemas.DecisionPending {
		return schemas.SpendDecision{}, fmt.Errorf("decision %s is %s, want pending: %w", d.ID, d.Status, schemas.ErrInvalidState)
	}
	if g.stopped {
		return schemas.SpendDecision{}, fmt.Errorf("approval refused: %w", schemas.ErrEmergencyStopped)
	}

	d.Status = schemas.DecisionApproved
	d.ApprovedBy = approver
	d.ResolvedAt = g.now().UTC()

	g.sink.Record("spend_decision", "decision approved", "success", map[string]any{
		"decision_id": d.ID,
		"approver":    approver,
	})
	return *d, nil
}

// Reject marks a pending decision rejected. Rejected decisions are never
// executed.
func (g *Governor) Reject(decisionID, approver string) (schemas.SpendDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[decisionID]
	if !ok {
		return schemas.SpendDecision{}, fmt.Errorf("decision %q: %w", decisionID, schemas.ErrNotFound)
	}
	if d.Status != schemas.DecisionPending {
		return schemas.SpendDecision{}, fmt.Errorf("decision %s is %s, want pending: %w", d.ID, d.Status, schemas.ErrInvalidState)
	}

	d.Status = schemas.DecisionRejected
	d.ApprovedBy = approver
	d.ResolvedAt = g.now().UTC()

	g.sink.Record("spend_decision", "decision rejected", "success", map[string]any{
		"decision_id": d.ID,
		"approver":    approver,
	})
	return *d, nil
}

// Get returns a copy of a decision by id.
func (g *Governor) Get(decisionID string) (schemas.SpendDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decisions[decisionID]
	if !ok {
		return schemas.SpendDecision{}, fmt.Errorf("decision %q: %w", decisionID, schemas.ErrNotFound)
	}
	return *d, nil
}

// Decisions returns copies of every tracked decision, for persistence and
// reporting. Order is unspecified.
func (g *Governor) Decisions() []schemas.SpendDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]schemas.SpendDecision, 0, len(g.decisions))
	for _, d := range g.decisions {
		out = append(out, *d)
	}
	return out
}

// Pending returns copies of all unresolved decisions.
func (g *Governor) Pending() []schemas.SpendDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []schemas.SpendDecision
	for _, d := range g.decisions {
		if d.Status == schemas.DecisionPending {
			out = append(out, *d)
		}
	}
	return out
}

// GetBudgetStatus reports the rolling daily budget, applying the lazy reset
// first so callers never see yesterday's total.
func (g *Governor) GetBudgetStatus() schemas.BudgetStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	pending := 0
	for _, d := range g.decisions {
		if d.Status == schemas.DecisionPending {
			pending++
		}
	}
	return schemas.BudgetStatus{
		DailyBudget:      g.cfg.DailyBudget,
		SpentToday:       g.spentToday,
		Remaining:        g.cfg.DailyBudget - g.spentToday,
		PendingDecisions: pending,
		EmergencyStopped: g.stopped,
		StopReason:       g.stopReason,
		LastReset:        g.lastReset,
	}
}

// EmergencyStop rejects every pending decision and disables automatic spend.
// The stop never clears itself; a separate Resume call is required.
func (g *Governor) EmergencyStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	g.stopReason = reason

	now := g.now().UTC()
	cleared := 0
	for _, d := range g.decisions {
		if d.Status != schemas.DecisionPending {
			continue
		}
		d.Status = schemas.DecisionRejected
		d.ApprovedBy = "emergency_stop"
		d.Reason = reason
		d.ResolvedAt = now
		cleared++
	}

	g.logger.Warn("Emergency stop engaged",
		zap.String("reason", reason),
		zap.Int("cleared_decisions", cleared),
	)
	g.sink.Record("emergency_stop", "spend governor halted", "success", map[string]any{
		"reason":  reason,
		"cleared": cleared,
	})
}

// Resume re-enables spend execution. It does not resurrect decisions cleared
// by the stop.
func (g *Governor) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = false
	g.stopReason = ""
	g.logger.Info("Spend governor resumed")
}

// GC drops resolved decisions older than the retention window. Pending and
// approved decisions are always kept.
func (g *Governor) GC(retention time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().UTC().Add(-retention)
	removed := 0
	for id, d := range g.decisions {
		terminal := d.Status == schemas.DecisionExecuted || d.Status == schemas.DecisionRejected
		if terminal && !d.ResolvedAt.IsZero() && d.ResolvedAt.Before(cutoff) {
			delete(g.decisions, id)
			removed++
		}
	}
	return removed
}
