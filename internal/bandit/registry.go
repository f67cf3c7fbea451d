// File: internal/bandit/registry.go
// Description: The arm registry owns per-arm performance statistics and the
// allocation weights the rest of the funnel reads. All mutation goes through
// the narrow Update/Rebalance/Prune contract.

package bandit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
)

// Registry holds the fixed universe of arms. The full cross-product of
// streams x platforms x hooks x styles is created at construction; arms are
// only ever removed by Prune, never created lazily.
type Registry struct {
	cfg    config.BanditConfig
	logger *zap.Logger
	sink   schemas.LogSink

	mu    sync.RWMutex
	arms  map[string]*schemas.Arm
	order []string // insertion order; exploration tie-breaks depend on it
}

// NewRegistry seeds the arm universe with uniform allocations and uniform
// Beta(1, 1) priors.
func NewRegistry(cfg config.BanditConfig, logger *zap.Logger, sink schemas.LogSink) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "arm_registry")),
		sink:   sink,
		arms:   make(map[string]*schemas.Arm),
	}

	now := time.Now().UTC()
	for _, stream := range cfg.Streams {
		for _, platform := range cfg.Platforms {
			for _, hook := range cfg.Hooks {
				for _, style := range cfg.Styles {
					id := schemas.ArmID(stream, platform, hook, style)
					r.arms[id] = &schemas.Arm{
						ID:            id,
						StreamKey:     stream,
						Platform:      platform,
						HookType:      hook,
						TemplateStyle: style,
						Alpha:         1,
						Beta:          1,
						LastUpdated:   now,
					}
					r.order = append(r.order, id)
				}
			}
		}
	}

	uniform := 0.0
	if len(r.order) > 0 {
		uniform = 1.0 / float64(len(r.order))
	}
	for _, arm := range r.arms {
		arm.Allocation = uniform
	}

	r.logger.Info("Arm universe seeded", zap.Int("arms", len(r.order)))
	return r
}

// Get returns a copy of the arm with the given id.
func (r *Registry) Get(armID string) (schemas.Arm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	arm, ok := r.arms[armID]
	if !ok {
		return schemas.Arm{}, fmt.Errorf("arm %q: %w", armID, schemas.ErrNotFound)
	}
	return *arm, nil
}

// List returns copies of every live arm in insertion order.
func (r *Registry) List() []schemas.Arm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schemas.Arm, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.arms[id])
	}
	return out
}

// Len returns the number of live arms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arms)
}

// Update accumulates performance deltas onto an arm, recomputes profit, and
// adjusts the Beta parameters by the sign of the arm's profit: profitable
// arms gain Alpha, unprofitable ones gain Beta. Credit assignment follows
// monetary outcome, not raw conversion counts.
func (r *Registry) Update(armID string, revenue, spend float64, clicks, conversions int64) (schemas.Arm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	arm, ok := r.arms[armID]
	if !ok {
		return schemas.Arm{}, fmt.Errorf("arm %q: %w", armID, schemas.ErrNotFound)
	}

	arm.Revenue += revenue
	arm.Spend += spend
	arm.Clicks += clicks
	arm.Conversions += conversions
	arm.Profit = arm.Revenue - arm.Spend

	if arm.Profit > 0 {
		arm.Alpha++
	} else {
		arm.Beta++
	}
	arm.LastUpdated = time.Now().UTC()

	return *arm, nil
}

// AddSpend charges executed promotion spend against an arm. It shares the
// Update path so the profit-sign belief adjustment applies uniformly.
func (r *Registry) AddSpend(armID string, amount float64) error {
	_, err := r.Update(armID, 0, amount, 0, 0)
	return err
}

// Rebalance recomputes allocation weights. Arms with positive profit share
// the budget proportionally above a small per-arm baseline floor; when no arm
// is profitable yet, every arm gets equal weight. Weights always sum to 1.
func (r *Registry) Rebalance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebalanceLocked()
}

func (r *Registry) rebalanceLocked() {
	n := len(r.order)
	if n == 0 {
		return
	}

	totalPositive := 0.0
	for _, id := range r.order {
		if p := r.arms[id].Profit; p > 0 {
			totalPositive += p
		}
	}

	if totalPositive == 0 {
		uniform := 1.0 / float64(n)
		for _, id := range r.order {
			r.arms[id].Allocation = uniform
		}
		return
	}

	baseline := r.cfg.BaselineWeight
	totalBaseline := baseline * float64(n)
	sum := 0.0
	for _, id := range r.order {
		arm := r.arms[id]
		share := math.Max(arm.Profit, 0) / totalPositive
		arm.Allocation = baseline + share*(1-totalBaseline)
		sum += arm.Allocation
	}

	// Renormalize so the weights sum to exactly 1 despite float error.
	for _, id := range r.order {
		r.arms[id].Allocation /= sum
	}
}

// Prune deletes arms whose profit sits below the configured negative
// threshold and that have collected at least the minimum sample count, then
// rebalances the survivors. Under-explored arms are never pruned. Returns the
// ids of the removed arms.
func (r *Registry) Prune() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []string
	kept := r.order[:0]
	for _, id := range r.order {
		arm := r.arms[id]
		if arm.Profit < r.cfg.PruneThreshold && arm.Clicks >= r.cfg.PruneMinSamples {
			delete(r.arms, id)
			pruned = append(pruned, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	if len(pruned) > 0 {
		r.rebalanceLocked()
		r.logger.Info("Pruned unprofitable arms", zap.Strings("arm_ids", pruned))
		r.sink.Record("arm_prune", "pruned sustained loss-making arms", "success", map[string]any{
			"pruned": pruned,
		})
	}
	return pruned
}

// Restore overwrites the stats of arms present in a persisted snapshot.
// Snapshot entries for arms outside the configured universe are skipped, so a
// shrunk configuration does not resurrect retired combinations.
func (r *Registry) Restore(arms []schemas.Arm) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, snap := range arms {
		arm, ok := r.arms[snap.ID]
		if !ok {
			continue
		}
		*arm = snap
		restored++
	}
	if restored > 0 {
		r.logger.Info("Arm stats restored from snapshot", zap.Int("arms", restored))
	}
	return restored
}

// Totals returns the aggregate profit and spend across live arms. Used by
// the profit-window aggregator.
func (r *Registry) Totals() (profit, spend float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, arm := range r.arms {
		profit += arm.Profit
		spend += arm.Spend
	}
	return profit, spend
}
