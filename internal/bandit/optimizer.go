// File: internal/bandit/optimizer.go
// Description: Thompson Sampling arm selection with an explicit exploration
// quota, so cold arms keep collecting data even when their scores lag.

package bandit

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
)

// Optimizer selects the arms to fund in the next funnel cycle.
type Optimizer struct {
	registry *Registry
	cfg      config.BanditConfig
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithSeed fixes the sampler's random seed. Tests use this for reproducible
// selections.
func WithSeed(seed int64) Option {
	return func(o *Optimizer) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// NewOptimizer builds an optimizer over the given registry.
func NewOptimizer(registry *Registry, cfg config.BanditConfig, logger *zap.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "bandit_optimizer")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type scoredArm struct {
	arm      schemas.Arm
	score    float64
	insertAt int
}

// SelectArms returns up to count arms to fund this cycle, ordered by
// penalized sample score. A quota of ceil(count * explorationRate) slots is
// reserved for the least-clicked arms regardless of score; the rest are
// filled by Thompson Sampling rank. The result is shorter than count only
// when the registry itself holds fewer arms.
func (o *Optimizer) SelectArms(count int) []schemas.Arm {
	if count <= 0 {
		return nil
	}

	arms := o.registry.List()
	if len(arms) == 0 {
		return nil
	}
	if count > len(arms) {
		count = len(arms)
	}

	scored := make([]scoredArm, len(arms))
	o.mu.Lock()
	for i, arm := range arms {
		s := sampleBeta(o.rng, arm.Alpha, arm.Beta)
		// Loss-making arms are deprioritized but never excluded outright.
		if arm.Profit < 0 {
			s *= o.cfg.LossPenalty
		}
		scored[i] = scoredArm{arm: arm, score: s, insertAt: i}
	}
	o.mu.Unlock()

	// Exploitation rank: score descending, arm id ascending on ties so test
	// runs are deterministic.
	ranked := make([]scoredArm, len(scored))
	copy(ranked, scored)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].arm.ID < ranked[j].arm.ID
	})

	// Exploration rank: fewest clicks first, insertion order on ties.
	byClicks := make([]scoredArm, len(scored))
	copy(byClicks, scored)
	sort.SliceStable(byClicks, func(i, j int) bool {
		return byClicks[i].arm.Clicks < byClicks[j].arm.Clicks
	})

	quota := int(math.Ceil(float64(count) * o.cfg.ExplorationRate))
	if quota > count {
		quota = count
	}

	selected := make(map[string]scoredArm, count)
	for _, sa := range byClicks[:quota] {
		selected[sa.arm.ID] = sa
	}
	for _, sa := range ranked {
		if len(selected) == count {
			break
		}
		if _, ok := selected[sa.arm.ID]; ok {
			continue
		}
		selected[sa.arm.ID] = sa
	}

	final := make([]scoredArm, 0, len(selected))
	for _, sa := range selected {
		final = append(final, sa)
	}
	sort.Slice(final, func(i, j int) bool {
		if final[i].score != final[j].score {
			return final[i].score > final[j].score
		}
		return final[i].arm.ID < final[j].arm.ID
	})

	out := make([]schemas.Arm, len(final))
	for i, sa := range final {
		out[i] = sa.arm
	}

	o.logger.Debug("Selected arms for cycle",
		zap.Int("requested", count),
		zap.Int("selected", len(out)),
		zap.Int("exploration_quota", quota),
	)
	return out
}
