// File: api/schemas/arms.go
package schemas

import (
	"fmt"
	"time"
)

// Arm is one (stream, platform, hook, template) combination being evaluated
// for profitability. The full cross-product of combinations is seeded at
// startup; arms are never created lazily.
type Arm struct {
	ID            string `json:"id"`
	StreamKey     string `json:"stream_key"`
	Platform      string `json:"platform"`
	HookType      string `json:"hook_type"`
	TemplateStyle string `json:"template_style"`

	// Cumulative performance counters.
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Spend       float64 `json:"spend"`

	// Profit is always Revenue - Spend; maintained by the registry on update.
	Profit float64 `json:"profit"`

	// Allocation is this arm's share of the funnel budget. Allocations across
	// the live registry always sum to 1.
	Allocation float64 `json:"allocation"`

	// Beta-distribution belief parameters. Credit assignment is by profit
	// sign, not raw conversion counts: a profitable update increments Alpha,
	// an unprofitable one increments Beta.
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`

	LastUpdated time.Time `json:"last_updated"`
}

// ArmID builds the canonical identifier for an arm combination.
func ArmID(streamKey, platform, hookType, templateStyle string) string {
	return fmt.Sprintf("%s:%s:%s:%s", streamKey, platform, hookType, templateStyle)
}
