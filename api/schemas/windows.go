// File: api/schemas/windows.go
package schemas

import "time"

// ProfitWindow is a rolling aggregate of funnel profitability, appended at a
// fixed interval and capped to the most recent 24h of history. The allocator
// only ever reads these; the periodic aggregator only ever writes them.
type ProfitWindow struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	TotalProfit float64   `json:"total_profit"`
	TotalSpend  float64   `json:"total_spend"`
	ROI         float64   `json:"roi"`
}
