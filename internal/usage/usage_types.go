package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageData is the root structure persisted to usage.json.
type UsageData struct {
	Version   string          `json:"version"`
	Updated   time.Time       `json:"updated"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters broken down by dimension.
type AggregatedStats struct {
	TotalProject TokenCounts            `json:"total_project"`
	ByProvider   map[string]TokenCounts `json:"by_provider"`
	ByModel      map[string]TokenCounts `json:"by_model"`
	ByOperation  map[string]TokenCounts `json:"by_operation"` // screen, code, ...
	ByRun        map[string]TokenCounts `json:"by_run"`
}

// TokenCounts holds token sums, the call count and the estimated cost in USD.
type TokenCounts struct {
	Input  int64           `json:"input"`
	Output int64           `json:"output"`
	Total  int64           `json:"total"`
	Calls  int64           `json:"calls"`
	Cost   decimal.Decimal `json:"cost_usd"`
}

// Add records one call.
func (tc *TokenCounts) Add(input, output int, cost decimal.Decimal) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
	tc.Calls++
	tc.Cost = tc.Cost.Add(cost)
}

// SummaryRow is one line of the cost report.
type SummaryRow struct {
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalTokens  int64           `json:"total_tokens"`
	TotalCalls   int64           `json:"total_calls"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

// TotalKey labels the grand-total row.
const TotalKey = "_TOTAL"
