package usage

import (
	"sync"

	"github.com/shopspring/decimal"

	"litreview/internal/logging"
)

// Price is USD per million tokens.
type Price struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

func price(in, out string) Price {
	return Price{Input: decimal.RequireFromString(in), Output: decimal.RequireFromString(out)}
}

// Pricing lists the models the pipeline is known to call.
var Pricing = map[string]Price{
	"claude-sonnet-4-5-20250929": price("3", "15"),
	"claude-opus-4-6":            price("15", "75"),
	"gpt-4o":                     price("2.5", "10"),
	"gpt-4-turbo":                price("10", "30"),
	"gemini-2.5-flash":           price("0.30", "2.50"),
}

var (
	million    = decimal.NewFromInt(1_000_000)
	unknownMu  sync.Mutex
	unknownSet = map[string]bool{}
)

// Cost returns the USD cost of a call. Unknown models cost zero and are
// reported once per process.
func Cost(model string, input, output int) decimal.Decimal {
	p, ok := Pricing[model]
	if !ok {
		unknownMu.Lock()
		if !unknownSet[model] {
			unknownSet[model] = true
			logging.UsageWarn("No pricing for model %q; cost recorded as 0", model)
		}
		unknownMu.Unlock()
		return decimal.Zero
	}
	in := decimal.NewFromInt(int64(input)).Mul(p.Input)
	out := decimal.NewFromInt(int64(output)).Mul(p.Output)
	return in.Add(out).Div(million)
}
