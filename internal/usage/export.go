package usage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Summary returns one row per model, sorted by name, followed by the
// _TOTAL row. Costs are rounded to four places.
func (t *Tracker) Summary() []SummaryRow {
	stats := t.Stats()
	return summarize(stats.ByModel)
}

func summarize(byModel map[string]TokenCounts) []SummaryRow {
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)

	rows := make([]SummaryRow, 0, len(models)+1)
	total := SummaryRow{Model: TotalKey, TotalCost: decimal.Zero}
	for _, m := range models {
		c := byModel[m]
		row := SummaryRow{
			Model:        m,
			InputTokens:  c.Input,
			OutputTokens: c.Output,
			TotalTokens:  c.Total,
			TotalCalls:   c.Calls,
			TotalCost:    c.Cost.Round(4),
		}
		rows = append(rows, row)

		total.InputTokens += row.InputTokens
		total.OutputTokens += row.OutputTokens
		total.TotalTokens += row.TotalTokens
		total.TotalCalls += row.TotalCalls
		total.TotalCost = total.TotalCost.Add(row.TotalCost)
	}
	return append(rows, total)
}

var csvHeader = []string{"Model", "Input Tokens", "Output Tokens", "Total Tokens", "Total Calls", "Total Cost ($)"}

// WriteCSV exports the summary as CSV.
func (t *Tracker) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range t.Summary() {
		err := cw.Write([]string{
			r.Model,
			strconv.FormatInt(r.InputTokens, 10),
			strconv.FormatInt(r.OutputTokens, 10),
			strconv.FormatInt(r.TotalTokens, 10),
			strconv.FormatInt(r.TotalCalls, 10),
			r.TotalCost.StringFixed(4),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonExport struct {
	ExportTimestamp string                `json:"export_timestamp"`
	UsageSummary    map[string]SummaryRow `json:"usage_summary"`
}

// WriteJSON exports the summary keyed by model, with the _TOTAL entry.
func (t *Tracker) WriteJSON(w io.Writer) error {
	rows := t.Summary()
	out := jsonExport{
		ExportTimestamp: t.now().UTC().Format(time.RFC3339),
		UsageSummary:    make(map[string]SummaryRow, len(rows)),
	}
	for _, r := range rows {
		out.UsageSummary[r.Model] = r
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
