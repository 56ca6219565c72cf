package engine

import (
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/shopspring/decimal"
)

// Aggregate rolls the calculator rows up into the summary totals.
//
// Pre-summed aggregate rows are excluded from total_cost so component and
// total costs are not double counted. Component rows are excluded from
// total_consumption so electricity consumption is counted once, through the
// aggregate row. Single-row energy types carry neither flag and contribute
// to both totals.
func Aggregate(rows []Row) (totalConsumption, totalCost decimal.Decimal) {
	totalConsumption = decimal.Zero
	totalCost = decimal.Zero
	for _, r := range rows {
		if !r.IsAggregate {
			totalCost = totalCost.Add(r.Cost)
		}
		if !r.IsComponent {
			totalConsumption = totalConsumption.Add(r.Consumption)
		}
	}
	return totalConsumption, totalCost
}

// toDetails converts calculator rows to summary detail rows.
func toDetails(rows []Row) []storage.SummaryDetail {
	out := make([]storage.SummaryDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.SummaryDetail{
			Source:          storage.SourceCalc,
			MetricName:      r.MetricName,
			CurrentReading:  r.CurrentReading,
			PreviousReading: r.PreviousReading,
			Consumption:     r.Consumption,
			Cost:            r.Cost,
			RemainingStock:  r.RemainingStock,
			WBPValue:        r.WBPValue,
			LWBPValue:       r.LWBPValue,
		})
	}
	return out
}
