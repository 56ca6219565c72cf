package engine

import (
	"github.com/shopspring/decimal"
)

// Rollover detection bands. A backwards counter move is treated as a wrap
// only when the previous reading sat near the counter ceiling and the new
// one sits near zero.
var (
	rolloverHighBand = decimal.NewFromFloat(0.9)
	rolloverLowBand  = decimal.NewFromFloat(0.1)
)

// SafeConsumption computes the consumed delta between two counter readings,
// accounting for counter rollover.
//
// A nil previous means the meter has no history yet; the current value is
// taken as the consumption baseline. When the counter moved backwards, the
// wrap formula (limit - previous) + current applies only if the meter has a
// rollover limit, the previous reading was above 90% of it and the current
// reading is below 10% of it. Any other backwards move is reported as an
// invalid consumption.
func SafeConsumption(meterID uint, metric string, current decimal.Decimal, previous, rolloverLimit *decimal.Decimal) (decimal.Decimal, error) {
	if previous == nil {
		return current, nil
	}
	if current.GreaterThanOrEqual(*previous) {
		return current.Sub(*previous), nil
	}

	if rolloverLimit != nil && rolloverLimit.IsPositive() &&
		previous.GreaterThan(rolloverLimit.Mul(rolloverHighBand)) &&
		current.LessThan(rolloverLimit.Mul(rolloverLowBand)) {
		return rolloverLimit.Sub(*previous).Add(current), nil
	}

	return decimal.Zero, &ConsumptionError{
		MeterID:  meterID,
		Metric:   metric,
		Previous: *previous,
		Current:  current,
		Detail:   "counter moved backwards without rollover",
	}
}
