package engine

import (
	"context"
	"fmt"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/shopspring/decimal"
)

// lowFuelThresholdCm is the dipstick height below which a low-fuel alert
// fires.
var lowFuelThresholdCm = decimal.NewFromInt(20)

// fuelCalculator handles dipstick-read tank meters. Readings are heights in
// centimeters; tank geometry converts height drops to liters.
type fuelCalculator struct{}

func (fuelCalculator) Calculate(ctx context.Context, in CalcInput) ([]Row, []alerting.Intent, error) {
	m := in.Meter
	if m.TankHeightCm == nil || m.TankVolumeLiters == nil || !m.TankHeightCm.IsPositive() {
		return nil, nil, &ConfigError{MeterID: m.ID, Field: "tank_geometry", Detail: "fuel meter without tank height/volume"}
	}
	litersPerCm := m.TankVolumeLiters.Div(*m.TankHeightCm)

	rt, err := in.Store.GetPrimaryReadingType(ctx, m.EnergyTypeID)
	if err != nil {
		return nil, nil, &ConfigError{MeterID: m.ID, Field: "reading_types", Detail: "no reading type registered for fuel"}
	}
	current := in.Current.DetailValue(rt.ID)
	if current == nil {
		return nil, nil, &UpstreamError{MeterID: m.ID, What: fmt.Sprintf("session %d has no height reading", in.Current.ID)}
	}
	previous := in.Previous.DetailValue(rt.ID)

	rate, ok := in.Rates.RateFor(rt.ID)
	if !ok {
		return nil, nil, &UpstreamError{MeterID: m.ID, What: fmt.Sprintf("scheme %d has no fuel rate", in.Rates.Scheme.ID)}
	}

	var intents []alerting.Intent
	consumption := decimal.Zero
	refilled := false

	switch {
	case previous == nil:
		// Day-one baseline row: no history to diff against.
		refilled = current.Equal(*m.TankHeightCm)

	case current.LessThan(*previous):
		drop := previous.Sub(*current)
		consumption = drop.Mul(litersPerCm)
		if current.LessThan(lowFuelThresholdCm) && previous.GreaterThanOrEqual(lowFuelThresholdCm) {
			intents = append(intents, intent(m, in.Day, alerting.ReasonLowFuel, "warning",
				fmt.Sprintf("Low fuel on %s", m.Name),
				fmt.Sprintf("Tank level dropped to %s cm, below the %s cm threshold.", current, lowFuelThresholdCm),
				*current))
		}

	case current.Equal(*previous):
		// Level held, nothing consumed.

	default:
		// Level rose: a delivery, not consumption.
		refilled = current.Equal(*m.TankHeightCm)
		intents = append(intents, intent(m, in.Day, alerting.ReasonLowFuelResolved, "info",
			fmt.Sprintf("Fuel level restored on %s", m.Name),
			fmt.Sprintf("Tank level is back at %s cm.", current),
			*current))
	}

	if refilled {
		consumption = decimal.Zero
		intents = append(intents, intent(m, in.Day, alerting.ReasonFullRefill, "info",
			"Pengisian Penuh",
			fmt.Sprintf("Tank %s was refilled to capacity (%s cm).", m.Name, current),
			*current))
	}

	remaining := current.Mul(litersPerCm)
	row := Row{
		MetricName:     fmt.Sprintf("Pemakaian Harian (%s)", m.EnergyType.Name),
		CurrentReading: *current,
		Consumption:    consumption,
		Cost:           consumption.Mul(rate),
		RemainingStock: &remaining,
	}
	if previous != nil {
		row.PreviousReading = *previous
	}
	return []Row{row}, intents, nil
}
